package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// DeviceEvent is a change observed between two refreshes
type DeviceEvent int

const (
	DeviceAdded DeviceEvent = iota
	DeviceRemoved
	DeviceStatusChanged
)

func (e DeviceEvent) String() string {
	switch e {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	case DeviceStatusChanged:
		return "status_changed"
	default:
		return "unknown"
	}
}

// DeviceCallback is called for every device event of a refresh
type DeviceCallback func(event DeviceEvent, device models.Device)

// RefresherConfig holds configuration for periodic discovery
type RefresherConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Refresher re-runs device discovery on an interval and reports which
// devices appeared, disappeared or changed status.
type Refresher struct {
	config    *RefresherConfig
	fleet     *Fleet
	logger    *slog.Logger
	callbacks []DeviceCallback

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher for f. A nil config refreshes every 30s.
func NewRefresher(f *Fleet, config *RefresherConfig, logger *slog.Logger) *Refresher {
	if config == nil || config.Interval <= 0 {
		config = &RefresherConfig{Interval: 30 * time.Second}
	}
	return &Refresher{
		config: config,
		fleet:  f,
		logger: logger,
	}
}

// AddCallback registers a callback for device events. Call before Start.
func (r *Refresher) AddCallback(cb DeviceCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Start begins the refresh loop
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("refresher already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx, r.done)

	r.logger.Info("Device refresher started", "interval", r.config.Interval)
	return nil
}

// Stop ends the refresh loop and waits for it to exit
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("Device refresher stopped")
}

func (r *Refresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("Periodic device refresh failed", "error", err)
			}
		}
	}
}

// RefreshOnce refreshes the fleet and dispatches the resulting events
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	before := r.fleet.registry.List()
	if _, err := r.fleet.Refresh(ctx); err != nil {
		return err
	}
	after := r.fleet.registry.List()

	r.mu.Lock()
	callbacks := append([]DeviceCallback(nil), r.callbacks...)
	r.mu.Unlock()

	for _, change := range diffDevices(before, after) {
		r.logger.Info("Device change detected", "event", change.event, "device_id", change.device.ID, "status", change.device.Status)
		for _, cb := range callbacks {
			cb(change.event, change.device)
		}
	}
	return nil
}

type deviceChange struct {
	event  DeviceEvent
	device models.Device
}

// diffDevices lists removals first, then additions and status changes in
// the order of the new device set.
func diffDevices(before, after []models.Device) []deviceChange {
	previous := make(map[string]models.Device, len(before))
	for _, device := range before {
		previous[device.ID] = device
	}
	current := make(map[string]bool, len(after))
	for _, device := range after {
		current[device.ID] = true
	}

	var changes []deviceChange
	for _, device := range before {
		if !current[device.ID] {
			changes = append(changes, deviceChange{DeviceRemoved, device})
		}
	}
	for _, device := range after {
		old, existed := previous[device.ID]
		switch {
		case !existed:
			changes = append(changes, deviceChange{DeviceAdded, device})
		case old.Status != device.Status:
			changes = append(changes, deviceChange{DeviceStatusChanged, device})
		}
	}
	return changes
}
