// Package fleet tracks which proxy users are bound to which uplink modem,
// spreads users across the modems, and keeps a bounded history of public
// address rotations together with the advisories sent to affected users.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// Config holds the collaborators and settings of a Fleet
type Config struct {
	Discoverer      Discoverer
	AssignmentStore Persister
	HistoryStore    Persister
	HistoryLimit    int
	// GatewayAddress is handed out to users without a dedicated device.
	GatewayAddress string
	Notifier       Notifier
}

// FleetView is the device listing served to the dashboard
type FleetView struct {
	Devices       []models.DeviceLoad `json:"devices"`
	TotalDevices  int                 `json:"total_devices"`
	ActiveDevices int                 `json:"active_devices"`
	RefreshedAt   time.Time           `json:"refreshed_at"`
}

// RotationResult is what a recorded rotation produced
type RotationResult struct {
	Record       models.IPChangeRecord `json:"record"`
	Notification models.Notification   `json:"notification"`
}

// Fleet wires the registry, assignment store, allocator and IP tracker
// together and coordinates address rotations.
type Fleet struct {
	registry    *Registry
	assignments *AssignmentStore
	allocator   *Allocator
	tracker     *IPTracker
	discoverer  Discoverer
	notifier    Notifier
	gateway     string
	metrics     Metrics
	logger      *slog.Logger

	// rotateMu keeps two rotations of the fleet from reading the same
	// prior address. Lock order: rotateMu, then tracker, then registry.
	rotateMu sync.Mutex
}

// New discovers the devices and loads the persisted state
func New(ctx context.Context, config *Config, logger *slog.Logger, opts ...Option) (*Fleet, error) {
	if config == nil || config.Discoverer == nil {
		return nil, errors.New("fleet: discoverer is required")
	}
	if config.AssignmentStore == nil || config.HistoryStore == nil {
		return nil, errors.New("fleet: assignment and history stores are required")
	}

	o := buildOptions(opts)

	f := &Fleet{
		registry:   NewRegistry(logger),
		discoverer: config.Discoverer,
		notifier:   config.Notifier,
		gateway:    config.GatewayAddress,
		metrics:    o.metrics,
		logger:     logger,
	}
	if f.notifier == nil {
		f.notifier = NewLogNotifier(logger)
	}

	if _, err := f.Refresh(ctx); err != nil {
		return nil, err
	}

	var err error
	f.assignments, err = NewAssignmentStore(f.registry, config.AssignmentStore, logger, opts...)
	if err != nil {
		return nil, err
	}

	f.tracker, err = NewIPTracker(f.registry, config.HistoryStore, config.HistoryLimit, logger, opts...)
	if err != nil {
		return nil, err
	}

	f.allocator = NewAllocator(f.assignments, logger, opts...)
	f.publishLoad()

	return f, nil
}

// Refresh replaces the device set with what the discoverer reports
func (f *Fleet) Refresh(ctx context.Context) (int, error) {
	devices, err := f.discoverer.Discover(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover devices: %w", err)
	}

	if err := f.registry.Replace(devices); err != nil {
		return 0, fmt.Errorf("replace devices: %w", err)
	}

	if f.assignments != nil {
		f.publishLoad()
	}
	return len(devices), nil
}

// Devices returns every device with its current load
func (f *Fleet) Devices() FleetView {
	snapshot := f.assignments.Snapshot()

	view := FleetView{
		Devices:     snapshot,
		RefreshedAt: f.registry.RefreshedAt(),
	}
	for _, device := range snapshot {
		if !device.Known {
			continue
		}
		view.TotalDevices++
		if device.IsActive() {
			view.ActiveDevices++
		}
	}
	return view
}

// Device returns one registered device
func (f *Fleet) Device(deviceID string) (models.Device, bool) {
	return f.registry.Get(deviceID)
}

// Assign binds user to a device
func (f *Fleet) Assign(user, deviceID string) error {
	err := f.assignments.Assign(user, deviceID)
	if err == nil {
		f.publishLoad()
	}
	return err
}

// Unassign removes the binding of user
func (f *Fleet) Unassign(user string) error {
	err := f.assignments.Unassign(user)
	if err == nil {
		f.publishLoad()
	}
	return err
}

// Lookup returns the device user is bound to
func (f *Fleet) Lookup(user string) (string, bool) {
	return f.assignments.Lookup(user)
}

// Assignments returns both directions of the binding index
func (f *Fleet) Assignments() models.AssignmentIndex {
	return f.assignments.Index()
}

// AutoAssign spreads users over the active devices with the named strategy
func (f *Fleet) AutoAssign(users []string, strategyName string) (*models.AllocationResult, error) {
	strategy, err := ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	result, err := f.allocator.Allocate(users, strategy, f.assignments.Snapshot())
	if err != nil {
		return nil, err
	}

	f.publishLoad()
	return result, nil
}

// Rotate records that a device's public address changed to newAddress,
// updates the registry, and notifies the users bound to the device.
func (f *Fleet) Rotate(ctx context.Context, deviceID, newAddress string) (*RotationResult, error) {
	if net.ParseIP(newAddress) == nil {
		return nil, fmt.Errorf("new address %q: %w", newAddress, ErrInvalidArgument)
	}

	device, record, err := f.rotate(deviceID, newAddress)
	if err != nil {
		return nil, err
	}

	notification := BuildNotification(device.ID, device.DisplayName(),
		record.OldAddress, record.NewAddress, record.AffectedUsers, record.Timestamp)

	if err := f.notifier.Notify(ctx, notification); err != nil {
		f.logger.Warn("Failed to deliver ip change notification", "device_id", deviceID, "error", err)
	}

	return &RotationResult{Record: record, Notification: notification}, nil
}

func (f *Fleet) rotate(deviceID, newAddress string) (models.Device, models.IPChangeRecord, error) {
	f.rotateMu.Lock()
	defer f.rotateMu.Unlock()

	device, ok := f.registry.Get(deviceID)
	if !ok {
		return device, models.IPChangeRecord{}, fmt.Errorf("device %s: %w", deviceID, ErrUnknownDevice)
	}
	if !device.IsActive() {
		return device, models.IPChangeRecord{}, fmt.Errorf("device %s: %w", deviceID, ErrDeviceInactive)
	}

	oldAddress := device.PublicAddress
	if !device.HasPublicAddress() {
		oldAddress = models.UnknownAddress
	}

	record, err := f.tracker.RecordRotation(deviceID, oldAddress, newAddress, f.assignments.UsersOf(deviceID))
	if err != nil {
		return device, models.IPChangeRecord{}, err
	}

	if _, err := f.registry.SetPublicAddress(deviceID, newAddress); err != nil {
		// A refresh dropped the device after the rotation was recorded.
		f.logger.Warn("Rotated device left the registry", "device_id", deviceID, "error", err)
	}
	f.metrics.RecordRotation(deviceID)

	return device, record, nil
}

// IPChanges returns rotations younger than window, newest first. An empty
// deviceID returns every device's rotations.
func (f *Fleet) IPChanges(deviceID string, window time.Duration) []models.IPChange {
	return f.tracker.Query(deviceID, window)
}

// History returns the retained rotations of one device, oldest first
func (f *Fleet) History(deviceID string) []models.IPChangeRecord {
	return f.tracker.History(deviceID)
}

// Route describes the uplink serving user. Users bound to an active device
// with a known address get a dedicated route, everyone else the shared one.
func (f *Fleet) Route(user string) models.RoutingInfo {
	if deviceID, ok := f.assignments.Lookup(user); ok {
		if device, ok := f.registry.Get(deviceID); ok && device.IsActive() && device.HasPublicAddress() {
			return models.RoutingInfo{
				Username:      user,
				DeviceID:      device.ID,
				DeviceName:    device.DisplayName(),
				Interface:     device.Interface,
				PublicAddress: device.PublicAddress,
				Status:        string(device.Status),
				Mode:          models.RoutingDedicated,
			}
		}
	}

	return models.RoutingInfo{
		Username:      user,
		DeviceName:    "Auto-assigned",
		Interface:     "default",
		PublicAddress: f.gateway,
		Status:        string(models.RoutingShared),
		Mode:          models.RoutingShared,
	}
}

// ResolveAddress returns the public address user should connect through.
// A user without a usable device is first placed on the least loaded
// active device. With no active device the gateway address is returned.
func (f *Fleet) ResolveAddress(user string) (string, error) {
	if user == "" {
		return "", fmt.Errorf("username is required: %w", ErrInvalidArgument)
	}

	if deviceID, ok := f.assignments.Lookup(user); ok {
		if device, ok := f.registry.Get(deviceID); ok && device.IsActive() && device.HasPublicAddress() {
			return device.PublicAddress, nil
		}
	}

	result, err := f.allocator.Allocate([]string{user}, StrategyLeastLoaded, f.assignments.Snapshot())
	if errors.Is(err, ErrNoActiveDevices) && f.gateway != "" {
		return f.gateway, nil
	}
	if err != nil {
		return "", err
	}
	if result.Assigned == 0 {
		return "", fmt.Errorf("assign %s: %s", user, result.Failed[0].Error)
	}
	f.publishLoad()

	device, _ := f.registry.Get(result.Assignments[0].DeviceID)
	if !device.HasPublicAddress() && f.gateway != "" {
		return f.gateway, nil
	}
	return device.PublicAddress, nil
}

func (f *Fleet) publishLoad() {
	total, active := 0, 0
	for _, device := range f.assignments.Snapshot() {
		f.metrics.SetDeviceLoad(device.ID, device.UserCount, device.LoadPercentage)
		if device.Known {
			total++
			if device.IsActive() {
				active++
			}
		}
	}
	f.metrics.SetFleetSize(total, active)
}
