package fleet

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// Registry holds the current device descriptors in discovery order
type Registry struct {
	logger      *slog.Logger
	devices     map[string]*models.Device
	order       []string
	refreshedAt time.Time
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		devices: make(map[string]*models.Device),
	}
}

// Replace swaps the whole device set. Discovery is not incremental: devices
// missing from the new set are dropped. Nothing changes if any descriptor is
// invalid or an id repeats.
func (r *Registry) Replace(devices []models.Device) error {
	next := make(map[string]*models.Device, len(devices))
	order := make([]string, 0, len(devices))

	for i := range devices {
		device := devices[i]
		if err := device.Validate(); err != nil {
			return err
		}
		if _, exists := next[device.ID]; exists {
			return fmt.Errorf("duplicate device id: %s", device.ID)
		}
		if device.PublicAddress == "" {
			device.PublicAddress = models.UnknownAddress
		}
		next[device.ID] = &device
		order = append(order, device.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = next
	r.order = order
	r.refreshedAt = time.Now()

	r.logger.Info("Device registry replaced", "devices", len(order))
	return nil
}

// Get returns a copy of a device
func (r *Registry) Get(deviceID string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, exists := r.devices[deviceID]
	if !exists {
		return models.Device{}, false
	}
	return *device, true
}

// Has reports whether the device is registered
func (r *Registry) Has(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.devices[deviceID]
	return exists
}

// Name returns the display name of a device, falling back to its id
func (r *Registry) Name(deviceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if device, exists := r.devices[deviceID]; exists {
		return device.DisplayName()
	}
	return deviceID
}

// List returns copies of all devices in registry order
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]models.Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, *r.devices[id])
	}
	return devices
}

// Active returns the active devices in registry order
func (r *Registry) Active() []models.Device {
	all := r.List()
	active := make([]models.Device, 0, len(all))
	for _, device := range all {
		if device.IsActive() {
			active = append(active, device)
		}
	}
	return active
}

// SetPublicAddress updates the public address of a device and returns the
// previous one. Only the rotation path calls this.
func (r *Registry) SetPublicAddress(deviceID, address string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[deviceID]
	if !exists {
		return "", fmt.Errorf("device %s: %w", deviceID, ErrUnknownDevice)
	}

	previous := device.PublicAddress
	device.PublicAddress = address
	return previous, nil
}

// RefreshedAt returns when the device set was last replaced
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}
