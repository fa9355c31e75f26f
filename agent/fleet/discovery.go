package fleet

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// Discoverer supplies the full current device set on demand
type Discoverer interface {
	Discover(ctx context.Context) ([]models.Device, error)
}

// StaticDiscoverer always returns the same devices
type StaticDiscoverer struct {
	Devices []models.Device
}

// Discover returns a copy of the configured devices
func (sd *StaticDiscoverer) Discover(_ context.Context) ([]models.Device, error) {
	devices := make([]models.Device, len(sd.Devices))
	copy(devices, sd.Devices)
	return devices, nil
}

// Inventory is the YAML document read by InventoryDiscoverer
type Inventory struct {
	Devices []models.Device `yaml:"devices"`
}

// InventoryDiscoverer re-reads a YAML inventory file on every discovery, so
// an edited file takes effect on the next refresh.
type InventoryDiscoverer struct {
	path string
}

// NewInventoryDiscoverer creates a discoverer for the inventory at path
func NewInventoryDiscoverer(path string) *InventoryDiscoverer {
	return &InventoryDiscoverer{path: path}
}

// Discover parses the inventory file
func (id *InventoryDiscoverer) Discover(ctx context.Context) ([]models.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(id.path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inventory Inventory
	if err := yaml.Unmarshal(data, &inventory); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", id.path, err)
	}

	for i := range inventory.Devices {
		if inventory.Devices[i].Status == "" {
			inventory.Devices[i].Status = models.DeviceStatusActive
		}
	}

	return inventory.Devices, nil
}
