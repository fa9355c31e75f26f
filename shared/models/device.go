package models

import (
	"fmt"
	"math"
)

// DeviceStatus represents whether a device accepts new bindings
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
)

// UnknownAddress is reported when a device has no public address
const UnknownAddress = "unknown"

// Device describes one uplink modem in the fleet
type Device struct {
	ID            string       `json:"id" yaml:"id"`
	Name          string       `json:"name" yaml:"name"`
	Interface     string       `json:"interface" yaml:"interface"`
	Gateway       string       `json:"ip" yaml:"gateway"`
	Status        DeviceStatus `json:"status" yaml:"status"`
	Signal        string       `json:"signal" yaml:"signal"`
	Network       string       `json:"network" yaml:"network"`
	PublicAddress string       `json:"public_ip" yaml:"public_address"`
	MaxUsers      int          `json:"max_users" yaml:"max_users"`
}

// IsActive returns true if the device can take new users
func (d *Device) IsActive() bool {
	return d.Status == DeviceStatusActive
}

// HasPublicAddress returns true if the device reports a usable public address
func (d *Device) HasPublicAddress() bool {
	switch d.PublicAddress {
	case "", UnknownAddress, "N/A":
		return false
	}
	return true
}

// DisplayName returns the device name, or its ID when unnamed
func (d *Device) DisplayName() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name
}

// Validate validates the device descriptor
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device ID is required")
	}
	switch d.Status {
	case DeviceStatusActive, DeviceStatusInactive:
	default:
		return fmt.Errorf("device %s: invalid status %q", d.ID, d.Status)
	}
	if d.MaxUsers < 0 {
		return fmt.Errorf("device %s: invalid max users: %d", d.ID, d.MaxUsers)
	}
	return nil
}

// DeviceLoad is the assignment view of one device
type DeviceLoad struct {
	Device
	Users          []string `json:"assigned_users"`
	UserCount      int      `json:"user_count"`
	LoadPercentage float64  `json:"load_percentage"`
	Known          bool     `json:"known"`
}

// LoadPercentage returns min(100, count/capacity*100). A device without
// capacity is full as soon as anyone is bound to it.
func LoadPercentage(count, capacity int) float64 {
	if capacity <= 0 {
		if count > 0 {
			return 100
		}
		return 0
	}
	return math.Min(100, float64(count)/float64(capacity)*100)
}

// RoutingMode tells how a user's traffic leaves the farm
type RoutingMode string

const (
	RoutingDedicated RoutingMode = "dedicated"
	RoutingShared    RoutingMode = "shared"
)

// RoutingInfo describes the uplink serving a user
type RoutingInfo struct {
	Username      string      `json:"username"`
	DeviceID      string      `json:"dcom_id,omitempty"`
	DeviceName    string      `json:"dcom_name"`
	Interface     string      `json:"interface"`
	PublicAddress string      `json:"public_ip"`
	Status        string      `json:"status"`
	Mode          RoutingMode `json:"routing_mode"`
}
