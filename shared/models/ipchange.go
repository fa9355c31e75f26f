package models

import "time"

// NotificationTypeIPChange tags rotation advisories
const NotificationTypeIPChange = "ip_change"

// RecommendedAction is attached to every rotation advisory
const RecommendedAction = "Users should use gateway IP for seamless connection"

// IPChangeRecord is one public address rotation of a device
type IPChangeRecord struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"dcom_id"`
	Timestamp     time.Time `json:"timestamp"`
	OldAddress    string    `json:"old_ip"`
	NewAddress    string    `json:"new_ip"`
	AffectedUsers []string  `json:"affected_users"`
}

// IPChange is a record joined with its device metadata for display
type IPChange struct {
	IPChangeRecord
	DeviceName string `json:"device_name"`
}

// IPHistory is the persisted per-device rotation log, oldest first
type IPHistory map[string][]IPChangeRecord

// Notification is the advisory sent to users bound to a rotated device
type Notification struct {
	Type              string    `json:"type"`
	DeviceID          string    `json:"dcom_id"`
	DeviceName        string    `json:"device_name"`
	OldAddress        string    `json:"old_ip"`
	NewAddress        string    `json:"new_ip"`
	AffectedUsers     []string  `json:"affected_users"`
	Timestamp         time.Time `json:"timestamp"`
	Message           string    `json:"message"`
	ActionRequired    bool      `json:"action_required"`
	RecommendedAction string    `json:"recommended_action"`
}
