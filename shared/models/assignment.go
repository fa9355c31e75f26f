package models

import "time"

// AssignmentIndex is the persisted form of the user/device binding index.
// Both directions are stored so the file can be inspected by hand.
type AssignmentIndex struct {
	UserAssignments   map[string]string   `json:"user_assignments"`
	DeviceAssignments map[string][]string `json:"dcom_assignments"`
	LastUpdated       time.Time           `json:"last_updated"`
}

// Placement is one user placed on one device by an allocation run
type Placement struct {
	Username string `json:"username"`
	DeviceID string `json:"dcom"`
}

// FailedPlacement is a user the allocator could not bind
type FailedPlacement struct {
	Username string `json:"username"`
	DeviceID string `json:"dcom"`
	Error    string `json:"error"`
}

// AllocationResult reports a batch allocation, including partial success
type AllocationResult struct {
	Strategy    string            `json:"strategy"`
	Assignments []Placement       `json:"assignments"`
	Failed      []FailedPlacement `json:"failed,omitempty"`
	Assigned    int               `json:"assigned"`
}
