package fleet

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

const storeAssignments = "assignments"

// DeviceCatalog is the registry view the assignment store needs
type DeviceCatalog interface {
	Has(deviceID string) bool
	List() []models.Device
}

// assignmentState is never mutated once published; writers build a clone.
type assignmentState struct {
	users   map[string]string
	devices map[string][]string
	updated time.Time
}

func newAssignmentState() *assignmentState {
	return &assignmentState{
		users:   make(map[string]string),
		devices: make(map[string][]string),
	}
}

func (s *assignmentState) clone() *assignmentState {
	next := &assignmentState{
		users:   make(map[string]string, len(s.users)),
		devices: make(map[string][]string, len(s.devices)),
		updated: s.updated,
	}
	for user, deviceID := range s.users {
		next.users[user] = deviceID
	}
	for deviceID, users := range s.devices {
		next.devices[deviceID] = slices.Clone(users)
	}
	return next
}

func (s *assignmentState) bind(user, deviceID string) {
	if previous, ok := s.users[user]; ok {
		s.devices[previous] = slices.DeleteFunc(s.devices[previous], func(u string) bool { return u == user })
	}
	if !slices.Contains(s.devices[deviceID], user) {
		s.devices[deviceID] = append(s.devices[deviceID], user)
	}
	s.users[user] = deviceID
}

func (s *assignmentState) unbind(user string) {
	deviceID, ok := s.users[user]
	if !ok {
		return
	}
	s.devices[deviceID] = slices.DeleteFunc(s.devices[deviceID], func(u string) bool { return u == user })
	delete(s.users, user)
}

func (s *assignmentState) index() models.AssignmentIndex {
	c := s.clone()
	return models.AssignmentIndex{
		UserAssignments:   c.users,
		DeviceAssignments: c.devices,
		LastUpdated:       c.updated,
	}
}

// AssignmentStore owns the bidirectional user/device index. The forward
// (user -> device) and reverse (device -> users) maps are mutual inverses
// at every point a reader can observe.
type AssignmentStore struct {
	catalog DeviceCatalog
	store   Persister
	logger  *slog.Logger
	metrics Metrics
	clock   func() time.Time

	// writeMu serializes mutations, including their durable write.
	writeMu sync.Mutex
	// mu guards the state pointer only.
	mu    sync.RWMutex
	state *assignmentState
}

// NewAssignmentStore creates the store and loads the persisted index
func NewAssignmentStore(catalog DeviceCatalog, store Persister, logger *slog.Logger, opts ...Option) (*AssignmentStore, error) {
	o := buildOptions(opts)

	as := &AssignmentStore{
		catalog: catalog,
		store:   store,
		logger:  logger,
		metrics: o.metrics,
		clock:   o.clock,
	}

	if err := as.load(); err != nil {
		return nil, err
	}
	return as, nil
}

func (as *AssignmentStore) load() error {
	var index models.AssignmentIndex
	found, err := as.store.Load(&index)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}

	state := newAssignmentState()
	for _, device := range as.catalog.List() {
		state.devices[device.ID] = []string{}
	}

	if !found {
		as.state = state
		as.logger.Info("No saved assignments, starting empty", "devices", len(state.devices))
		return nil
	}

	repaired := reconcile(state, index)
	state.updated = index.LastUpdated
	as.state = state

	if repaired > 0 {
		as.logger.Warn("Repaired inconsistent saved assignments", "repairs", repaired)
	}
	as.logger.Info("Loaded assignments",
		"users", len(state.users),
		"last_updated", index.LastUpdated)
	return nil
}

// reconcile fills state from a saved index, treating the forward map as the
// source of truth. It returns the number of entries it had to fix.
func reconcile(state *assignmentState, index models.AssignmentIndex) int {
	repaired := 0

	for user, deviceID := range index.UserAssignments {
		if user == "" || deviceID == "" {
			repaired++
			continue
		}
		state.users[user] = deviceID
	}

	for deviceID, users := range index.DeviceAssignments {
		kept := make([]string, 0, len(users))
		for _, user := range users {
			if state.users[user] != deviceID || slices.Contains(kept, user) {
				repaired++
				continue
			}
			kept = append(kept, user)
		}
		state.devices[deviceID] = kept
	}

	users := make([]string, 0, len(state.users))
	for user := range state.users {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		deviceID := state.users[user]
		if !slices.Contains(state.devices[deviceID], user) {
			state.devices[deviceID] = append(state.devices[deviceID], user)
			repaired++
		}
	}

	return repaired
}

func (as *AssignmentStore) current() *assignmentState {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.state
}

// commit persists next and publishes it. On failure the published state is
// untouched, which is the rollback.
func (as *AssignmentStore) commit(next *assignmentState) error {
	next.updated = as.clock().UTC()

	if err := as.store.Save(next.index()); err != nil {
		as.metrics.RecordPersistenceFailure(storeAssignments)
		as.logger.Error("Failed to save assignments", "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	as.mu.Lock()
	as.state = next
	as.mu.Unlock()
	return nil
}

// Assign binds user to deviceID, moving the user off any previous device
func (as *AssignmentStore) Assign(user, deviceID string) error {
	if user == "" {
		return fmt.Errorf("username is required: %w", ErrInvalidArgument)
	}

	as.writeMu.Lock()
	defer as.writeMu.Unlock()

	// Checked under writeMu so a device removed by a concurrent refresh is rejected.
	if !as.catalog.Has(deviceID) {
		as.metrics.RecordAssignment("assign", false)
		return fmt.Errorf("device %s: %w", deviceID, ErrUnknownDevice)
	}

	cur := as.current()
	if cur.users[user] == deviceID && slices.Contains(cur.devices[deviceID], user) {
		as.metrics.RecordAssignment("assign", true)
		return nil
	}

	previous, hadPrevious := cur.users[user]
	next := cur.clone()
	next.bind(user, deviceID)

	if err := as.commit(next); err != nil {
		as.metrics.RecordAssignment("assign", false)
		return fmt.Errorf("assign %s to %s: %w", user, deviceID, err)
	}

	as.metrics.RecordAssignment("assign", true)
	if hadPrevious {
		as.logger.Info("User reassigned", "user", user, "from", previous, "device_id", deviceID)
	} else {
		as.logger.Info("User assigned", "user", user, "device_id", deviceID)
	}
	return nil
}

// Unassign removes the binding of user
func (as *AssignmentStore) Unassign(user string) error {
	as.writeMu.Lock()
	defer as.writeMu.Unlock()

	cur := as.current()
	deviceID, ok := cur.users[user]
	if !ok {
		as.metrics.RecordAssignment("unassign", false)
		return fmt.Errorf("user %s: %w", user, ErrNotAssigned)
	}

	next := cur.clone()
	next.unbind(user)

	if err := as.commit(next); err != nil {
		as.metrics.RecordAssignment("unassign", false)
		return fmt.Errorf("unassign %s: %w", user, err)
	}

	as.metrics.RecordAssignment("unassign", true)
	as.logger.Info("User unassigned", "user", user, "device_id", deviceID)
	return nil
}

// Lookup returns the device user is bound to
func (as *AssignmentStore) Lookup(user string) (string, bool) {
	deviceID, ok := as.current().users[user]
	return deviceID, ok
}

// UsersOf returns the users bound to a device, in binding order
func (as *AssignmentStore) UsersOf(deviceID string) []string {
	users := slices.Clone(as.current().devices[deviceID])
	if users == nil {
		users = []string{}
	}
	return users
}

// Index returns a copy of both directions of the index
func (as *AssignmentStore) Index() models.AssignmentIndex {
	return as.current().index()
}

// Snapshot returns the load of every registered device in registry order.
// Devices that still hold bindings but have left the registry follow,
// marked unknown and inactive, so every binding stays visible.
func (as *AssignmentStore) Snapshot() []models.DeviceLoad {
	state := as.current()
	devices := as.catalog.List()

	loads := make([]models.DeviceLoad, 0, len(devices))
	seen := make(map[string]bool, len(devices))

	for _, device := range devices {
		seen[device.ID] = true
		loads = append(loads, newDeviceLoad(device, state.devices[device.ID], true))
	}

	var orphans []string
	for deviceID, users := range state.devices {
		if !seen[deviceID] && len(users) > 0 {
			orphans = append(orphans, deviceID)
		}
	}
	sort.Strings(orphans)

	for _, deviceID := range orphans {
		device := models.Device{
			ID:            deviceID,
			Name:          deviceID,
			Status:        models.DeviceStatusInactive,
			PublicAddress: models.UnknownAddress,
		}
		loads = append(loads, newDeviceLoad(device, state.devices[deviceID], false))
	}

	return loads
}

func newDeviceLoad(device models.Device, users []string, known bool) models.DeviceLoad {
	users = slices.Clone(users)
	if users == nil {
		users = []string{}
	}
	return models.DeviceLoad{
		Device:         device,
		Users:          users,
		UserCount:      len(users),
		LoadPercentage: models.LoadPercentage(len(users), device.MaxUsers),
		Known:          known,
	}
}
