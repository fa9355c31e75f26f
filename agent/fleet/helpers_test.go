package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

var errDiskFull = errors.New("disk full")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is a Persister that round-trips through JSON like the real stores
type memStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
	fail  bool
}

func (m *memStore) Load(v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return false, nil
	}
	return true, json.Unmarshal(m.data, v)
}

func (m *memStore) Save(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errDiskFull
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

func (m *memStore) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// fakeClock is a settable clock for window tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDevices() []models.Device {
	return []models.Device{
		{ID: "A", Name: "DCOM A", Interface: "wwan0", Status: models.DeviceStatusActive, PublicAddress: "10.0.0.1", MaxUsers: 4},
		{ID: "B", Name: "DCOM B", Interface: "wwan1", Status: models.DeviceStatusActive, PublicAddress: "10.0.0.2", MaxUsers: 4},
		{ID: "C", Name: "DCOM C", Interface: "wwan2", Status: models.DeviceStatusActive, PublicAddress: "10.0.0.3", MaxUsers: 4},
	}
}

func newTestRegistry(devices []models.Device) *Registry {
	r := NewRegistry(testLogger())
	if err := r.Replace(devices); err != nil {
		panic(err)
	}
	return r
}

// checkInverse reports whether the two directions of an index agree
func checkInverse(index models.AssignmentIndex) error {
	for user, deviceID := range index.UserAssignments {
		count := 0
		for _, u := range index.DeviceAssignments[deviceID] {
			if u == user {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("user %s appears %d times under %s", user, count, deviceID)
		}
	}
	for deviceID, users := range index.DeviceAssignments {
		for _, user := range users {
			if index.UserAssignments[user] != deviceID {
				return fmt.Errorf("reverse entry %s/%s has no forward entry", deviceID, user)
			}
		}
	}
	return nil
}
