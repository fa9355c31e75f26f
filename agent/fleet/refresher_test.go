package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

type countingDiscoverer struct {
	calls   atomic.Int32
	devices []models.Device
}

func (cd *countingDiscoverer) Discover(_ context.Context) ([]models.Device, error) {
	cd.calls.Add(1)
	return append([]models.Device(nil), cd.devices...), nil
}

func TestRefresher_RefreshOnceReportsChanges(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	refresher := NewRefresher(fx.fleet, nil, testLogger())

	var mu sync.Mutex
	events := map[string]DeviceEvent{}
	refresher.AddCallback(func(event DeviceEvent, device models.Device) {
		mu.Lock()
		defer mu.Unlock()
		events[device.ID] = event
	})

	next := testDevices()[1:]
	next[0].Status = models.DeviceStatusInactive
	next = append(next, models.Device{ID: "D", Status: models.DeviceStatusActive})
	fx.discoverer.Devices = next

	require.NoError(t, refresher.RefreshOnce(context.Background()))

	require.Equal(t, map[string]DeviceEvent{
		"A": DeviceRemoved,
		"B": DeviceStatusChanged,
		"D": DeviceAdded,
	}, events)
	require.Equal(t, "removed", DeviceRemoved.String())
}

func TestRefresher_StartStop(t *testing.T) {
	discoverer := &countingDiscoverer{devices: testDevices()}
	f, err := New(context.Background(), &Config{
		Discoverer:      discoverer,
		AssignmentStore: &memStore{},
		HistoryStore:    &memStore{},
	}, testLogger())
	require.NoError(t, err)

	refresher := NewRefresher(f, &RefresherConfig{Interval: 5 * time.Millisecond}, testLogger())
	require.NoError(t, refresher.Start(context.Background()))
	require.Error(t, refresher.Start(context.Background()))

	require.Eventually(t, func() bool {
		return discoverer.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	refresher.Stop()
	calls := discoverer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, calls, discoverer.calls.Load())

	refresher.Stop()
}
