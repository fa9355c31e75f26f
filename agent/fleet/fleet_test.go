package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

type fleetFixture struct {
	fleet       *Fleet
	discoverer  *StaticDiscoverer
	assignments *memStore
	history     *memStore
	notifier    *recordingNotifier
	clock       *fakeClock
}

func newTestFleet(t *testing.T, devices []models.Device) *fleetFixture {
	t.Helper()
	fx := &fleetFixture{
		discoverer:  &StaticDiscoverer{Devices: devices},
		assignments: &memStore{},
		history:     &memStore{},
		notifier:    &recordingNotifier{},
		clock:       newFakeClock(),
	}

	f, err := New(context.Background(), &Config{
		Discoverer:      fx.discoverer,
		AssignmentStore: fx.assignments,
		HistoryStore:    fx.history,
		GatewayAddress:  "203.0.113.1",
		Notifier:        fx.notifier,
	}, testLogger(), WithClock(fx.clock.Now))
	require.NoError(t, err)

	fx.fleet = f
	return fx
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), nil, testLogger())
	require.Error(t, err)

	_, err = New(context.Background(), &Config{Discoverer: &StaticDiscoverer{}}, testLogger())
	require.Error(t, err)
}

func TestFleet_Devices(t *testing.T) {
	devices := testDevices()
	devices[2].Status = models.DeviceStatusInactive
	fx := newTestFleet(t, devices)

	require.NoError(t, fx.fleet.Assign("alice", "A"))

	view := fx.fleet.Devices()
	require.Equal(t, 3, view.TotalDevices)
	require.Equal(t, 2, view.ActiveDevices)
	require.Equal(t, []string{"alice"}, view.Devices[0].Users)
	require.False(t, view.RefreshedAt.IsZero())
}

func TestFleet_RefreshReplacesDevices(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	require.NoError(t, fx.fleet.Assign("alice", "C"))

	fx.discoverer.Devices = testDevices()[:2]
	count, err := fx.fleet.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)

	view := fx.fleet.Devices()
	require.Equal(t, 2, view.TotalDevices)
	require.Len(t, view.Devices, 3)
	require.False(t, view.Devices[2].Known)

	require.ErrorIs(t, fx.fleet.Assign("bob", "C"), ErrUnknownDevice)
	require.NoError(t, fx.fleet.Unassign("alice"))
}

func TestFleet_AutoAssign(t *testing.T) {
	fx := newTestFleet(t, testDevices())

	result, err := fx.fleet.AutoAssign([]string{"u1", "u2", "u3", "u4"}, "round_robin")
	require.NoError(t, err)
	require.Equal(t, "round_robin", result.Strategy)
	require.Equal(t, 4, result.Assigned)

	index := fx.fleet.Assignments()
	require.Equal(t, "A", index.UserAssignments["u4"])

	_, err = fx.fleet.AutoAssign([]string{"u5"}, "fastest")
	require.ErrorIs(t, err, ErrUnknownStrategy)
	_, ok := fx.fleet.Lookup("u5")
	require.False(t, ok)
}

func TestFleet_Rotate(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	require.NoError(t, fx.fleet.Assign("alice", "A"))
	require.NoError(t, fx.fleet.Assign("bob", "A"))

	result, err := fx.fleet.Rotate(context.Background(), "A", "10.0.9.9")
	require.NoError(t, err)

	require.Equal(t, "10.0.0.1", result.Record.OldAddress)
	require.Equal(t, "10.0.9.9", result.Record.NewAddress)
	require.Equal(t, []string{"alice", "bob"}, result.Record.AffectedUsers)
	require.True(t, result.Notification.ActionRequired)
	require.Equal(t, "DCOM DCOM A IP changed from 10.0.0.1 to 10.0.9.9", result.Notification.Message)

	device, ok := fx.fleet.Device("A")
	require.True(t, ok)
	require.Equal(t, "10.0.9.9", device.PublicAddress)

	require.Len(t, fx.notifier.sent, 1)
	require.Len(t, fx.fleet.IPChanges("A", time.Hour), 1)

	second, err := fx.fleet.Rotate(context.Background(), "A", "10.0.9.10")
	require.NoError(t, err)
	require.Equal(t, "10.0.9.9", second.Record.OldAddress)
	require.Len(t, fx.fleet.History("A"), 2)
}

func TestFleet_RotateRejections(t *testing.T) {
	devices := testDevices()
	devices[1].Status = models.DeviceStatusInactive
	fx := newTestFleet(t, devices)

	_, err := fx.fleet.Rotate(context.Background(), "Z", "10.0.9.9")
	require.ErrorIs(t, err, ErrUnknownDevice)

	_, err = fx.fleet.Rotate(context.Background(), "B", "10.0.9.9")
	require.ErrorIs(t, err, ErrDeviceInactive)

	_, err = fx.fleet.Rotate(context.Background(), "A", "not-an-ip")
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.Empty(t, fx.fleet.IPChanges("", time.Hour))
	require.Empty(t, fx.notifier.sent)
}

func TestFleet_RotatePersistenceFailureLeavesAddress(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	fx.history.setFail(true)

	_, err := fx.fleet.Rotate(context.Background(), "A", "10.0.9.9")
	require.ErrorIs(t, err, ErrPersistence)

	device, _ := fx.fleet.Device("A")
	require.Equal(t, "10.0.0.1", device.PublicAddress)
	require.Empty(t, fx.notifier.sent)
}

func TestFleet_RotateSurvivesNotifierFailure(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	fx.notifier.err = errors.New("broker down")

	result, err := fx.fleet.Rotate(context.Background(), "A", "10.0.9.9")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, fx.fleet.History("A"), 1)
}

func TestFleet_Route(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	require.NoError(t, fx.fleet.Assign("alice", "B"))

	route := fx.fleet.Route("alice")
	require.Equal(t, models.RoutingDedicated, route.Mode)
	require.Equal(t, "B", route.DeviceID)
	require.Equal(t, "wwan1", route.Interface)
	require.Equal(t, "10.0.0.2", route.PublicAddress)

	shared := fx.fleet.Route("nobody")
	require.Equal(t, models.RoutingShared, shared.Mode)
	require.Equal(t, "203.0.113.1", shared.PublicAddress)
	require.Empty(t, shared.DeviceID)

	t.Run("device without a known address routes shared", func(t *testing.T) {
		devices := testDevices()
		devices[0].PublicAddress = ""
		fx := newTestFleet(t, devices)
		require.NoError(t, fx.fleet.Assign("alice", "A"))

		require.Equal(t, models.RoutingShared, fx.fleet.Route("alice").Mode)
	})
}

func TestFleet_ResolveAddress(t *testing.T) {
	t.Run("bound user gets its device address", func(t *testing.T) {
		fx := newTestFleet(t, testDevices())
		require.NoError(t, fx.fleet.Assign("alice", "C"))

		address, err := fx.fleet.ResolveAddress("alice")
		require.NoError(t, err)
		require.Equal(t, "10.0.0.3", address)
	})

	t.Run("unbound user is placed on the least loaded device", func(t *testing.T) {
		fx := newTestFleet(t, testDevices())
		require.NoError(t, fx.fleet.Assign("x1", "A"))

		address, err := fx.fleet.ResolveAddress("bob")
		require.NoError(t, err)
		require.Equal(t, "10.0.0.2", address)

		deviceID, ok := fx.fleet.Lookup("bob")
		require.True(t, ok)
		require.Equal(t, "B", deviceID)
	})

	t.Run("no active device falls back to the gateway", func(t *testing.T) {
		devices := testDevices()
		for i := range devices {
			devices[i].Status = models.DeviceStatusInactive
		}
		fx := newTestFleet(t, devices)

		address, err := fx.fleet.ResolveAddress("bob")
		require.NoError(t, err)
		require.Equal(t, "203.0.113.1", address)
	})

	t.Run("empty username", func(t *testing.T) {
		fx := newTestFleet(t, testDevices())
		_, err := fx.fleet.ResolveAddress("")
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestFleet_ReloadsPersistedState(t *testing.T) {
	fx := newTestFleet(t, testDevices())
	require.NoError(t, fx.fleet.Assign("alice", "A"))
	_, err := fx.fleet.Rotate(context.Background(), "A", "10.0.9.9")
	require.NoError(t, err)

	reloaded, err := New(context.Background(), &Config{
		Discoverer:      fx.discoverer,
		AssignmentStore: fx.assignments,
		HistoryStore:    fx.history,
	}, testLogger(), WithClock(fx.clock.Now))
	require.NoError(t, err)

	deviceID, ok := reloaded.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "A", deviceID)

	changes := reloaded.IPChanges("A", time.Hour)
	require.Len(t, changes, 1)
	require.Equal(t, []string{"alice"}, changes[0].AffectedUsers)
}
