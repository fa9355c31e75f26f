package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	m.RecordAssignment("assign", true)
	m.RecordAssignment("assign", true)
	m.RecordAssignment("unassign", false)
	m.RecordAllocation("round_robin", 5, 1)
	m.RecordRotation("dcom1")
	m.SetDeviceLoad("dcom1", 3, 6)
	m.SetFleetSize(3, 2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.assignments.WithLabelValues("assign", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.assignments.WithLabelValues("unassign", "failure")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.allocatedUsers.WithLabelValues("round_robin", "assigned")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rotations.WithLabelValues("dcom1")))
	require.Equal(t, 6.0, testutil.ToFloat64(m.deviceLoad.WithLabelValues("dcom1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.devices.WithLabelValues("inactive")))
}

func TestNewPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "dup")
	require.NoError(t, err)

	_, err = NewPrometheus(reg, "dup")
	require.Error(t, err)
}

func TestNopMetrics_DoesNotPanic(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordAssignment("assign", false)
		m.RecordPersistenceFailure("assignments")
		m.RecordAllocation("random", 0, 0)
		m.RecordRotation("")
		m.SetDeviceLoad("dcom1", 0, 0)
		m.SetFleetSize(0, 0)
	})
}
