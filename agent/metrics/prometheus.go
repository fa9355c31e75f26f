package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exports fleet events as Prometheus metrics
type PrometheusMetrics struct {
	assignments         *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	allocations         *prometheus.CounterVec
	allocatedUsers      *prometheus.CounterVec
	rotations           *prometheus.CounterVec
	deviceUsers         *prometheus.GaugeVec
	deviceLoad          *prometheus.GaugeVec
	devices             *prometheus.GaugeVec
}

// NewPrometheus creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil). namespace defaults to "proxyfarm".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "proxyfarm"
	}

	m := &PrometheusMetrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "operations_total",
			Help:      "Assign and unassign operations by outcome.",
		}, []string{"op", "result"}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Durable writes that failed and were rolled back, by store.",
		}, []string{"store"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "batches_total",
			Help:      "Allocation batches by strategy.",
		}, []string{"strategy"}),
		allocatedUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "users_total",
			Help:      "Users handled by allocation batches, by strategy and result.",
		}, []string{"strategy", "result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "ip_rotations_total",
			Help:      "Public address rotations recorded per device.",
		}, []string{"device"}),
		deviceUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "bound_users",
			Help:      "Users currently bound to the device.",
		}, []string{"device"}),
		deviceLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "load_percentage",
			Help:      "Bound users as a percentage of device capacity.",
		}, []string{"device"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the registry by state.",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{
		m.assignments, m.persistenceFailures, m.allocations, m.allocatedUsers,
		m.rotations, m.deviceUsers, m.deviceLoad, m.devices,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordAssignment(op string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.assignments.WithLabelValues(op, result).Inc()
}

func (m *PrometheusMetrics) RecordPersistenceFailure(store string) {
	m.persistenceFailures.WithLabelValues(store).Inc()
}

func (m *PrometheusMetrics) RecordAllocation(strategy string, assigned, failed int) {
	m.allocations.WithLabelValues(strategy).Inc()
	m.allocatedUsers.WithLabelValues(strategy, "assigned").Add(float64(assigned))
	m.allocatedUsers.WithLabelValues(strategy, "failed").Add(float64(failed))
}

func (m *PrometheusMetrics) RecordRotation(deviceID string) {
	m.rotations.WithLabelValues(deviceID).Inc()
}

func (m *PrometheusMetrics) SetDeviceLoad(deviceID string, users int, loadPercentage float64) {
	m.deviceUsers.WithLabelValues(deviceID).Set(float64(users))
	m.deviceLoad.WithLabelValues(deviceID).Set(loadPercentage)
}

func (m *PrometheusMetrics) SetFleetSize(total, active int) {
	m.devices.WithLabelValues("active").Set(float64(active))
	m.devices.WithLabelValues("inactive").Set(float64(total - active))
}
