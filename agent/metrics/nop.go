// Package metrics provides the fleet metrics sinks: a no-op sink and a
// Prometheus collector.
package metrics

// NopMetrics discards every event
type NopMetrics struct{}

// NewNop creates a no-op metrics sink
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordAssignment(_ string, _ bool) {}

func (n *NopMetrics) RecordPersistenceFailure(_ string) {}

func (n *NopMetrics) RecordAllocation(_ string, _, _ int) {}

func (n *NopMetrics) RecordRotation(_ string) {}

func (n *NopMetrics) SetDeviceLoad(_ string, _ int, _ float64) {}

func (n *NopMetrics) SetFleetSize(_, _ int) {}
