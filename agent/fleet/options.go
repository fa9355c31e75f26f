package fleet

import (
	"math/rand"
	"time"

	"github.com/ngojclee/proxy-farm-system/agent/metrics"
)

// Metrics receives fleet events. See agent/metrics for implementations.
type Metrics interface {
	RecordAssignment(op string, success bool)
	RecordPersistenceFailure(store string)
	RecordAllocation(strategy string, assigned, failed int)
	RecordRotation(deviceID string)
	SetDeviceLoad(deviceID string, users int, loadPercentage float64)
	SetFleetSize(total, active int)
}

// Persister loads and saves a whole document. Implemented by the stores in
// control-plane/database.
type Persister interface {
	Load(v any) (bool, error)
	Save(v any) error
}

type options struct {
	metrics Metrics
	clock   func() time.Time
	rand    *rand.Rand
}

// Option configures a fleet component
type Option func(*options)

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRand sets the source used by the random strategy
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		metrics: metrics.NewNop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
