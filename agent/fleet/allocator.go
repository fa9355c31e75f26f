package fleet

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// Strategy selects how an allocation batch spreads users over devices
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyLeastLoaded Strategy = "least_loaded"
	StrategyRandom      Strategy = "random"
)

// ParseStrategy validates a strategy name
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyRandom:
		return s, nil
	default:
		return "", fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
}

// Assigner binds one user to one device
type Assigner interface {
	Assign(user, deviceID string) error
}

// Allocator places batches of users on active devices. It keeps no state of
// its own between batches; every decision is made from the snapshot it is
// given plus the placements already made in the batch.
type Allocator struct {
	assigner Assigner
	logger   *slog.Logger
	metrics  Metrics
	rng      *rand.Rand
	rngMu    sync.Mutex
}

// NewAllocator creates an allocator that delegates each placement to assigner
func NewAllocator(assigner Assigner, logger *slog.Logger, opts ...Option) *Allocator {
	o := buildOptions(opts)
	return &Allocator{
		assigner: assigner,
		logger:   logger,
		metrics:  o.metrics,
		rng:      o.rand,
	}
}

// Allocate places users in input order. A failed placement does not stop
// the batch; the result lists who was placed and who was not.
func (a *Allocator) Allocate(users []string, strategy Strategy, snapshot []models.DeviceLoad) (*models.AllocationResult, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	active := make([]string, 0, len(snapshot))
	loads := make(map[string]int, len(snapshot))
	owners := make(map[string]string)

	for _, device := range snapshot {
		for _, user := range device.Users {
			owners[user] = device.ID
		}
		loads[device.ID] = device.UserCount
		if device.Known && device.IsActive() {
			active = append(active, device.ID)
		}
	}

	if len(active) == 0 {
		return nil, ErrNoActiveDevices
	}

	result := &models.AllocationResult{
		Strategy:    string(strategy),
		Assignments: make([]models.Placement, 0, len(users)),
	}

	for i, user := range users {
		var deviceID string
		switch strategy {
		case StrategyRoundRobin:
			deviceID = active[i%len(active)]
		case StrategyLeastLoaded:
			deviceID = a.selectLeastLoaded(active, loads)
		case StrategyRandom:
			deviceID = a.selectRandom(active)
		}

		if err := a.assigner.Assign(user, deviceID); err != nil {
			a.logger.Warn("Allocation failed for user",
				"user", user,
				"device_id", deviceID,
				"strategy", strategy,
				"error", err)
			result.Failed = append(result.Failed, models.FailedPlacement{
				Username: user,
				DeviceID: deviceID,
				Error:    err.Error(),
			})
			continue
		}

		if previous, ok := owners[user]; ok {
			loads[previous]--
		}
		loads[deviceID]++
		owners[user] = deviceID

		result.Assignments = append(result.Assignments, models.Placement{Username: user, DeviceID: deviceID})
	}

	result.Assigned = len(result.Assignments)
	a.metrics.RecordAllocation(string(strategy), result.Assigned, len(result.Failed))
	a.logger.Info("Allocation completed",
		"strategy", strategy,
		"requested", len(users),
		"assigned", result.Assigned,
		"failed", len(result.Failed))

	return result, nil
}

// selectLeastLoaded picks the device with the fewest users; ties go to the
// device that comes first in registry order.
func (a *Allocator) selectLeastLoaded(active []string, loads map[string]int) string {
	best := active[0]
	for _, deviceID := range active[1:] {
		if loads[deviceID] < loads[best] {
			best = deviceID
		}
	}
	return best
}

func (a *Allocator) selectRandom(active []string) string {
	if a.rng == nil {
		return active[rand.Intn(len(active))]
	}
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return active[a.rng.Intn(len(active))]
}
