package fleet

import (
	"container/heap"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
	"github.com/ngojclee/proxy-farm-system/shared/utils"
)

const storeIPHistory = "ip_history"

// DefaultHistoryLimit is the number of rotations kept per device
const DefaultHistoryLimit = 10

// DeviceNamer resolves display names for query results
type DeviceNamer interface {
	Name(deviceID string) string
}

// IPTracker keeps a bounded log of address rotations per device
type IPTracker struct {
	names   DeviceNamer
	store   Persister
	limit   int
	logger  *slog.Logger
	metrics Metrics
	clock   func() time.Time

	writeMu sync.Mutex
	mu      sync.RWMutex
	// logs and the slices in it are replaced, never modified in place.
	logs models.IPHistory
}

// NewIPTracker creates the tracker and loads the persisted history. A limit
// below one selects DefaultHistoryLimit.
func NewIPTracker(names DeviceNamer, store Persister, limit int, logger *slog.Logger, opts ...Option) (*IPTracker, error) {
	o := buildOptions(opts)
	if limit < 1 {
		limit = DefaultHistoryLimit
	}

	t := &IPTracker{
		names:   names,
		store:   store,
		limit:   limit,
		logger:  logger,
		metrics: o.metrics,
		clock:   o.clock,
		logs:    make(models.IPHistory),
	}

	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *IPTracker) load() error {
	var history models.IPHistory
	found, err := t.store.Load(&history)
	if err != nil {
		return fmt.Errorf("load ip history: %w", err)
	}
	if !found {
		return nil
	}

	records := 0
	for deviceID, log := range history {
		log = slices.Clone(log)
		sort.SliceStable(log, func(i, j int) bool {
			return log[i].Timestamp.Before(log[j].Timestamp)
		})
		if len(log) > t.limit {
			log = log[len(log)-t.limit:]
		}
		for i := range log {
			if log[i].DeviceID == "" {
				log[i].DeviceID = deviceID
			}
			if log[i].ID == "" {
				log[i].ID = utils.GenerateID()
			}
			if log[i].AffectedUsers == nil {
				log[i].AffectedUsers = []string{}
			}
		}
		t.logs[deviceID] = log
		records += len(log)
	}

	t.logger.Info("Loaded ip history", "devices", len(t.logs), "records", records)
	return nil
}

// RecordRotation adds a rotation to the device's log, evicting the oldest
// record once the log is full, and persists the whole history.
func (t *IPTracker) RecordRotation(deviceID, oldAddress, newAddress string, affected []string) (models.IPChangeRecord, error) {
	record := models.IPChangeRecord{
		ID:            utils.GenerateID(),
		DeviceID:      deviceID,
		Timestamp:     t.clock().UTC(),
		OldAddress:    oldAddress,
		NewAddress:    newAddress,
		AffectedUsers: slices.Clone(affected),
	}
	if record.AffectedUsers == nil {
		record.AffectedUsers = []string{}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	current := t.logs
	t.mu.RUnlock()

	next := make(models.IPHistory, len(current)+1)
	for id, log := range current {
		next[id] = log
	}

	// The wall clock can step backwards, so place the record by timestamp
	// rather than appending it. Eviction then drops the oldest.
	log := current[deviceID]
	at := sort.Search(len(log), func(i int) bool {
		return log[i].Timestamp.After(record.Timestamp)
	})
	inserted := make([]models.IPChangeRecord, 0, len(log)+1)
	inserted = append(inserted, log[:at]...)
	inserted = append(inserted, record)
	inserted = append(inserted, log[at:]...)
	if drop := len(inserted) - t.limit; drop > 0 {
		inserted = inserted[drop:]
	}
	next[deviceID] = inserted

	if err := t.store.Save(next); err != nil {
		t.metrics.RecordPersistenceFailure(storeIPHistory)
		t.logger.Error("Failed to save ip history", "device_id", deviceID, "error", err)
		return models.IPChangeRecord{}, fmt.Errorf("record rotation of %s: %w: %w", deviceID, ErrPersistence, err)
	}

	t.mu.Lock()
	t.logs = next
	t.mu.Unlock()

	t.logger.Info("IP rotation recorded",
		"device_id", deviceID,
		"old_ip", oldAddress,
		"new_ip", newAddress,
		"affected_users", len(record.AffectedUsers))

	return cloneRecord(record), nil
}

// History returns the full log of one device, oldest first
func (t *IPTracker) History(deviceID string) []models.IPChangeRecord {
	t.mu.RLock()
	log := t.logs[deviceID]
	t.mu.RUnlock()

	history := make([]models.IPChangeRecord, len(log))
	for i := range log {
		history[i] = cloneRecord(log[i])
	}
	return history
}

// Query returns the rotations younger than window, newest first. An empty
// deviceID merges the logs of every device.
func (t *IPTracker) Query(deviceID string, window time.Duration) []models.IPChange {
	now := t.clock()

	t.mu.RLock()
	logs := t.logs
	t.mu.RUnlock()

	cursors := make(cursorHeap, 0, len(logs))
	if deviceID != "" {
		if log := logs[deviceID]; len(log) > 0 {
			cursors = append(cursors, &logCursor{deviceID: deviceID, log: log, pos: len(log) - 1})
		}
	} else {
		for id, log := range logs {
			if len(log) > 0 {
				cursors = append(cursors, &logCursor{deviceID: id, log: log, pos: len(log) - 1})
			}
		}
	}
	heap.Init(&cursors)

	changes := make([]models.IPChange, 0)
	for cursors.Len() > 0 {
		cursor := cursors[0]
		record := cursor.log[cursor.pos]

		// Logs are kept in time order, so nothing older in this log can qualify.
		if now.Sub(record.Timestamp) >= window {
			heap.Pop(&cursors)
			continue
		}

		changes = append(changes, models.IPChange{
			IPChangeRecord: cloneRecord(record),
			DeviceName:     t.names.Name(cursor.deviceID),
		})

		cursor.pos--
		if cursor.pos < 0 {
			heap.Pop(&cursors)
		} else {
			heap.Fix(&cursors, 0)
		}
	}

	return changes
}

func cloneRecord(record models.IPChangeRecord) models.IPChangeRecord {
	record.AffectedUsers = slices.Clone(record.AffectedUsers)
	if record.AffectedUsers == nil {
		record.AffectedUsers = []string{}
	}
	return record
}

// logCursor walks one device log from newest to oldest
type logCursor struct {
	deviceID string
	log      []models.IPChangeRecord
	pos      int
}

func (c *logCursor) head() time.Time {
	return c.log[c.pos].Timestamp
}

// cursorHeap orders cursors by their current record, newest on top
type cursorHeap []*logCursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if !h[i].head().Equal(h[j].head()) {
		return h[i].head().After(h[j].head())
	}
	return h[i].deviceID < h[j].deviceID
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*logCursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
