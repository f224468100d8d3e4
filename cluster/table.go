package cluster

import (
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

// Table is the coordinator's worker registry: a fixed array of slots whose
// index is the worker id. All methods take the current time in milliseconds
// so the lifecycle math stays deterministic under test.
type Table struct {
	logger  *zap.Logger
	staleMS int64
	dropMS  int64

	mu    sync.Mutex
	slots []types.WorkerInfo
}

func NewTable(capacity int, stale, drop time.Duration, logger *zap.Logger) *Table {
	t := &Table{
		logger:  logger,
		staleMS: stale.Milliseconds(),
		dropMS:  drop.Milliseconds(),
		slots:   make([]types.WorkerInfo, capacity),
	}
	for i := range t.slots {
		t.slots[i].ID = i
		t.slots[i].State = types.Disconnected
	}
	return t
}

// Register claims a slot for a worker and puts it straight into the active
// set; it hashes from the moment it is acked, heartbeats only keep it alive.
// A returning worker matched by name, network address or radio address gets
// its old slot back, with counters intact on a name match. The second return
// reports whether the slot was already occupied.
func (t *Table) Register(name, netAddr, radioAddr string, now int64) (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := -1
	for i := range t.slots {
		w := &t.slots[i]
		if w.State == types.Disconnected {
			continue
		}
		if w.Name == name ||
			(netAddr != "" && w.NetAddr == netAddr) ||
			(radioAddr != "" && w.RadioAddr == radioAddr) {
			slot = i
			break
		}
	}
	if slot < 0 {
		for i := range t.slots {
			if t.slots[i].State == types.Disconnected {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		return -1, false, ErrNoFreeSlot
	}

	w := &t.slots[slot]
	rejoined := w.State != types.Disconnected
	if !(rejoined && w.Name == name) {
		// Fresh occupant, do not inherit the previous worker's counters.
		*w = types.WorkerInfo{ID: slot}
	}
	w.State = types.Active
	w.Name = name
	w.NetAddr = netAddr
	if radioAddr != "" {
		w.RadioAddr = radioAddr
	}
	w.LastRegistered = now
	w.LastHeartbeat = now
	t.logger.Info("worker registered",
		zap.Int("worker", slot),
		zap.String("name", name),
		zap.String("netaddr", netAddr),
		zap.Bool("rejoined", rejoined))
	return slot, rejoined, nil
}

// Heartbeat refreshes a worker's liveness and telemetry. The first return
// reports a membership change: a stale worker coming back into the active
// set.
func (t *Table) Heartbeat(hb *types.Heartbeat, now int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hb.WorkerID < 0 || hb.WorkerID >= len(t.slots) {
		return false, ErrUnknownWorker
	}
	w := &t.slots[hb.WorkerID]
	if w.State == types.Disconnected {
		return false, ErrUnknownWorker
	}
	changed := false
	if w.State == types.Stale {
		w.State = types.Active
		changed = true
		t.logger.Info("worker recovered", zap.Int("worker", w.ID), zap.String("name", w.Name))
	}
	w.LastHeartbeat = now
	w.Telemetry = hb.Telemetry
	w.ResultsReported = hb.Results
	return changed, nil
}

// Sweep ages workers out: active ones go stale past the stale threshold,
// stale ones disconnect past the drop threshold. Returns whether the active
// set changed and which slots were released.
func (t *Table) Sweep(now int64) (bool, []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	var dropped []int
	for i := range t.slots {
		w := &t.slots[i]
		age := now - w.LastHeartbeat
		switch w.State {
		case types.Active:
			if age > t.staleMS {
				w.State = types.Stale
				changed = true
				t.logger.Warn("worker stale",
					zap.Int("worker", w.ID),
					zap.String("name", w.Name),
					zap.Int64("agems", age))
			}
		case types.Stale:
			if age > t.dropMS {
				w.State = types.Disconnected
				w.NonceStart, w.NonceSize = 0, 0
				dropped = append(dropped, i)
				changed = true
				t.logger.Warn("worker disconnected",
					zap.Int("worker", w.ID),
					zap.String("name", w.Name),
					zap.Int64("agems", age))
			}
		}
	}
	return changed, dropped
}

// ActiveIDs lists active slots in slot order. Range assignment follows the
// same order, so the two stay aligned.
func (t *Table) ActiveIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int
	for i := range t.slots {
		if t.slots[i].State == types.Active {
			ids = append(ids, i)
		}
	}
	return ids
}

// AssignRanges stores one range per listed worker.
func (t *Table) AssignRanges(ids []int, ranges []NonceRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, id := range ids {
		if i >= len(ranges) || id < 0 || id >= len(t.slots) {
			break
		}
		w := &t.slots[id]
		w.NonceStart = ranges[i].Start
		w.NonceSize = uint32(ranges[i].Size())
	}
}

func (t *Table) Get(id int) (types.WorkerInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || t.slots[id].State == types.Disconnected {
		return types.WorkerInfo{}, false
	}
	return t.slots[id], true
}

func (t *Table) MarkWorkSent(id int, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id >= 0 && id < len(t.slots) {
		t.slots[id].LastWorkSent = now
	}
}

func (t *Table) RecordResult(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id >= 0 && id < len(t.slots) {
		t.slots[id].ResultsSubmitted++
	}
}

func (t *Table) RecordOutcome(id int, dest uint8, accepted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || dest >= types.MaxDestinations {
		return
	}
	if accepted {
		t.slots[id].Accepted[dest]++
	} else {
		t.slots[id].Rejected[dest]++
	}
}

func (t *Table) ActiveCount() int {
	return len(t.ActiveIDs())
}

// TotalHashrate sums the last reported hashrate of the active set.
func (t *Table) TotalHashrate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for i := range t.slots {
		if t.slots[i].State == types.Active {
			sum += t.slots[i].Telemetry.Hashrate
		}
	}
	return sum
}

// Snapshot deep-copies every occupied slot for the status surface.
func (t *Table) Snapshot() []types.WorkerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.WorkerInfo
	for i := range t.slots {
		if t.slots[i].State == types.Disconnected {
			continue
		}
		var w types.WorkerInfo
		copier.Copy(&w, &t.slots[i])
		out = append(out, w)
	}
	return out
}
