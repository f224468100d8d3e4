package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

const (
	testStale = 6 * time.Second
	testDrop  = 10 * time.Second
)

func newTestTable(capacity int) *Table {
	return NewTable(capacity, testStale, testDrop, zap.NewNop())
}

func TestLifecycleRegisterHeartbeatSweep(t *testing.T) {
	tb := newTestTable(4)
	now := int64(1000)

	id, rejoined, err := tb.Register("axe-01", "10.0.0.2", "", now)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.False(t, rejoined)

	// Registration alone joins the active set.
	w, ok := tb.Get(0)
	require.True(t, ok)
	assert.Equal(t, types.Active, w.State)
	assert.Equal(t, []int{0}, tb.ActiveIDs())

	changed, err := tb.Heartbeat(&types.Heartbeat{WorkerID: 0}, now+100)
	require.NoError(t, err)
	assert.False(t, changed, "heartbeats keep an active worker alive, nothing more")
	assert.Equal(t, []int{0}, tb.ActiveIDs())

	// Within the stale threshold nothing changes.
	changed, _ = tb.Sweep(now + 100 + testStale.Milliseconds())
	assert.False(t, changed)

	// Past it the worker goes stale and leaves the active set.
	changed, dropped := tb.Sweep(now + 101 + testStale.Milliseconds())
	assert.True(t, changed)
	assert.Empty(t, dropped)
	w, _ = tb.Get(0)
	assert.Equal(t, types.Stale, w.State)
	assert.Empty(t, tb.ActiveIDs())

	// A heartbeat recovers it without re-registration.
	changed, err = tb.Heartbeat(&types.Heartbeat{WorkerID: 0}, now+8000)
	require.NoError(t, err)
	assert.True(t, changed)
	w, _ = tb.Get(0)
	assert.Equal(t, types.Active, w.State)

	// Silence past the drop threshold releases the slot.
	tb.Sweep(now + 8001 + testStale.Milliseconds())
	changed, dropped = tb.Sweep(now + 8001 + testDrop.Milliseconds())
	assert.True(t, changed)
	assert.Equal(t, []int{0}, dropped)
	_, ok = tb.Get(0)
	assert.False(t, ok)
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	tb := newTestTable(2)
	_, err := tb.Heartbeat(&types.Heartbeat{WorkerID: 0}, 0)
	assert.ErrorIs(t, err, ErrUnknownWorker)
	_, err = tb.Heartbeat(&types.Heartbeat{WorkerID: 99}, 0)
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestReconnectReclaimsSlot(t *testing.T) {
	tb := newTestTable(4)
	now := int64(1000)
	for i, name := range []string{"axe-01", "axe-02", "axe-03"} {
		id, _, err := tb.Register(name, fmt.Sprintf("10.0.0.%d", i+2), "", now)
		require.NoError(t, err)
		require.Equal(t, i, id)
		tb.Heartbeat(&types.Heartbeat{WorkerID: id}, now)
	}
	tb.RecordOutcome(1, 0, true)

	// The middle worker restarts and registers again by name.
	id, rejoined, err := tb.Register("axe-02", "10.0.0.3", "", now+500)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.True(t, rejoined)

	w, ok := tb.Get(1)
	require.True(t, ok)
	assert.Equal(t, types.Active, w.State, "a re-registered worker hashes right away")
	assert.Equal(t, uint32(1), w.Accepted[0], "rejoin keeps counters")

	// Address match works too, even under a new name.
	id, _, err = tb.Register("axe-02b", "10.0.0.3", "", now+600)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestRegisterCapacity(t *testing.T) {
	tb := newTestTable(2)
	_, _, err := tb.Register("a", "", "", 0)
	require.NoError(t, err)
	_, _, err = tb.Register("b", "", "", 0)
	require.NoError(t, err)
	_, _, err = tb.Register("c", "", "", 0)
	assert.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestAssignRangesFollowsActiveOrder(t *testing.T) {
	tb := newTestTable(4)
	for _, name := range []string{"a", "b", "c"} {
		id, _, err := tb.Register(name, "", "", 0)
		require.NoError(t, err)
		tb.Heartbeat(&types.Heartbeat{WorkerID: id}, 0)
	}
	active := tb.ActiveIDs()
	require.Equal(t, []int{0, 1, 2}, active)

	ranges := PartitionNonces(1 + len(active))
	tb.AssignRanges(active, ranges[1:])

	for i, id := range active {
		w, _ := tb.Get(id)
		assert.Equal(t, ranges[i+1].Start, w.NonceStart)
		assert.Equal(t, uint32(ranges[i+1].Size()), w.NonceSize)
	}
}

func TestTotalHashrateActiveOnly(t *testing.T) {
	tb := newTestTable(4)
	for _, name := range []string{"a", "b"} {
		id, _, _ := tb.Register(name, "", "", 0)
		tb.Heartbeat(&types.Heartbeat{
			WorkerID:  id,
			Telemetry: types.Telemetry{Hashrate: 500},
		}, 0)
	}
	assert.Equal(t, float64(1000), tb.TotalHashrate())

	// One goes stale, its rate no longer counts.
	tb.Sweep(testStale.Milliseconds() + 1)
	assert.Equal(t, float64(0), tb.TotalHashrate())
}
