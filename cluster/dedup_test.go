package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentRingDedup(t *testing.T) {
	r := NewRecentRing(4)
	assert.False(t, r.Seen(1, 1, 0))
	assert.True(t, r.Seen(1, 1, 0))

	// Same nonce from a different worker or job is a distinct result.
	assert.False(t, r.Seen(1, 1, 1))
	assert.False(t, r.Seen(1, 2, 0))
}

func TestRecentRingAgesOut(t *testing.T) {
	r := NewRecentRing(4)
	require.False(t, r.Seen(1, 1, 0))
	for i := uint32(2); i <= 5; i++ {
		require.False(t, r.Seen(i, 1, 0))
	}
	// The first entry was overwritten and counts as new again.
	assert.False(t, r.Seen(1, 1, 0))
}

func TestJobMapEviction(t *testing.T) {
	m := NewJobMap(4)
	for i := uint32(1); i <= 5; i++ {
		m.Put(i, JobRef{UpstreamID: "job"})
	}
	_, ok := m.Get(1)
	assert.False(t, ok, "oldest entry should be evicted")
	ref, ok := m.Get(5)
	require.True(t, ok)
	assert.Equal(t, "job", ref.UpstreamID)
}

func TestPendingResolveOnce(t *testing.T) {
	p := NewPendingTable(4)
	p.Track(7, 2, 1)

	worker, dest, ok := p.Resolve(7)
	require.True(t, ok)
	assert.Equal(t, 2, worker)
	assert.Equal(t, uint8(1), dest)

	_, _, ok = p.Resolve(7)
	assert.False(t, ok, "an outcome must attribute at most once")
}
