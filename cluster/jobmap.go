package cluster

import (
	"sync"

	"github.com/floatdrop/lru"
)

// JobRef ties a numeric wire job id back to the upstream job it was minted
// for. Entries age out by LRU eviction; results for evicted jobs are stale
// by definition and get dropped.
type JobRef struct {
	UpstreamID  string
	Destination uint8
	NTime       uint32
	Version     uint32
}

type JobMap struct {
	cache *lru.LRU[uint32, JobRef]
}

func NewJobMap(capacity int) *JobMap {
	return &JobMap{cache: lru.New[uint32, JobRef](capacity)}
}

func (m *JobMap) Put(id uint32, ref JobRef) {
	m.cache.Set(id, ref)
}

func (m *JobMap) Get(id uint32) (JobRef, bool) {
	if v := m.cache.Get(id); v != nil {
		return *v, true
	}
	return JobRef{}, false
}

type pendingSub struct {
	corr   uint64
	worker int
	dest   uint8
	used   bool
}

// PendingTable remembers which worker each in-flight upstream submission
// came from, so accept and reject outcomes land on the right counters.
type PendingTable struct {
	mu   sync.Mutex
	subs []pendingSub
	next int
}

func NewPendingTable(n int) *PendingTable {
	return &PendingTable{subs: make([]pendingSub, n)}
}

func (p *PendingTable) Track(corr uint64, worker int, dest uint8) {
	p.mu.Lock()
	p.subs[p.next] = pendingSub{corr: corr, worker: worker, dest: dest, used: true}
	p.next = (p.next + 1) % len(p.subs)
	p.mu.Unlock()
}

func (p *PendingTable) Resolve(corr uint64) (worker int, dest uint8, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.subs {
		if p.subs[i].used && p.subs[i].corr == corr {
			p.subs[i].used = false
			return p.subs[i].worker, p.subs[i].dest, true
		}
	}
	return 0, 0, false
}
