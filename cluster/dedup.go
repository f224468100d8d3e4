package cluster

import "sync"

type resultKey struct {
	nonce  uint32
	job    uint32
	worker int
}

// RecentRing remembers the last n results so retransmitted frames do not
// turn into duplicate upstream submissions. Old entries age out by
// overwrite; correctness only needs the window to outlast the retry span.
type RecentRing struct {
	mu   sync.Mutex
	keys []resultKey
	used []bool
	next int
}

func NewRecentRing(n int) *RecentRing {
	return &RecentRing{keys: make([]resultKey, n), used: make([]bool, n)}
}

// Seen reports whether the result was already recorded, recording it when
// not. One call both checks and claims, so concurrent duplicates cannot
// both pass.
func (r *RecentRing) Seen(nonce, job uint32, worker int) bool {
	key := resultKey{nonce: nonce, job: job, worker: worker}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.used[i] && r.keys[i] == key {
			return true
		}
	}
	r.keys[r.next] = key
	r.used[r.next] = true
	r.next = (r.next + 1) % len(r.keys)
	return false
}
