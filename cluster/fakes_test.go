package cluster

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/engine"
	"github.com/ShaeOJ/ClusterAxe-sub000/transport"
	"github.com/ShaeOJ/ClusterAxe-sub000/types"
	"github.com/ShaeOJ/ClusterAxe-sub000/upstream"
)

var _ transport.Transport = (*fakeTransport)(nil)

type sentFrame struct {
	to    int
	frame []byte
}

// fakeTransport records frames instead of moving them, so scenarios can
// assert on exactly what would have hit the wire.
type fakeTransport struct {
	mu         sync.Mutex
	maxPayload int
	sent       []sentFrame
	up         [][]byte
	peers      map[int]string
	coordErr   error
}

func newFakeTransport(maxPayload int) *fakeTransport {
	return &fakeTransport{maxPayload: maxPayload, peers: map[int]string{}}
}

func (f *fakeTransport) Start() error { return nil }
func (f *fakeTransport) Stop()        {}

func (f *fakeTransport) OnReceive(h transport.Handler) {}

func (f *fakeTransport) Send(workerID int, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{to: workerID, frame: append([]byte(nil), frame...)})
	return nil
}

func (f *fakeTransport) SendToCoordinator(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.coordErr != nil {
		return f.coordErr
	}
	f.up = append(f.up, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) AddPeer(workerID int, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[workerID] = addr
	return nil
}

func (f *fakeTransport) RemovePeer(workerID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, workerID)
	return nil
}

func (f *fakeTransport) SignalStrength(workerID int) int { return -42 }

func (f *fakeTransport) StartDiscovery(clusterID string) error { return nil }

func (f *fakeTransport) StopDiscovery() {}

func (f *fakeTransport) MaxPayload() int { return f.maxPayload }

func (f *fakeTransport) sentTo(workerID int) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, s := range f.sent {
		if s.to == workerID {
			out = append(out, s.frame)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.up = nil
	f.mu.Unlock()
}

type fakeSource struct {
	mu      sync.Mutex
	jobs    chan *upstream.Job
	subs    []*upstream.Submission
	outcome upstream.OutcomeFunc
}

func newFakeSource() *fakeSource {
	return &fakeSource{jobs: make(chan *upstream.Job, 8)}
}

func (f *fakeSource) Start() error               { return nil }
func (f *fakeSource) Stop()                      { close(f.jobs) }
func (f *fakeSource) Jobs() <-chan *upstream.Job { return f.jobs }

func (f *fakeSource) Submit(sub *upstream.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeSource) OnOutcome(fn upstream.OutcomeFunc) { f.outcome = fn }

func (f *fakeSource) submissions() []*upstream.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*upstream.Submission(nil), f.subs...)
}

type fakeEngine struct {
	mu    sync.Mutex
	units []*types.WorkUnit
	cb    engine.ResultFunc
}

func (f *fakeEngine) Start() error { return nil }
func (f *fakeEngine) Stop()        {}

func (f *fakeEngine) SubmitWork(w *types.WorkUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	f.units = append(f.units, &cp)
	return nil
}

func (f *fakeEngine) OnResult(fn engine.ResultFunc) { f.cb = fn }

func (f *fakeEngine) last() *types.WorkUnit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.units) == 0 {
		return nil
	}
	return f.units[len(f.units)-1]
}

// testContext builds a Context with a hand-cranked clock.
func testContext(cfg Config, tr *fakeTransport) (*Context, *int64) {
	ctx := NewContext(cfg, tr, zap.NewNop())
	now := new(int64)
	*now = 1_000_000
	ctx.now = func() int64 { return *now }
	return ctx, now
}

func sampleJob(dest uint8) *upstream.Job {
	return &upstream.Job{
		ID:             "6617f1a3",
		Coinbase1:      []byte{0x01, 0x02, 0x03},
		Coinbase2:      []byte{0x04, 0x05},
		Extranonce1:    []byte{0xaa, 0xbb},
		Extranonce2Len: 4,
		Branches:       [][]byte{make([]byte, 32)},
		Version:        0x20000000,
		VersionMask:    0x1fffe000,
		Target:         0x1705dd01,
		NTime:          0x66f2aa01,
		MinDifficulty:  256,
		Clean:          true,
		Destination:    dest,
		BlockHeight:    861234,
		NetworkDiff:    "90.67T",
	}
}
