// Package upstream defines the boundary to pool connections. The cluster
// coordinator consumes jobs from a JobSource and pushes submissions back
// through it; the concrete stratum client lives behind this interface.
package upstream

import "go.uber.org/zap"

// Job is one unit of upstream work before per-worker specialization. The
// coinbase halves and branch path stay opaque to everything but the
// commitment root recompute.
type Job struct {
	ID             string
	PrevRef        [32]byte
	Coinbase1      []byte
	Coinbase2      []byte
	Extranonce1    []byte
	Extranonce2Len int
	Branches       [][]byte
	Version        uint32
	VersionMask    uint32
	Target         uint32
	NTime          uint32
	MinDifficulty  uint32
	Clean          bool
	Destination    uint8
	BlockHeight    uint32
	NetworkDiff    string
}

// Submission is one result on its way upstream. CorrelationID ties the
// asynchronous outcome back to the submitting worker.
type Submission struct {
	CorrelationID uint64
	JobID         string
	Destination   uint8
	Extranonce2   []byte
	Nonce         uint32
	NTime         uint32
	Version       uint32
}

// OutcomeFunc reports the upstream verdict for a prior Submission.
type OutcomeFunc func(correlationID uint64, accepted bool, reason string)

type JobSource interface {
	Start() error
	Stop()

	// Jobs delivers new work. The channel closes when the source stops.
	Jobs() <-chan *Job

	Submit(sub *Submission) error

	// OnOutcome installs the outcome callback. Must be called before Start.
	OnOutcome(f OutcomeFunc)
}

// NopSource satisfies JobSource without any pool connection, for nodes that
// only relay or for bring-up without upstream credentials.
type NopSource struct {
	logger *zap.Logger
	jobs   chan *Job
}

func NewNopSource(logger *zap.Logger) *NopSource {
	return &NopSource{logger: logger, jobs: make(chan *Job)}
}

func (n *NopSource) Start() error { return nil }

func (n *NopSource) Stop() { close(n.jobs) }

func (n *NopSource) Jobs() <-chan *Job { return n.jobs }

func (n *NopSource) Submit(sub *Submission) error {
	n.logger.Warn("no upstream configured, submission discarded",
		zap.String("job", sub.JobID),
		zap.Uint64("correlation", sub.CorrelationID))
	return nil
}

func (n *NopSource) OnOutcome(f OutcomeFunc) {}
