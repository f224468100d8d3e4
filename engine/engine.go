// Package engine is the boundary to the local hashing hardware.
package engine

import (
	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

// Result is one nonce the hardware found for a previously submitted unit.
type Result struct {
	JobID   uint32
	Nonce   uint32
	NTime   uint32
	Version uint32
}

type ResultFunc func(r Result)

type Engine interface {
	Start() error
	Stop()

	// SubmitWork replaces the unit being hashed.
	SubmitWork(w *types.WorkUnit) error

	// OnResult installs the result callback. Must be called before Start.
	OnResult(f ResultFunc)
}

// TelemetrySource supplies the health block carried in heartbeats. Nodes
// without instrumented hardware use Static.
type TelemetrySource interface {
	Telemetry() types.Telemetry
}

// Static is a fixed TelemetrySource.
type Static struct {
	T types.Telemetry
}

func (s Static) Telemetry() types.Telemetry { return s.T }

// Null discards work and never finds results. It stands in for real
// hardware on relay-only nodes and in bring-up.
type Null struct {
	logger *zap.Logger
}

func NewNull(logger *zap.Logger) *Null { return &Null{logger: logger} }

func (n *Null) Start() error { return nil }

func (n *Null) Stop() {}

func (n *Null) SubmitWork(w *types.WorkUnit) error {
	n.logger.Debug("work discarded, no engine attached",
		zap.Uint32("job", w.JobID),
		zap.Uint32("noncestart", w.NonceStart),
		zap.Uint32("nonceend", w.NonceEnd))
	return nil
}

func (n *Null) OnResult(f ResultFunc) {}
