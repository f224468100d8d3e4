package cluster

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/engine"
	"github.com/ShaeOJ/ClusterAxe-sub000/protocol"
	"github.com/ShaeOJ/ClusterAxe-sub000/transport"
	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

const workerRecentResults = 16

// Worker is the agent side: it registers with the coordinator, heartbeats,
// hashes its assigned slice of the nonce space and reports results back.
type Worker struct {
	ctx    *Context
	logger *zap.Logger

	eng engine.Engine
	tel engine.TelemetrySource

	// id is the assigned slot, -1 until the coordinator acks registration.
	id         int32
	registered int32

	workMu   sync.Mutex
	cur      types.WorkUnit
	haveWork bool

	recent  *RecentRing
	resultQ chan *types.ResultSubmission
	quit    chan struct{}
	wg      sync.WaitGroup

	resultsFound uint32
	resultsSent  uint32
}

func NewWorker(ctx *Context, eng engine.Engine, tel engine.TelemetrySource) *Worker {
	w := &Worker{
		ctx:     ctx,
		logger:  ctx.Logger.With(zap.String("role", "worker")),
		eng:     eng,
		tel:     tel,
		id:      -1,
		recent:  NewRecentRing(workerRecentResults),
		resultQ: make(chan *types.ResultSubmission, resultQueueDepth),
	}
	eng.OnResult(w.handleEngineResult)
	return w
}

func (w *Worker) Start() error {
	w.quit = make(chan struct{})
	w.wg.Add(2)
	go w.heartbeatLoop()
	go w.senderLoop()
	w.logger.Info("worker agent started",
		zap.String("name", w.ctx.Config.WorkerName),
		zap.String("cluster", w.ctx.Config.ClusterID))
	return nil
}

func (w *Worker) Stop() {
	close(w.quit)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		w.logger.Warn("worker stop timed out")
	}
}

func (w *Worker) ID() int { return int(atomic.LoadInt32(&w.id)) }

func (w *Worker) Registered() bool { return atomic.LoadInt32(&w.registered) == 1 }

// heartbeatLoop announces this worker until acked, then keeps the
// registration warm with telemetry heartbeats.
func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.ctx.Config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if w.Registered() {
			w.sendHeartbeat()
		} else {
			w.sendRegister()
		}
		select {
		case <-w.quit:
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) sendRegister() {
	buf := make([]byte, protocol.MaxSentence)
	n, err := protocol.EncodeRegister(buf, w.ctx.Config.WorkerName, w.ctx.Config.NetAddr)
	if err != nil {
		w.logger.Error("registration encode failed", zap.Error(err))
		return
	}
	w.sendUp(buf[:n])
	w.logger.Debug("registration sent", zap.String("name", w.ctx.Config.WorkerName))
}

func (w *Worker) sendHeartbeat() {
	hb := &types.Heartbeat{
		WorkerID: w.ID(),
		Results:  atomic.LoadUint32(&w.resultsFound),
	}
	if w.tel != nil {
		hb.Telemetry = w.tel.Telemetry()
	}
	buf := make([]byte, protocol.MaxSentence)
	n, err := protocol.EncodeHeartbeat(buf, hb, true)
	if err != nil {
		return
	}
	w.sendUp(buf[:n])
}

// HandleFrame dispatches one decoded sentence from the transport.
func (w *Worker) HandleFrame(typ string, fields []string, from transport.From) {
	switch typ {
	case protocol.TypeAck:
		w.handleAck(fields)
	case protocol.TypeWork:
		w.handleWork(fields)
	case protocol.TypeHeartbeat:
		// Coordinator echo, liveness only.
		w.logger.Debug("heartbeat echo received")
	default:
		w.logger.Debug("unexpected frame", zap.String("type", typ))
	}
}

func (w *Worker) handleAck(fields []string) {
	id, status, err := protocol.DecodeAck(fields)
	if err != nil {
		w.logger.Warn("malformed ack dropped", zap.Error(err))
		return
	}
	if w.Registered() && id != w.ID() {
		// Shared-line ack meant for a different worker.
		return
	}
	atomic.StoreInt32(&w.id, int32(id))
	atomic.StoreInt32(&w.registered, 1)
	w.logger.Info("registration acknowledged",
		zap.Int("worker", id), zap.String("status", status))
}

func (w *Worker) handleWork(fields []string) {
	unit, err := protocol.DecodeWork(fields)
	if err != nil {
		w.logger.Warn("malformed work dropped", zap.Error(err))
		return
	}
	if !w.Registered() || unit.TargetWorker != w.ID() {
		return
	}
	unit.ReceivedAt = w.ctx.Now()

	w.workMu.Lock()
	sameJob := w.haveWork && w.cur.JobID == unit.JobID &&
		w.cur.ExtranonceLen == unit.ExtranonceLen &&
		bytes.Equal(w.cur.Extranonce[:], unit.Extranonce[:])
	if sameJob && !unit.Clean {
		w.workMu.Unlock()
		w.logger.Debug("work repeat ignored", zap.Uint32("job", unit.JobID))
		return
	}
	w.cur = *unit
	w.haveWork = true
	w.workMu.Unlock()

	w.logger.Info("work accepted",
		zap.Uint32("job", unit.JobID),
		zap.Uint32("noncestart", unit.NonceStart),
		zap.Uint32("nonceend", unit.NonceEnd),
		zap.Bool("clean", unit.Clean))
	if err := w.eng.SubmitWork(unit); err != nil {
		w.logger.Warn("engine rejected work", zap.Error(err))
	}
}

// handleEngineResult turns a found nonce into a queued submission, dropping
// stale and duplicate finds.
func (w *Worker) handleEngineResult(res engine.Result) {
	w.workMu.Lock()
	if !w.haveWork || res.JobID != w.cur.JobID {
		w.workMu.Unlock()
		w.logger.Debug("stale result dropped", zap.Uint32("job", res.JobID))
		return
	}
	cur := w.cur
	w.workMu.Unlock()

	id := w.ID()
	if w.recent.Seen(res.Nonce, res.JobID, id) {
		w.logger.Debug("duplicate result dropped", zap.Uint32("nonce", res.Nonce))
		return
	}
	atomic.AddUint32(&w.resultsFound, 1)

	sub := &types.ResultSubmission{
		WorkerID:      id,
		JobID:         res.JobID,
		Nonce:         res.Nonce,
		NTime:         res.NTime,
		Version:       res.Version,
		Extranonce:    cur.Extranonce,
		ExtranonceLen: cur.ExtranonceLen,
		Destination:   cur.Destination,
		FoundAt:       w.ctx.Now(),
	}
	if sub.NTime == 0 {
		sub.NTime = cur.NTime
	}
	if sub.Version == 0 {
		sub.Version = cur.Version
	}
	select {
	case w.resultQ <- sub:
	default:
		w.logger.Warn("result dropped", zap.Uint32("nonce", res.Nonce), zap.Error(ErrQueueFull))
	}
}

func (w *Worker) senderLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case sub := <-w.resultQ:
			w.sendResult(sub)
		}
	}
}

func (w *Worker) sendResult(sub *types.ResultSubmission) {
	buf := make([]byte, protocol.MaxSentence)
	n, err := protocol.EncodeResult(buf, sub)
	if err != nil {
		w.logger.Error("result encode failed", zap.Error(err))
		return
	}
	w.sendUp(buf[:n])
	atomic.AddUint32(&w.resultsSent, 1)
	w.logger.Info("result sent",
		zap.Uint32("job", sub.JobID),
		zap.Uint32("nonce", sub.Nonce))
}

// sendUp pushes a frame toward the coordinator, falling back to broadcast
// when no direct address is known yet, with the configured retry spacing.
func (w *Worker) sendUp(frame []byte) {
	cfg := w.ctx.Config
	for attempt := 0; attempt < cfg.SendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.RetryDelay)
		}
		err := w.ctx.Transport.SendToCoordinator(frame)
		if err == nil {
			return
		}
		if err := w.ctx.Transport.Send(transport.Broadcast, frame); err == nil {
			return
		}
		w.logger.Debug("send to coordinator failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

func (w *Worker) Status() *types.ClusterStatus {
	var tel types.Telemetry
	if w.tel != nil {
		tel = w.tel.Telemetry()
	}
	st := &types.ClusterStatus{
		Role:      types.RoleWorker.String(),
		ClusterID: w.ctx.Config.ClusterID,
		Hashrate:  tel.Hashrate,
		Time:      w.ctx.Now(),
	}
	w.workMu.Lock()
	cur := w.cur
	haveWork := w.haveWork
	w.workMu.Unlock()
	ws := &types.WorkerStatus{
		ID:        w.ID(),
		Name:      w.ctx.Config.WorkerName,
		NetAddr:   w.ctx.Config.NetAddr,
		Telemetry: tel,
		Reported:  atomic.LoadUint32(&w.resultsFound),
		Submitted: atomic.LoadUint32(&w.resultsSent),
	}
	if w.Registered() {
		ws.State = types.Active.String()
		st.ActiveWorkers = 1
	} else {
		ws.State = types.Registering.String()
	}
	if haveWork {
		ws.NonceFrom = fmt.Sprintf("%08x", cur.NonceStart)
		ws.NonceTo = fmt.Sprintf("%08x", cur.NonceEnd)
	}
	st.Workers = append(st.Workers, ws)
	return st
}
