package cluster

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/engine"
	"github.com/ShaeOJ/ClusterAxe-sub000/protocol"
	"github.com/ShaeOJ/ClusterAxe-sub000/statistics"
	"github.com/ShaeOJ/ClusterAxe-sub000/transport"
	"github.com/ShaeOJ/ClusterAxe-sub000/types"
	"github.com/ShaeOJ/ClusterAxe-sub000/upstream"
)

const (
	resultQueueDepth = 16
	recentResults    = 64
	jobMapCapacity   = 256
	pendingDepth     = 64
	monitorInterval  = time.Second
)

// Coordinator owns the worker table, splits the nonce space, fans work out
// and funnels results upstream. It takes the first partition for its own
// engine; registered workers get the rest.
type Coordinator struct {
	ctx    *Context
	logger *zap.Logger

	table   *Table
	recent  *RecentRing
	jobs    *JobMap
	pending *PendingTable
	window  *statistics.HashRate

	source upstream.JobSource
	eng    engine.Engine

	workMu    sync.Mutex
	curJob    *upstream.Job
	curJobID  uint32
	haveWork  bool
	localUnit types.WorkUnit

	resultQ chan *types.ResultSubmission
	quit    chan struct{}
	wg      sync.WaitGroup

	nextJobID   uint32
	nextCorr    uint64
	extraCtr    uint32
	distributed [types.MaxDestinations]uint32
	jobsSeen    uint32
	jobsSkipped uint32
	queueDrops  uint32
}

// NewCoordinator wires the coordinator against a job source and an optional
// local engine. A nil engine means the node only coordinates.
func NewCoordinator(ctx *Context, source upstream.JobSource, eng engine.Engine) *Coordinator {
	cfg := ctx.Config
	c := &Coordinator{
		ctx:     ctx,
		logger:  ctx.Logger.With(zap.String("role", "coordinator")),
		table:   NewTable(cfg.MaxWorkers, cfg.StaleAfter, cfg.DropAfter, ctx.Logger),
		recent:  NewRecentRing(recentResults),
		jobs:    NewJobMap(jobMapCapacity),
		pending: NewPendingTable(pendingDepth),
		window:  &statistics.HashRate{},
		source:  source,
		eng:     eng,
		resultQ: make(chan *types.ResultSubmission, resultQueueDepth),
	}
	source.OnOutcome(c.handleOutcome)
	if eng != nil {
		eng.OnResult(c.handleLocalResult)
	}
	return c
}

func (c *Coordinator) Start() error {
	c.quit = make(chan struct{})
	if err := c.ctx.Transport.StartDiscovery(c.ctx.Config.ClusterID); err != nil {
		c.logger.Warn("discovery not started", zap.Error(err))
	}
	c.wg.Add(3)
	go c.jobLoop()
	go c.submitLoop()
	go c.monitorLoop()
	c.logger.Info("coordinator started",
		zap.String("cluster", c.ctx.Config.ClusterID),
		zap.Int("maxworkers", c.ctx.Config.MaxWorkers))
	return nil
}

func (c *Coordinator) Stop() {
	c.ctx.Transport.StopDiscovery()
	close(c.quit)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.logger.Warn("coordinator stop timed out")
	}
}

// HandleFrame dispatches one decoded sentence from the transport.
func (c *Coordinator) HandleFrame(typ string, fields []string, from transport.From) {
	switch typ {
	case protocol.TypeRegister:
		c.handleRegister(fields, from)
	case protocol.TypeHeartbeat:
		c.handleHeartbeat(fields)
	case protocol.TypeResult:
		c.handleResult(fields)
	default:
		c.logger.Debug("unexpected frame", zap.String("type", typ))
	}
}

func (c *Coordinator) handleRegister(fields []string, from transport.From) {
	name, netAddr, err := protocol.DecodeRegister(fields)
	if err != nil {
		c.logger.Warn("malformed registration dropped", zap.Error(err))
		return
	}
	now := c.ctx.Now()
	id, _, err := c.table.Register(name, netAddr, from.Addr, now)
	if err != nil {
		c.logger.Warn("registration rejected",
			zap.String("name", name), zap.Error(err))
		return
	}
	if from.Addr != "" {
		if err := c.ctx.Transport.AddPeer(id, from.Addr); err != nil {
			c.logger.Warn("peer add failed",
				zap.Int("worker", id), zap.String("addr", from.Addr), zap.Error(err))
		}
	}
	buf := make([]byte, protocol.MaxSentence)
	n, err := protocol.EncodeAck(buf, id, "registered")
	if err == nil {
		c.sendFrame(id, buf[:n])
	}
	// The worker is active from this point; give it its slice of the nonce
	// space right behind the ACK instead of waiting for a heartbeat.
	c.redistribute()
}

func (c *Coordinator) handleHeartbeat(fields []string) {
	hb, err := protocol.DecodeHeartbeat(fields)
	if err != nil {
		c.logger.Warn("malformed heartbeat dropped", zap.Error(err))
		return
	}
	changed, err := c.table.Heartbeat(hb, c.ctx.Now())
	if err != nil {
		c.logger.Debug("heartbeat from unknown worker", zap.Int("worker", hb.WorkerID))
		return
	}
	// Echo confirms liveness in both directions.
	buf := make([]byte, protocol.MaxSentence)
	if n, err := protocol.EncodeHeartbeat(buf, &types.Heartbeat{WorkerID: hb.WorkerID}, false); err == nil {
		c.ctx.Transport.Send(hb.WorkerID, buf[:n])
	}
	if changed {
		c.redistribute()
	}
}

func (c *Coordinator) handleResult(fields []string) {
	r, err := protocol.DecodeResult(fields)
	if err != nil {
		c.logger.Warn("malformed result dropped", zap.Error(err))
		return
	}
	if _, ok := c.table.Get(r.WorkerID); !ok {
		c.logger.Warn("result from unknown worker dropped", zap.Int("worker", r.WorkerID))
		return
	}
	if err := c.enqueueResult(r); err != nil {
		c.logger.Warn("result dropped",
			zap.Int("worker", r.WorkerID),
			zap.Uint32("drops", atomic.LoadUint32(&c.queueDrops)),
			zap.Error(err))
	}
}

// enqueueResult admits one result into the submission queue, dropping
// duplicates silently and returning ErrQueueFull on overflow.
func (c *Coordinator) enqueueResult(r *types.ResultSubmission) error {
	if c.recent.Seen(r.Nonce, r.JobID, r.WorkerID) {
		c.logger.Debug("duplicate result dropped",
			zap.Int("worker", r.WorkerID),
			zap.Uint32("job", r.JobID),
			zap.Uint32("nonce", r.Nonce))
		return nil
	}
	c.table.RecordResult(r.WorkerID)
	select {
	case c.resultQ <- r:
		return nil
	default:
		atomic.AddUint32(&c.queueDrops, 1)
		return ErrQueueFull
	}
}

// handleLocalResult feeds results from the coordinator's own engine into
// the same pipeline as worker results.
func (c *Coordinator) handleLocalResult(res engine.Result) {
	c.workMu.Lock()
	if !c.haveWork || res.JobID != c.curJobID {
		c.workMu.Unlock()
		return
	}
	unit := c.localUnit
	c.workMu.Unlock()

	sub := &types.ResultSubmission{
		WorkerID:      -1,
		JobID:         res.JobID,
		Nonce:         res.Nonce,
		NTime:         res.NTime,
		Version:       res.Version,
		Extranonce:    unit.Extranonce,
		ExtranonceLen: unit.ExtranonceLen,
		Destination:   unit.Destination,
		FoundAt:       c.ctx.Now(),
	}
	if sub.NTime == 0 {
		sub.NTime = unit.NTime
	}
	if sub.Version == 0 {
		sub.Version = unit.Version
	}
	if err := c.enqueueResult(sub); err != nil {
		c.logger.Warn("local result dropped", zap.Error(err))
	}
}

func (c *Coordinator) jobLoop() {
	defer c.wg.Done()
	jobs := c.source.Jobs()
	for {
		select {
		case <-c.quit:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			c.acceptJob(job)
		}
	}
}

// acceptJob admits one upstream job into distribution, unless the ratio
// balancer decides its destination is over-served.
func (c *Coordinator) acceptJob(job *upstream.Job) {
	atomic.AddUint32(&c.jobsSeen, 1)
	if c.overServed(job.Destination) {
		atomic.AddUint32(&c.jobsSkipped, 1)
		c.logger.Info("job skipped for destination balance",
			zap.String("job", job.ID),
			zap.Uint8("destination", job.Destination))
		return
	}

	snapshot := &upstream.Job{}
	copier.Copy(snapshot, job)

	c.workMu.Lock()
	c.nextJobID++
	id := c.nextJobID
	c.curJob = snapshot
	c.curJobID = id
	c.haveWork = true
	c.distributed[job.Destination%types.MaxDestinations]++
	c.workMu.Unlock()

	c.jobs.Put(id, JobRef{
		UpstreamID:  job.ID,
		Destination: job.Destination,
		NTime:       job.NTime,
		Version:     job.Version,
	})
	c.logger.Info("job admitted",
		zap.Uint32("id", id),
		zap.String("upstream", job.ID),
		zap.Uint8("destination", job.Destination),
		zap.Bool("clean", job.Clean))
	c.redistribute()
}

// overServed applies the configured share targets. A destination is skipped
// when it sits half a job or more above its target share, which keeps a
// 50/50 split within one job of even.
func (c *Coordinator) overServed(dest uint8) bool {
	shares := c.shareTargets()
	if shares == nil || dest >= types.MaxDestinations {
		return false
	}
	c.workMu.Lock()
	defer c.workMu.Unlock()
	var total uint32
	for _, n := range c.distributed {
		total += n
	}
	if total == 0 {
		return false
	}
	return float64(c.distributed[dest])-shares[dest]*float64(total) >= 0.5
}

func (c *Coordinator) shareTargets() []float64 {
	ups := c.ctx.Config.Upstreams
	if len(ups) < 2 {
		return nil
	}
	shares := make([]float64, types.MaxDestinations)
	var sum float64
	for _, u := range ups {
		if int(u.Tag) < len(shares) {
			shares[u.Tag] = u.Share
			sum += u.Share
		}
	}
	if sum <= 0 {
		for i := range shares {
			shares[i] = 1.0 / float64(len(shares))
		}
		return shares
	}
	for i := range shares {
		shares[i] /= sum
	}
	return shares
}

// redistribute recomputes the nonce partition for the current membership
// and pushes specialized work to every active worker and the local engine.
func (c *Coordinator) redistribute() {
	active := c.table.ActiveIDs()
	ranges := PartitionNonces(1 + len(active))
	c.table.AssignRanges(active, ranges[1:])
	c.logger.Info("nonce space repartitioned",
		zap.Int("nodes", 1+len(active)),
		zap.Uint32("rangesize", uint32(ranges[0].Size())))

	c.workMu.Lock()
	haveWork := c.haveWork
	c.workMu.Unlock()
	if !haveWork {
		return
	}

	c.submitLocal(ranges[0])
	for _, id := range active {
		if info, ok := c.table.Get(id); ok {
			c.sendWork(info)
		}
	}
}

// buildUnit specializes the current job for one node. workerID -1 builds
// the coordinator's own unit.
func (c *Coordinator) buildUnit(workerID int, rng NonceRange) (*types.WorkUnit, error) {
	c.workMu.Lock()
	defer c.workMu.Unlock()
	if !c.haveWork {
		return nil, ErrNoCurrentWork
	}
	job := c.curJob

	enLen := job.Extranonce2Len
	if enLen <= 0 || enLen > 8 {
		enLen = 4
	}
	var en [8]byte
	en[0] = byte(workerID + 1)
	ctr := atomic.AddUint32(&c.extraCtr, 1)
	stamp := uint32(c.ctx.Now())
	if enLen > 1 {
		filler := make([]byte, 8)
		binary.LittleEndian.PutUint32(filler, ctr)
		binary.LittleEndian.PutUint32(filler[4:], stamp)
		copy(en[1:enLen], filler)
	}

	unit := &types.WorkUnit{
		TargetWorker:  workerID,
		JobID:         c.curJobID,
		PrevRef:       job.PrevRef,
		CommitRoot:    CommitmentRoot(job.Coinbase1, job.Extranonce1, en[:enLen], job.Coinbase2, job.Branches),
		Version:       job.Version,
		VersionMask:   job.VersionMask,
		Target:        job.Target,
		NTime:         job.NTime,
		NonceStart:    rng.Start,
		NonceEnd:      rng.End,
		Extranonce:    en,
		ExtranonceLen: uint8(enLen),
		Clean:         job.Clean,
		MinDifficulty: job.MinDifficulty,
		Destination:   job.Destination,
		BlockHeight:   job.BlockHeight,
		NetworkDiff:   job.NetworkDiff,
		ReceivedAt:    c.ctx.Now(),
	}
	if workerID < 0 {
		c.localUnit = *unit
	}
	return unit, nil
}

func (c *Coordinator) submitLocal(rng NonceRange) {
	if c.eng == nil {
		return
	}
	unit, err := c.buildUnit(-1, rng)
	if err != nil {
		return
	}
	if err := c.eng.SubmitWork(unit); err != nil {
		c.logger.Warn("local engine rejected work", zap.Error(err))
	}
}

func (c *Coordinator) sendWork(info types.WorkerInfo) {
	rng := NonceRange{Start: info.NonceStart, End: info.NonceStart + info.NonceSize - 1}
	unit, err := c.buildUnit(info.ID, rng)
	if err != nil {
		return
	}
	extended := c.ctx.Transport.MaxPayload() >= protocol.MaxExtendedWork
	buf := make([]byte, protocol.MaxSentence)
	n, err := protocol.EncodeWork(buf, unit, extended)
	if err != nil {
		c.logger.Error("work encode failed", zap.Int("worker", info.ID), zap.Error(err))
		return
	}
	c.sendFrame(info.ID, buf[:n])
	c.table.MarkWorkSent(info.ID, c.ctx.Now())
	c.logger.Debug("work sent",
		zap.Int("worker", info.ID),
		zap.Uint32("job", unit.JobID),
		zap.Uint32("noncestart", unit.NonceStart),
		zap.Uint32("nonceend", unit.NonceEnd))
}

// sendFrame pushes one frame, retrying locally failed sends with a short
// spacing. Delivery itself is never confirmed by the link.
func (c *Coordinator) sendFrame(workerID int, frame []byte) {
	cfg := c.ctx.Config
	for attempt := 0; attempt < cfg.SendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.RetryDelay)
		}
		if err := c.ctx.Transport.Send(workerID, frame); err != nil {
			c.logger.Debug("send failed",
				zap.Int("worker", workerID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return
	}
}

func (c *Coordinator) submitLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case r := <-c.resultQ:
			c.submitOne(r)
		}
	}
}

func (c *Coordinator) submitOne(r *types.ResultSubmission) {
	ref, ok := c.jobs.Get(r.JobID)
	if !ok {
		c.logger.Warn("result for unknown job dropped",
			zap.Int("worker", r.WorkerID),
			zap.Uint32("job", r.JobID))
		return
	}
	corr := atomic.AddUint64(&c.nextCorr, 1)
	c.pending.Track(corr, r.WorkerID, ref.Destination)
	sub := &upstream.Submission{
		CorrelationID: corr,
		JobID:         ref.UpstreamID,
		Destination:   ref.Destination,
		Extranonce2:   append([]byte(nil), r.Extranonce[:r.ExtranonceLen]...),
		Nonce:         r.Nonce,
		NTime:         r.NTime,
		Version:       r.Version,
	}
	if sub.NTime == 0 {
		sub.NTime = ref.NTime
	}
	if sub.Version == 0 {
		sub.Version = ref.Version
	}
	if err := c.source.Submit(sub); err != nil {
		c.logger.Warn("upstream submit failed",
			zap.Int("worker", r.WorkerID),
			zap.String("job", ref.UpstreamID),
			zap.Error(err))
	}
}

func (c *Coordinator) handleOutcome(corr uint64, accepted bool, reason string) {
	worker, dest, ok := c.pending.Resolve(corr)
	if !ok {
		c.logger.Debug("outcome for unknown submission", zap.Uint64("correlation", corr))
		return
	}
	c.table.RecordOutcome(worker, dest, accepted)
	if accepted {
		c.logger.Info("share accepted",
			zap.Int("worker", worker), zap.Uint8("destination", dest))
	} else {
		c.logger.Warn("share rejected",
			zap.Int("worker", worker),
			zap.Uint8("destination", dest),
			zap.String("reason", reason))
	}
}

func (c *Coordinator) monitorLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.monitorTick()
		}
	}
}

func (c *Coordinator) monitorTick() {
	now := c.ctx.Now()
	changed, dropped := c.table.Sweep(now)
	for _, id := range dropped {
		c.ctx.Transport.RemovePeer(id)
	}
	if changed {
		c.redistribute()
		return
	}

	// Standing re-announce: broadcast work is lossy, so quiet workers get
	// their current assignment again.
	c.workMu.Lock()
	haveWork := c.haveWork
	c.workMu.Unlock()
	if haveWork {
		for _, id := range c.table.ActiveIDs() {
			info, ok := c.table.Get(id)
			if ok && now-info.LastWorkSent > c.ctx.Config.ReannounceEvery.Milliseconds() {
				c.sendWork(info)
			}
		}
	}
	c.window.Add(c.table.TotalHashrate())
}

func (c *Coordinator) Status() *types.ClusterStatus {
	now := c.ctx.Now()
	snapshot := c.table.Snapshot()
	st := &types.ClusterStatus{
		Role:        types.RoleCoordinator.String(),
		ClusterID:   c.ctx.Config.ClusterID,
		TotalNodes:  1 + len(snapshot),
		Hashrate:    c.table.TotalHashrate(),
		Hashrate1m:  c.window.RecentNAvg(60),
		Hashrate5m:  c.window.RecentNAvg(300),
		Hashrate1h:  c.window.RecentNAvg(3600),
		JobsSeen:    atomic.LoadUint32(&c.jobsSeen),
		JobsSkipped: atomic.LoadUint32(&c.jobsSkipped),
		QueueDrops:  atomic.LoadUint32(&c.queueDrops),
		Time:        now,
	}
	for _, w := range snapshot {
		if w.State == types.Active {
			st.ActiveWorkers++
		}
		var acc, rej uint32
		for d := 0; d < types.MaxDestinations; d++ {
			acc += w.Accepted[d]
			rej += w.Rejected[d]
		}
		st.Workers = append(st.Workers, &types.WorkerStatus{
			ID:        w.ID,
			State:     w.State.String(),
			Name:      w.Name,
			NetAddr:   w.NetAddr,
			NonceFrom: fmt.Sprintf("%08x", w.NonceStart),
			NonceTo:   fmt.Sprintf("%08x", w.NonceStart+w.NonceSize-1),
			Telemetry: w.Telemetry,
			Reported:  w.ResultsReported,
			Submitted: w.ResultsSubmitted,
			Accepted:  acc,
			Rejected:  rej,
			AgeMS:     now - w.LastHeartbeat,
			RSSI:      c.ctx.Transport.SignalStrength(w.ID),
		})
	}
	return st
}
