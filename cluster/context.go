package cluster

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/transport"
	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

var (
	ErrNoFreeSlot    = errors.New("cluster: no free worker slot")
	ErrQueueFull     = errors.New("cluster: submission queue full")
	ErrUnknownWorker = errors.New("cluster: unknown worker")
	ErrNoCurrentWork = errors.New("cluster: no current work")
)

// Config carries the tunables shared by both roles. Zero values fall back
// to the defaults the rest of the cluster was sized for.
type Config struct {
	ClusterID  string
	MaxWorkers int

	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	DropAfter         time.Duration
	ReannounceEvery   time.Duration

	SendRetries int
	RetryDelay  time.Duration

	// WorkerName and NetAddr identify this node when registering.
	WorkerName string
	NetAddr    string

	Upstreams []types.UpstreamConfig
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * c.HeartbeatInterval
	}
	if c.DropAfter <= 0 {
		c.DropAfter = 10 * time.Second
	}
	if c.ReannounceEvery <= 0 {
		c.ReannounceEvery = 10 * time.Second
	}
	if c.SendRetries <= 0 {
		c.SendRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Millisecond
	}
	return c
}

// Context bundles what both roles need: configuration, the transport and
// the logger. It is built once at startup and passed down, never global.
type Context struct {
	Config    Config
	Transport transport.Transport
	Logger    *zap.Logger

	// now returns milliseconds and is swappable in tests.
	now func() int64
}

func NewContext(cfg Config, tr transport.Transport, logger *zap.Logger) *Context {
	return &Context{
		Config:    cfg.withDefaults(),
		Transport: tr,
		Logger:    logger,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

func (c *Context) Now() int64 { return c.now() }

// Role is what a running node does with the cluster: handle inbound frames
// and expose its status. Both the coordinator and the worker agent
// implement it, selected at runtime.
type Role interface {
	Start() error
	Stop()
	HandleFrame(typ string, fields []string, from transport.From)
	Status() *types.ClusterStatus
}
