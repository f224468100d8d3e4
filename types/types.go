package types

import (
	"fmt"
	"strings"
)

// Role selects what a node does at runtime. Stored in the role file and
// changeable over the API without reflashing anything.
type Role int

const (
	RoleDisabled Role = iota
	RoleCoordinator
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleWorker:
		return "worker"
	default:
		return "disabled"
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coordinator", "master":
		return RoleCoordinator, nil
	case "worker", "slave":
		return RoleWorker, nil
	case "disabled", "none", "":
		return RoleDisabled, nil
	}
	return RoleDisabled, fmt.Errorf("unknown role %q", s)
}

type WorkerState int

const (
	Disconnected WorkerState = iota + 1
	Registering
	Active
	Stale
)

func (s WorkerState) String() string {
	switch s {
	case Registering:
		return "registering"
	case Active:
		return "active"
	case Stale:
		return "stale"
	default:
		return "disconnected"
	}
}

// MaxDestinations bounds how many upstream destinations work units can be
// tagged with. Two matches the primary/failover pool pair.
const MaxDestinations = 2

// Telemetry is the per-node health block carried inside heartbeats.
type Telemetry struct {
	Hashrate     float64 `json:"hashrate"`
	Temperature  float64 `json:"temperature"`
	FanRPM       uint32  `json:"fanrpm"`
	Frequency    uint16  `json:"frequency"`
	CoreVoltage  uint16  `json:"corevoltage"`
	Power        float64 `json:"power"`
	InputVoltage float64 `json:"inputvoltage"`
}

// Heartbeat is one decoded CLHBT from a worker.
type Heartbeat struct {
	WorkerID int
	Results  uint32
	Telemetry
}

// WorkerInfo is one slot of the coordinator's worker table.
type WorkerInfo struct {
	ID        int         `json:"id"`
	State     WorkerState `json:"state"`
	Name      string      `json:"name"`
	NetAddr   string      `json:"netaddr"`
	RadioAddr string      `json:"radioaddr"`

	NonceStart uint32 `json:"noncestart"`
	NonceSize  uint32 `json:"noncesize"`

	LastRegistered int64 `json:"-"`
	LastHeartbeat  int64 `json:"-"`
	LastWorkSent   int64 `json:"-"`

	Telemetry Telemetry `json:"telemetry"`

	ResultsReported  uint32                  `json:"resultsreported"`
	ResultsSubmitted uint32                  `json:"resultssubmitted"`
	Accepted         [MaxDestinations]uint32 `json:"accepted"`
	Rejected         [MaxDestinations]uint32 `json:"rejected"`
}

// WorkUnit is one unit of hashing work, either cluster-wide (as received
// from upstream) or specialized for a single worker before sending.
type WorkUnit struct {
	TargetWorker  int
	JobID         uint32
	PrevRef       [32]byte
	CommitRoot    [32]byte
	Version       uint32
	VersionMask   uint32
	Target        uint32
	NTime         uint32
	NonceStart    uint32
	NonceEnd      uint32
	Extranonce    [8]byte
	ExtranonceLen uint8
	Clean         bool
	MinDifficulty uint32
	Destination   uint8

	// Extended display fields, dropped when the transport frame budget
	// cannot carry them.
	BlockHeight uint32
	NetworkDiff string

	ReceivedAt int64
}

// ResultSubmission is one decoded CLSHR, or a locally found result on the
// worker side before encoding.
type ResultSubmission struct {
	WorkerID      int
	JobID         uint32
	Nonce         uint32
	NTime         uint32
	Version       uint32
	Extranonce    [8]byte
	ExtranonceLen uint8
	Destination   uint8
	FoundAt       int64
}

type WorkerStatus struct {
	ID        int       `json:"id"`
	State     string    `json:"state"`
	Name      string    `json:"name"`
	NetAddr   string    `json:"netaddr"`
	NonceFrom string    `json:"noncefrom"`
	NonceTo   string    `json:"nonceto"`
	Telemetry Telemetry `json:"telemetry"`
	Reported  uint32    `json:"reported"`
	Submitted uint32    `json:"submitted"`
	Accepted  uint32    `json:"accepted"`
	Rejected  uint32    `json:"rejected"`
	AgeMS     int64     `json:"agems"`
	RSSI      int       `json:"rssi"`
}

type ClusterStatus struct {
	Role          string          `json:"role"`
	ClusterID     string          `json:"clusterid"`
	ActiveWorkers int             `json:"activeworkers"`
	TotalNodes    int             `json:"totalnodes"`
	Hashrate      float64         `json:"hashrate"`
	Hashrate1m    float64         `json:"hashrate1m"`
	Hashrate5m    float64         `json:"hashrate5m"`
	Hashrate1h    float64         `json:"hashrate1h"`
	JobsSeen      uint32          `json:"jobsseen"`
	JobsSkipped   uint32          `json:"jobsskipped"`
	QueueDrops    uint32          `json:"queuedrops"`
	Workers       []*WorkerStatus `json:"workers"`
	Time          int64           `json:"time"`
}

// UpstreamConfig describes one submission destination and its target share
// of distributed work when more than one destination is configured.
type UpstreamConfig struct {
	Tag   uint8   `json:"tag"`
	URL   string  `json:"url"`
	User  string  `json:"user"`
	Pass  string  `json:"pass"`
	Share float64 `json:"share"`
}
