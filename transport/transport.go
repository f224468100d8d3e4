// Package transport moves protocol sentences between cluster nodes. Two
// backends exist: a wired serial bus, where every node hears every frame,
// and a connectionless radio built on UDP broadcast with a fixed peer table
// and a hard frame budget. Senders never learn whether a frame arrived;
// reliability lives in the protocol's retry and re-announce behavior.
package transport

import "errors"

// Broadcast addresses a frame to every node instead of one peer.
const Broadcast = -1

var (
	ErrPayloadTooLarge = errors.New("transport: payload exceeds frame budget")
	ErrPeerNotFound    = errors.New("transport: peer not found")
	ErrPeerTableFull   = errors.New("transport: peer table full")
	ErrNotStarted      = errors.New("transport: not started")
)

// From identifies the sender of a received frame. WorkerID is the peer table
// slot the source resolved to, or -1 when unknown. Addr is empty on serial.
type From struct {
	WorkerID int
	Addr     string
}

// Handler receives one complete sentence. The slice is only valid for the
// duration of the call.
type Handler func(frame []byte, from From)

type Transport interface {
	Start() error
	Stop()

	// OnReceive installs the frame handler. Must be called before Start.
	OnReceive(h Handler)

	// Send delivers one frame to a peer, or to everyone with Broadcast.
	Send(workerID int, frame []byte) error

	// SendToCoordinator delivers one frame upstream. On serial this is the
	// shared line; on radio it requires a discovered or configured
	// coordinator address.
	SendToCoordinator(frame []byte) error

	AddPeer(workerID int, addr string) error
	RemovePeer(workerID int) error

	// SignalStrength reports the link quality to a peer in dBm-like units,
	// 0 on backends without the concept.
	SignalStrength(workerID int) int

	// StartDiscovery begins announcing this node as coordinator. A no-op on
	// backends where the peer is implicit.
	StartDiscovery(clusterID string) error
	StopDiscovery()

	// MaxPayload is the largest frame Send accepts.
	MaxPayload() int
}
