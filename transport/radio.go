package transport

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ShaeOJ/ClusterAxe-sub000/protocol"
)

const (
	// MaxRadioPayload mirrors the frame ceiling of the small-packet radios
	// this backend stands in for. Compact sentences fit, extended ones do not.
	MaxRadioPayload = 250

	maxPeers          = 20
	maxPeersEncrypted = 17
	ingressDepth      = 16

	defaultBeaconInterval = time.Second
)

type RadioConfig struct {
	// Listen is the local UDP address, e.g. "0.0.0.0:48861".
	Listen string
	// BroadcastAddr is where Broadcast frames and discovery beacons go,
	// e.g. "255.255.255.255:48861".
	BroadcastAddr string
	// AdvertiseAddr overrides the address carried in discovery beacons.
	AdvertiseAddr string
	Channel       int
	ClusterID     string
	// Key enables sealing of unicast datagrams when 32 bytes long.
	// Broadcast frames always travel in the clear.
	Key            []byte
	BeaconInterval time.Duration
}

type peer struct {
	id       int
	addr     *net.UDPAddr
	lastSeen int64
	rxFrames uint32
	txFrames uint32
}

type datagram struct {
	data []byte
	src  *net.UDPAddr
}

// Radio is the wireless backend: connectionless UDP broadcast standing in
// for a small-packet mesh radio. Frames may be lost or duplicated and no
// delivery signal exists. The read loop only copies datagrams into a bounded
// queue; parsing and dispatch happen on the dispatch goroutine.
type Radio struct {
	cfg     RadioConfig
	logger  *zap.Logger
	handler Handler

	conn  *net.UDPConn
	bcast *net.UDPAddr
	aead  cipher.AEAD

	peersMu sync.Mutex
	peers   []*peer

	coordMu   sync.Mutex
	coordAddr *net.UDPAddr

	rxq     chan datagram
	rxDrops uint32

	quit       chan struct{}
	beaconQuit chan struct{}
}

func NewRadio(cfg RadioConfig, logger *zap.Logger) (*Radio, error) {
	r := &Radio{
		cfg:    cfg,
		logger: logger,
		rxq:    make(chan datagram, ingressDepth),
	}
	if len(cfg.Key) > 0 {
		aead, err := chacha20poly1305.New(cfg.Key)
		if err != nil {
			return nil, err
		}
		r.aead = aead
	}
	if cfg.BeaconInterval <= 0 {
		r.cfg.BeaconInterval = defaultBeaconInterval
	}
	return r, nil
}

func (r *Radio) OnReceive(h Handler) { r.handler = h }

func (r *Radio) Start() error {
	laddr, err := net.ResolveUDPAddr("udp4", r.cfg.Listen)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return err
	}
	if rc, err := conn.SyscallConn(); err == nil {
		rc.Control(func(fd uintptr) {
			syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
		})
	}
	bcastAddr := r.cfg.BroadcastAddr
	if bcastAddr == "" {
		bcastAddr = "255.255.255.255:48861"
	}
	bcast, err := net.ResolveUDPAddr("udp4", bcastAddr)
	if err != nil {
		conn.Close()
		return err
	}
	r.conn = conn
	r.bcast = bcast
	r.quit = make(chan struct{})
	go r.readLoop()
	go r.dispatchLoop()
	r.logger.Info("radio transport up",
		zap.String("listen", conn.LocalAddr().String()),
		zap.String("broadcast", bcastAddr),
		zap.Int("channel", r.cfg.Channel),
		zap.Bool("sealed", r.aead != nil))
	return nil
}

func (r *Radio) Stop() {
	if r.conn == nil {
		return
	}
	r.StopDiscovery()
	close(r.quit)
	r.conn.Close()
}

// readLoop copies datagrams into the ingress queue and nothing else. When
// the queue is full the datagram is dropped and counted.
func (r *Radio) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.quit:
				return
			default:
				r.logger.Warn("radio read", zap.Error(err))
				return
			}
		}
		r.ingest(buf[:n], src)
	}
}

func (r *Radio) ingest(data []byte, src *net.UDPAddr) {
	dg := datagram{data: append([]byte(nil), data...), src: src}
	select {
	case r.rxq <- dg:
	default:
		drops := atomic.AddUint32(&r.rxDrops, 1)
		r.logger.Debug("radio ingress queue full, datagram dropped",
			zap.Uint32("drops", drops))
	}
}

func (r *Radio) dispatchLoop() {
	for {
		select {
		case <-r.quit:
			return
		case dg := <-r.rxq:
			r.processFrame(dg.data, dg.src)
		}
	}
}

func (r *Radio) processFrame(data []byte, src *net.UDPAddr) {
	// Sealed unicast datagrams never start with '$'.
	if r.aead != nil && (len(data) == 0 || data[0] != '$') {
		opened, err := r.open(data)
		if err != nil {
			r.logger.Debug("radio frame rejected", zap.String("src", src.String()), zap.Error(err))
			return
		}
		data = opened
	}
	id := r.touchPeer(src)
	if bytes.HasPrefix(data, []byte("$"+protocol.TypeBeacon)) {
		r.handleBeacon(data, src)
		return
	}
	if r.handler != nil {
		r.handler(data, From{WorkerID: id, Addr: src.String()})
	}
}

func (r *Radio) handleBeacon(data []byte, src *net.UDPAddr) {
	typ, fields, err := protocol.Parse(data)
	if err != nil || typ != protocol.TypeBeacon {
		return
	}
	_, clusterID, _, err := protocol.DecodeBeacon(fields)
	if err != nil {
		return
	}
	if r.cfg.ClusterID != "" && clusterID != r.cfg.ClusterID {
		return
	}
	// The datagram source beats the advertised address: it is the address
	// that demonstrably reaches us.
	r.coordMu.Lock()
	known := r.coordAddr != nil && r.coordAddr.String() == src.String()
	r.coordAddr = src
	r.coordMu.Unlock()
	if !known {
		r.logger.Info("coordinator discovered",
			zap.String("addr", src.String()),
			zap.String("cluster", clusterID))
	}
}

func (r *Radio) touchPeer(src *net.UDPAddr) int {
	now := time.Now().UnixMilli()
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	for _, p := range r.peers {
		if p.addr.IP.Equal(src.IP) && p.addr.Port == src.Port {
			p.lastSeen = now
			p.rxFrames++
			return p.id
		}
	}
	return -1
}

func (r *Radio) capacity() int {
	if r.aead != nil {
		return maxPeersEncrypted
	}
	return maxPeers
}

func (r *Radio) AddPeer(workerID int, addr string) error {
	uaddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	for _, p := range r.peers {
		if p.id == workerID || (p.addr.IP.Equal(uaddr.IP) && p.addr.Port == uaddr.Port) {
			p.id = workerID
			p.addr = uaddr
			p.lastSeen = time.Now().UnixMilli()
			return nil
		}
	}
	if len(r.peers) >= r.capacity() {
		return ErrPeerTableFull
	}
	r.peers = append(r.peers, &peer{id: workerID, addr: uaddr, lastSeen: time.Now().UnixMilli()})
	return nil
}

func (r *Radio) RemovePeer(workerID int) error {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	for i, p := range r.peers {
		if p.id == workerID {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return nil
		}
	}
	return ErrPeerNotFound
}

// SignalStrength synthesizes a dBm-like figure from traffic recency, since
// UDP exposes no real RSSI. Fresh peers sit near -40, silent ones decay
// toward -90, unknown peers report -127.
func (r *Radio) SignalStrength(workerID int) int {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	for _, p := range r.peers {
		if p.id == workerID {
			age := (time.Now().UnixMilli() - p.lastSeen) / 1000
			rssi := -40 - int(age)
			if rssi < -90 {
				rssi = -90
			}
			return rssi
		}
	}
	return -127
}

func (r *Radio) Send(workerID int, frame []byte) error {
	if len(frame) > MaxRadioPayload {
		return ErrPayloadTooLarge
	}
	if r.conn == nil {
		return ErrNotStarted
	}
	if workerID == Broadcast {
		_, err := r.conn.WriteToUDP(frame, r.bcast)
		return err
	}
	r.peersMu.Lock()
	var target *peer
	for _, p := range r.peers {
		if p.id == workerID {
			target = p
			break
		}
	}
	if target != nil {
		target.txFrames++
	}
	r.peersMu.Unlock()
	if target == nil {
		return ErrPeerNotFound
	}
	return r.sendSealed(frame, target.addr)
}

func (r *Radio) SendToCoordinator(frame []byte) error {
	if len(frame) > MaxRadioPayload {
		return ErrPayloadTooLarge
	}
	if r.conn == nil {
		return ErrNotStarted
	}
	r.coordMu.Lock()
	addr := r.coordAddr
	r.coordMu.Unlock()
	if addr == nil {
		return ErrPeerNotFound
	}
	return r.sendSealed(frame, addr)
}

func (r *Radio) sendSealed(frame []byte, addr *net.UDPAddr) error {
	if r.aead != nil {
		sealed, err := r.seal(frame)
		if err != nil {
			return err
		}
		frame = sealed
	}
	_, err := r.conn.WriteToUDP(frame, addr)
	return err
}

func (r *Radio) seal(frame []byte) ([]byte, error) {
	nonce := make([]byte, r.aead.NonceSize(), r.aead.NonceSize()+len(frame)+r.aead.Overhead())
	for {
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		// A leading '$' would make the datagram look like a clear sentence.
		if nonce[0] != '$' {
			break
		}
	}
	return r.aead.Seal(nonce, nonce, frame, nil), nil
}

func (r *Radio) open(data []byte) ([]byte, error) {
	ns := r.aead.NonceSize()
	if len(data) < ns+r.aead.Overhead() {
		return nil, protocol.ErrMalformed
	}
	return r.aead.Open(nil, data[:ns], data[ns:], nil)
}

// StartDiscovery broadcasts CLDSC beacons so workers on the same channel
// can find the coordinator without preconfigured addresses.
func (r *Radio) StartDiscovery(clusterID string) error {
	if r.conn == nil {
		return ErrNotStarted
	}
	if r.beaconQuit != nil {
		return nil
	}
	r.beaconQuit = make(chan struct{})
	go r.beaconLoop(clusterID, r.beaconQuit)
	return nil
}

func (r *Radio) StopDiscovery() {
	if r.beaconQuit != nil {
		close(r.beaconQuit)
		r.beaconQuit = nil
	}
}

func (r *Radio) beaconLoop(clusterID string, quit chan struct{}) {
	advertise := r.cfg.AdvertiseAddr
	if advertise == "" {
		advertise = r.conn.LocalAddr().String()
	}
	buf := make([]byte, protocol.MaxSentence)
	ticker := time.NewTicker(r.cfg.BeaconInterval)
	defer ticker.Stop()
	for {
		n, err := protocol.EncodeBeacon(buf, advertise, clusterID, r.cfg.Channel)
		if err == nil {
			r.conn.WriteToUDP(buf[:n], r.bcast)
		}
		select {
		case <-quit:
			return
		case <-r.quit:
			return
		case <-ticker.C:
		}
	}
}

func (r *Radio) MaxPayload() int { return MaxRadioPayload }

// IngressDrops reports datagrams lost to a full ingress queue.
func (r *Radio) IngressDrops() uint32 { return atomic.LoadUint32(&r.rxDrops) }
