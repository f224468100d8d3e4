package transport

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// MaxSerialPayload is generous compared to the radio budget, so serial links
// always carry the extended sentence forms.
const MaxSerialPayload = 512

type SerialConfig struct {
	Device   string
	BaudRate uint
}

// Serial is the wired backend. All nodes share one line, so unicast and
// broadcast are the same write and no peer table exists.
type Serial struct {
	cfg     SerialConfig
	logger  *zap.Logger
	handler Handler

	port    io.ReadWriteCloser
	writeMu sync.Mutex
	quit    chan struct{}
}

func NewSerial(cfg SerialConfig, logger *zap.Logger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &Serial{cfg: cfg, logger: logger}
}

func (s *Serial) OnReceive(h Handler) { s.handler = h }

func (s *Serial) Start() error {
	options := serial.OpenOptions{
		PortName:        s.cfg.Device,
		BaudRate:        s.cfg.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 4,
	}
	port, err := serial.Open(options)
	if err != nil {
		return err
	}
	s.port = port
	s.quit = make(chan struct{})
	go s.readLoop()
	s.logger.Info("serial transport up",
		zap.String("device", s.cfg.Device),
		zap.Uint("baudrate", s.cfg.BaudRate))
	return nil
}

func (s *Serial) Stop() {
	if s.port == nil {
		return
	}
	close(s.quit)
	s.port.Close()
}

// readLoop scans the line for sentences. Noise between a newline and the
// next '$' is discarded, partial sentences wait for more bytes.
func (s *Serial) readLoop() {
	scanner := bufio.NewScanner(s.port)
	split := func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		start := bytes.IndexByte(data, '$')
		if start < 0 {
			return len(data), nil, nil
		}
		end := bytes.IndexByte(data[start:], '\n')
		if end < 0 {
			if atEOF {
				return len(data), nil, nil
			}
			return start, nil, nil
		}
		return start + end + 1, data[start : start+end+1], nil
	}
	scanner.Split(split)
	for scanner.Scan() {
		frame := scanner.Bytes()
		if s.handler != nil {
			s.handler(frame, From{WorkerID: -1})
		}
	}
	select {
	case <-s.quit:
	default:
		s.logger.Warn("serial read loop exited", zap.Error(scanner.Err()))
	}
}

func (s *Serial) write(frame []byte) error {
	if s.port == nil {
		return ErrNotStarted
	}
	if len(frame) > MaxSerialPayload {
		return ErrPayloadTooLarge
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.port.Write(frame)
	return err
}

func (s *Serial) Send(workerID int, frame []byte) error { return s.write(frame) }

func (s *Serial) SendToCoordinator(frame []byte) error { return s.write(frame) }

func (s *Serial) AddPeer(workerID int, addr string) error { return nil }

func (s *Serial) RemovePeer(workerID int) error { return nil }

func (s *Serial) SignalStrength(workerID int) int { return 0 }

// StartDiscovery is a no-op: on a shared line the coordinator is whoever
// answers registrations.
func (s *Serial) StartDiscovery(clusterID string) error { return nil }

func (s *Serial) StopDiscovery() {}

func (s *Serial) MaxPayload() int { return MaxSerialPayload }
