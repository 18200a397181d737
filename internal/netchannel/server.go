package netchannel

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
	"github.com/soundmesh/soundmesh/internal/errors"
	"github.com/soundmesh/soundmesh/internal/metrics"
)

// maxBufferedBytes is the per-connection send queue cap; overflow closes
// the socket and marks the next produced chunk Discontinuous.
const maxBufferedBytes = 10 << 20

// Server binds and listens, accepting at most one live peer at a time; an
// older peer is dropped when a new one connects.
type Server struct {
	addr    string
	logger  *slog.Logger
	metrics *metrics.Registry

	mu          sync.Mutex
	current     net.Conn
	sendQueue   chan []byte
	queuedBytes int
	discontNext bool
}

// NewServer constructs a netchannel Server bound to addr (host:port).
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, logger: logger, sendQueue: make(chan []byte, 256)}
}

// SetMetrics attaches a metrics registry for the queued-bytes gauge.
func (s *Server) SetMetrics(m *metrics.Registry) { s.metrics = m }

// setQueuedLocked records queuedBytes and mirrors it into the gauge; the
// caller holds s.mu.
func (s *Server) setQueuedLocked(n int) {
	s.queuedBytes = n
	if s.metrics != nil {
		s.metrics.NetChannelQueuedBytes.WithLabelValues(s.addr).Set(float64(n))
	}
}

// Serve listens on s.addr until ctx is cancelled, replacing any existing
// peer connection with each new accept.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.New(err).Component("netchannel").Kind(errors.KindResource).Build()
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.New(err).Component("netchannel").Kind(errors.KindResource).Build()
		}

		s.mu.Lock()
		if s.current != nil {
			s.logger.Info("netchannel server: replacing existing peer", "addr", s.addr)
			s.current.Close()
		}
		s.current = conn
		s.mu.Unlock()

		go s.writerLoop(ctx, conn)
	}
}

func (s *Server) writerLoop(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.sendQueue:
			s.mu.Lock()
			isCurrent := s.current == conn
			if isCurrent {
				s.setQueuedLocked(s.queuedBytes - len(frame))
			}
			s.mu.Unlock()
			if !isCurrent {
				return
			}
			if _, err := conn.Write(frame); err != nil {
				s.logger.Warn("netchannel server: write failed, dropping peer", "error", err)
				s.mu.Lock()
				if s.current == conn {
					s.current = nil
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// Send queues c for delivery to the current peer, applying the
// buffer-cap back-pressure rule: overflow drops the chunk, closes the
// peer socket, and marks the next chunk sent over
// this link Discontinuous. The (possibly demoted) chunk is returned so the
// caller can publish the same continuity locally.
func (s *Server) Send(c chunk.Chunk) (chunk.Chunk, error) {
	s.mu.Lock()
	if s.discontNext {
		c.Continuity = continuity.Discontinuous
		s.discontNext = false
	}
	s.mu.Unlock()

	frame, err := encodeChunk(c)
	if err != nil {
		return c, errors.New(err).Component("netchannel").Kind(errors.KindFatal).Build()
	}

	s.mu.Lock()
	if s.queuedBytes+len(frame) > maxBufferedBytes {
		s.discontNext = true
		conn := s.current
		s.current = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.logger.Warn("netchannel server: send buffer full, dropping peer", "number", c.Number)
		return c, nil
	}
	s.setQueuedLocked(s.queuedBytes + len(frame))
	s.mu.Unlock()

	select {
	case s.sendQueue <- frame:
	default:
		s.mu.Lock()
		s.setQueuedLocked(s.queuedBytes - len(frame))
		s.discontNext = true
		s.mu.Unlock()
	}
	return c, nil
}
