package framed

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tundralabs/tundra/internal/core"
)

// Server is the TCP framed transport. It listens on one port, keeps at most
// one peer connection, and exchanges length-prefixed packets over it.
type Server struct {
	port   int
	logger *slog.Logger

	mu         sync.Mutex
	ln         net.Listener
	conn       net.Conn
	acceptedAt time.Time
	running    bool
	done       chan struct{}

	// wmu serializes frame writes so concurrent Send calls cannot
	// interleave header and payload bytes on the wire.
	wmu sync.Mutex

	states  chan core.ConnState
	packets chan []byte
}

// NewServer creates a transport listening on port once started. Port 0
// selects an ephemeral port; Addr reports the bound address.
func NewServer(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:    port,
		logger:  logger.With("component", "framed"),
		states:  make(chan core.ConnState, 16),
		packets: make(chan []byte, 64),
	}
}

// Start binds the listener and begins accepting peers. Bind failures wrap
// core.ErrListenerCreation and are fatal for this attempt.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.emit(core.StateFailed)
		return errors.Wrapf(core.ErrListenerCreation, "port %d: %v", s.port, err)
	}
	s.ln = ln
	s.running = true
	s.done = make(chan struct{})
	s.drainPackets()
	s.emit(core.StateListening)
	s.logger.Info("listening", "addr", ln.Addr())
	go s.acceptLoop(ln, s.done)
	return nil
}

// Stop closes the active connection and releases the listener. Idempotent;
// the transport can Start again afterwards with a fresh listener.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.emit(core.StateIdle)
	s.logger.Info("stopped")
}

// Send frames pkt and writes it to the active connection. Best effort: a
// transmission failure is logged and tears down only the current connection,
// the caller sees no error for it.
func (s *Server) Send(pkt []byte) error {
	if len(pkt) == 0 || len(pkt) > MaxPayload {
		return errors.Wrapf(core.ErrFrameLength, "payload %d bytes", len(pkt))
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return core.ErrNoActiveConnection
	}
	s.wmu.Lock()
	err := WriteFrame(conn, pkt)
	s.wmu.Unlock()
	if err != nil {
		s.logger.Error("send failed, dropping connection", "err", err)
		conn.Close()
	}
	return nil
}

// States delivers connection-state transitions.
func (s *Server) States() <-chan core.ConnState { return s.states }

// Packets delivers deframed payloads received from the peer.
func (s *Server) Packets() <-chan []byte { return s.packets }

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Peer reports the remote address and accept time of the active connection.
func (s *Server) Peer() (net.Addr, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, time.Time{}, false
	}
	return s.conn.RemoteAddr(), s.acceptedAt, true
}

func (s *Server) acceptLoop(ln net.Listener, done chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
			default:
				s.logger.Error("accept failed", "err", err)
			}
			return
		}
		if !s.install(conn) {
			// One peer at a time: reject, never queue or replace.
			s.logger.Warn("rejecting peer, connection already active", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}
		s.logger.Info("peer connected", "remote", conn.RemoteAddr())
		s.emit(core.StateConnected)
		go s.readLoop(conn, done)
	}
}

// install places conn in the single connection slot. All transitions of the
// slot go through install and release, which keeps the one-active-connection
// invariant enforceable here rather than by convention.
func (s *Server) install(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.conn != nil {
		return false
	}
	s.conn = conn
	s.acceptedAt = time.Now()
	return true
}

// release clears the slot if conn still occupies it and reports whether the
// transport is still running.
func (s *Server) release(conn net.Conn) (owned, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false, s.running
	}
	s.conn = nil
	return true, s.running
}

func (s *Server) readLoop(conn net.Conn, done chan struct{}) {
	defer func() {
		conn.Close()
		if owned, running := s.release(conn); owned && running {
			s.emit(core.StateListening)
		}
	}()
	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			switch {
			case errors.Is(err, core.ErrFrameLength):
				s.logger.Error("framing violation, abandoning connection", "err", err)
			case errors.Is(err, io.EOF):
				s.logger.Info("peer disconnected", "remote", conn.RemoteAddr())
			case errors.Is(err, io.ErrUnexpectedEOF):
				s.logger.Error("peer closed mid-frame", "remote", conn.RemoteAddr())
			default:
				s.logger.Error("read failed", "err", err)
			}
			return
		}
		select {
		case s.packets <- payload:
		case <-done:
			return
		}
	}
}

// drainPackets discards payloads buffered before the previous Stop so a
// restarted transport carries nothing over from an earlier connection.
func (s *Server) drainPackets() {
	for {
		select {
		case <-s.packets:
		default:
			return
		}
	}
}

// emit delivers a state transition without ever blocking the I/O paths. A
// consumer that has fallen 16 transitions behind loses the oldest ones.
func (s *Server) emit(st core.ConnState) {
	select {
	case s.states <- st:
	default:
		s.logger.Debug("state event dropped", "state", st)
	}
}
