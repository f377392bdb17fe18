// Package quictun carries the framed packet protocol over the first
// bidirectional stream of a single QUIC connection. The frame layout and the
// one-peer policy are identical to the TCP transport; QUIC only replaces the
// underlying stream.
package quictun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/tundralabs/tundra/internal/core"
	"github.com/tundralabs/tundra/internal/transport/framed"
)

const (
	// ALPN is the protocol identifier negotiated during the QUIC handshake.
	ALPN = "tundra/1"

	// codeBusy closes surplus connections while one peer is active.
	codeBusy = quic.ApplicationErrorCode(0x10)
	// codeStopping closes the active connection on Stop.
	codeStopping = quic.ApplicationErrorCode(0x11)

	keepAlivePeriod = 30 * time.Second
)

// Server is the QUIC framed transport.
type Server struct {
	port   int
	logger *slog.Logger

	mu         sync.Mutex
	ln         *quic.Listener
	conn       *quic.Conn
	stream     *quic.Stream
	acceptedAt time.Time
	running    bool
	done       chan struct{}
	cancel     context.CancelFunc

	wmu sync.Mutex

	states  chan core.ConnState
	packets chan []byte
}

// NewServer creates a QUIC transport listening on the given UDP port once
// started.
func NewServer(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:    port,
		logger:  logger.With("component", "quictun"),
		states:  make(chan core.ConnState, 16),
		packets: make(chan []byte, 64),
	}
}

// Start binds the UDP listener with an ephemeral self-signed certificate.
// The peer is expected to pin or skip verification; the tunnel carries no
// confidentiality contract of its own.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	tlsConf, err := ephemeralTLSConfig()
	if err != nil {
		s.emit(core.StateFailed)
		return errors.Wrapf(core.ErrListenerCreation, "tls: %v", err)
	}
	ln, err := quic.ListenAddr(fmt.Sprintf(":%d", s.port), tlsConf, &quic.Config{
		KeepAlivePeriod: keepAlivePeriod,
	})
	if err != nil {
		s.emit(core.StateFailed)
		return errors.Wrapf(core.ErrListenerCreation, "port %d: %v", s.port, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ln = ln
	s.running = true
	s.done = make(chan struct{})
	s.cancel = cancel
	s.drainPackets()
	s.emit(core.StateListening)
	s.logger.Info("listening", "addr", ln.Addr())
	go s.acceptLoop(ctx, ln, s.done)
	return nil
}

// Stop closes the active connection and the listener. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.cancel()
	conn := s.conn
	s.conn = nil
	s.stream = nil
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if conn != nil {
		conn.CloseWithError(codeStopping, "stopping")
	}
	if ln != nil {
		ln.Close()
	}
	s.emit(core.StateIdle)
	s.logger.Info("stopped")
}

// Send frames pkt onto the active stream; best effort, like the TCP transport.
func (s *Server) Send(pkt []byte) error {
	if len(pkt) == 0 || len(pkt) > framed.MaxPayload {
		return errors.Wrapf(core.ErrFrameLength, "payload %d bytes", len(pkt))
	}
	s.mu.Lock()
	conn, stream := s.conn, s.stream
	s.mu.Unlock()
	if stream == nil {
		return core.ErrNoActiveConnection
	}
	s.wmu.Lock()
	err := framed.WriteFrame(stream, pkt)
	s.wmu.Unlock()
	if err != nil {
		s.logger.Error("send failed, dropping connection", "err", err)
		conn.CloseWithError(codeStopping, "write failed")
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

func (s *Server) acceptLoop(ctx context.Context, ln *quic.Listener, done chan struct{}) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-done:
			default:
				s.logger.Error("accept failed", "err", err)
			}
			return
		}
		go s.serve(ctx, conn, done)
	}
}

// serve waits for the peer's first bidirectional stream, then claims the
// single connection slot. The stream wait happens before the claim so a
// half-open connection cannot hold the slot hostage forever; QUIC's idle
// timeout reaps peers that never open a stream.
func (s *Server) serve(ctx context.Context, conn *quic.Conn, done chan struct{}) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		select {
		case <-done:
		default:
			s.logger.Warn("peer opened no stream", "remote", conn.RemoteAddr(), "err", err)
		}
		conn.CloseWithError(codeBusy, "no stream")
		return
	}
	if !s.install(conn, stream) {
		s.logger.Warn("rejecting peer, connection already active", "remote", conn.RemoteAddr())
		conn.CloseWithError(codeBusy, "busy")
		return
	}
	s.logger.Info("peer connected", "remote", conn.RemoteAddr())
	s.emit(core.StateConnected)
	s.readLoop(conn, stream, done)
}

func (s *Server) install(conn *quic.Conn, stream *quic.Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.conn != nil {
		return false
	}
	s.conn = conn
	s.stream = stream
	s.acceptedAt = time.Now()
	return true
}

func (s *Server) release(conn *quic.Conn) (owned, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false, s.running
	}
	s.conn = nil
	s.stream = nil
	return true, s.running
}

func (s *Server) readLoop(conn *quic.Conn, stream *quic.Stream, done chan struct{}) {
	defer func() {
		conn.CloseWithError(codeStopping, "closed")
		if owned, running := s.release(conn); owned && running {
			s.emit(core.StateListening)
		}
	}()
	for {
		payload, err := framed.ReadFrame(stream)
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

func (s *Server) emit(st core.ConnState) {
	select {
	case s.states <- st:
	default:
		s.logger.Debug("state event dropped", "state", st)
	}
}
