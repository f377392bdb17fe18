package core

// ConnState is the transport-level state of the framed listener and its
// single peer connection.
type ConnState int

const (
	// StateIdle means the transport is stopped and holds no resources.
	StateIdle ConnState = iota
	// StateListening means the listener is bound and waiting for a peer.
	StateListening
	// StateConnected means exactly one peer connection is active.
	StateConnected
	// StateFailed means the listener could not be created.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FramedTransport owns a listening endpoint and at most one active peer
// connection, and speaks the length-prefixed packet protocol over it.
// A second inbound connection while one is active is closed immediately,
// never queued.
type FramedTransport interface {
	// Start binds the listening endpoint. After a successful Start the
	// transport accepts peers until Stop is called. Bind failures are
	// returned wrapping ErrListenerCreation.
	Start() error
	// Stop tears down the active connection and the listener. It is
	// idempotent and leaves the transport able to Start again.
	Stop()
	// Send frames pkt and writes it to the active connection. It returns
	// ErrNoActiveConnection when no peer is connected. Transmission
	// failures are logged and cost only the current connection; they are
	// not surfaced to the caller.
	Send(pkt []byte) error
	// States delivers connection-state transitions.
	States() <-chan ConnState
	// Packets delivers deframed payloads received from the peer.
	Packets() <-chan []byte
}
