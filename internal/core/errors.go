package core

import "errors"

var (
	// ErrNoActiveConnection is returned by Send when no peer is connected.
	// Callers treat it as an advisory drop, never as a reason to stop.
	ErrNoActiveConnection = errors.New("no active peer connection")

	// ErrListenerCreation is returned by Start when the listening endpoint
	// cannot be bound. Fatal for this start attempt, never retried.
	ErrListenerCreation = errors.New("could not create listener")

	// ErrCouldNotStartBackend is returned by the bridge when the framed
	// transport fails to start.
	ErrCouldNotStartBackend = errors.New("could not start backend")

	// ErrCouldNotSetNetworkSettings is returned by the bridge when the
	// tunnel addressing cannot be applied to the local stack.
	ErrCouldNotSetNetworkSettings = errors.New("could not set network settings")

	// ErrFrameLength marks a framing violation: a length prefix of zero or
	// above the 4096-byte ceiling. There is no recovery from a corrupted
	// length field, the connection carrying it is abandoned.
	ErrFrameLength = errors.New("frame length out of range")
)
