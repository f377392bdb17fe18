// Package framed implements the length-prefixed packet protocol spoken over
// the single peer stream: a 4-byte big-endian length followed by that many
// bytes of raw IPv4 packet. No handshake, no magic bytes, no version field.
package framed

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/tundralabs/tundra/internal/core"
)

const (
	headerSize = 4

	// MaxPayload bounds the memory held per in-flight frame and rejects
	// obviously corrupt length fields early. Payloads above it are a
	// caller/configuration error, not a transport concern.
	MaxPayload = 4096
)

// WriteFrame writes one frame to w. The payload length must be in [1, MaxPayload].
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return errors.Wrapf(core.ErrFrameLength, "payload %d bytes", len(payload))
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload. A length prefix
// of zero or above MaxPayload returns an error wrapping core.ErrFrameLength;
// the stream is unusable afterwards since there is no way to resynchronize.
// A stream that closes mid-frame returns the underlying read error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 || length > MaxPayload {
		return nil, errors.Wrapf(core.ErrFrameLength, "length prefix %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return payload, nil
}
