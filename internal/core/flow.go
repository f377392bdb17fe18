package core

import "context"

// PacketFlow represents the local network stack's packet injection and
// extraction point, such as a TUN device.
type PacketFlow interface {
	// ReadPackets blocks until the stack has produced at least one outgoing
	// packet and returns the batch. The sequence of batches is infinite and
	// non-restartable for the lifetime of the flow.
	ReadPackets(ctx context.Context) ([][]byte, error)
	// WritePackets injects a batch of raw IPv4 packets into the stack.
	WritePackets(pkts [][]byte) error
	// Close releases the underlying device. It must unblock a pending
	// ReadPackets call.
	Close() error
}
