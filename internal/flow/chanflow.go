package flow

import (
	"context"
	"net"
	"sync"
)

const chanFlowDepth = 128

// ChanFlow is a channel-backed core.PacketFlow for hosts that hand packets
// to the bridge directly instead of through an OS device. The host produces
// outgoing packets with Produce and drains injected ones from Injected.
type ChanFlow struct {
	out chan [][]byte
	in  chan [][]byte

	closed chan struct{}
	once   sync.Once
}

// NewChan creates a ChanFlow.
func NewChan() *ChanFlow {
	return &ChanFlow{
		out:    make(chan [][]byte, chanFlowDepth),
		in:     make(chan [][]byte, chanFlowDepth),
		closed: make(chan struct{}),
	}
}

// ReadPackets returns the next batch produced by the host.
func (f *ChanFlow) ReadPackets(ctx context.Context) ([][]byte, error) {
	select {
	case batch := <-f.out:
		return batch, nil
	case <-f.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WritePackets hands an injected batch to the host.
func (f *ChanFlow) WritePackets(pkts [][]byte) error {
	select {
	case f.in <- pkts:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

// Produce queues packets as one outgoing batch.
func (f *ChanFlow) Produce(pkts ...[]byte) error {
	select {
	case f.out <- pkts:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

// Injected exposes the batches written into the flow.
func (f *ChanFlow) Injected() <-chan [][]byte { return f.in }

// Close unblocks all pending calls. Safe to call more than once.
func (f *ChanFlow) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}
