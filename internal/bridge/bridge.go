// Package bridge wires the framed transport to the local packet flow and
// owns the tunnel lifecycle: settings first, then the transport, then one
// relay pump per direction.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/tundralabs/tundra/internal/core"
	"github.com/tundralabs/tundra/internal/netcfg"
)

// Bridge relays packets between a core.FramedTransport and a
// core.PacketFlow. Both directions are best effort: a packet that cannot be
// delivered is logged and dropped, never retried.
type Bridge struct {
	transport core.FramedTransport
	flow      core.PacketFlow
	cfg       netcfg.Configurator
	settings  netcfg.Settings
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	state atomic.Int32
	rx    atomic.Uint64
	tx    atomic.Uint64
	drops atomic.Uint64
}

// New assembles a bridge. The flow stays owned by the caller: Stop never
// closes it, so a host can keep the device across bridge restarts.
func New(transport core.FramedTransport, flow core.PacketFlow, cfg netcfg.Configurator, settings netcfg.Settings, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		transport: transport,
		flow:      flow,
		cfg:       cfg,
		settings:  settings,
		logger:    logger.With("component", "bridge"),
	}
}

// Start applies the network settings, starts the transport and launches the
// relay pumps. Settings must apply before any relay begins: without them
// traffic has nowhere valid to route. Either failure leaves the bridge
// stopped, reported once, never retried.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if err := b.cfg.Apply(b.settings); err != nil {
		return errors.Wrapf(core.ErrCouldNotSetNetworkSettings, "%v", err)
	}
	if err := b.transport.Start(); err != nil {
		return errors.Wrapf(core.ErrCouldNotStartBackend, "%v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	go b.watchStates(ctx)
	go b.inbound(ctx)
	go b.outbound(ctx)
	b.logger.Info("tunnel started",
		"local", b.settings.LocalAddress, "remote", b.settings.RemoteAddress)
	return nil
}

// Stop cancels the pumps and stops the transport. Idempotent, and safe to
// call while sends or receives are in flight: it never waits on them. A pump
// blocked inside the flow's read returns once the caller closes the flow.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.transport.Stop()
	b.logger.Info("tunnel stopped")
}

// Status returns a human-readable summary of the tunnel. Presentational
// only, not part of the protocol contract.
func (b *Bridge) Status() string {
	return fmt.Sprintf("%s -> %s: %s (rx %d, tx %d, dropped %d)",
		b.settings.LocalAddress, b.settings.RemoteAddress,
		core.ConnState(b.state.Load()),
		b.rx.Load(), b.tx.Load(), b.drops.Load())
}

// watchStates mirrors the transport's state transitions for Status and logs
// them. Losing the connection does not stop the bridge: the transport goes
// back to listening while the outbound pump keeps draining the flow.
func (b *Bridge) watchStates(ctx context.Context) {
	for {
		select {
		case st := <-b.transport.States():
			b.state.Store(int32(st))
			b.logger.Info("transport state", "state", st)
		case <-ctx.Done():
			return
		}
	}
}

// inbound forwards each received payload into the packet flow as an IPv4
// packet. Only IPv4 is recognized; anything else is dropped.
func (b *Bridge) inbound(ctx context.Context) {
	for {
		select {
		case pkt := <-b.transport.Packets():
			if len(pkt) == 0 || header.IPVersion(pkt) != header.IPv4Version {
				b.logger.Debug("dropping non-IPv4 payload", "len", len(pkt))
				b.drops.Add(1)
				continue
			}
			if err := b.flow.WritePackets([][]byte{pkt}); err != nil {
				b.logger.Warn("packet flow rejected packet", "err", err)
				b.drops.Add(1)
				continue
			}
			b.rx.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// outbound continuously drains the packet flow and sends each packet to the
// peer. Each read immediately follows the previous one so the stack never
// produces into a gap. Send failures, including the no-peer case, are
// logged drops; the pump keeps running until the tunnel stops or the flow
// itself fails.
func (b *Bridge) outbound(ctx context.Context) {
	for {
		pkts, err := b.flow.ReadPackets(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("packet flow read failed", "err", err)
			return
		}
		for _, pkt := range pkts {
			if err := b.transport.Send(pkt); err != nil {
				if errors.Is(err, core.ErrNoActiveConnection) {
					b.logger.Debug("no peer, dropping outbound packet", "len", len(pkt))
				} else {
					b.logger.Warn("send rejected packet", "err", err)
				}
				b.drops.Add(1)
				continue
			}
			b.tx.Add(1)
		}
	}
}
