// Package flow provides core.PacketFlow adapters over the local network
// stack: a system TUN device, a userspace netstack device, and a
// channel-backed conduit for host-driven embedding.
package flow

import (
	"context"

	"github.com/songgao/water"
)

// WaterFlow adapts a *water.Interface (system TUN device) to core.PacketFlow.
// Each batch carries exactly one packet, matching the device's read
// granularity.
type WaterFlow struct {
	iface *water.Interface
	mtu   int
}

// NewWater wraps an open TUN device. mtu sizes the read buffers.
func NewWater(iface *water.Interface, mtu int) *WaterFlow {
	return &WaterFlow{iface: iface, mtu: mtu}
}

// Name returns the OS name of the underlying interface.
func (w *WaterFlow) Name() string { return w.iface.Name() }

// ReadPackets blocks on the device read. The device has no context-aware
// read; Close unblocks it.
func (w *WaterFlow) ReadPackets(_ context.Context) ([][]byte, error) {
	buf := make([]byte, w.mtu)
	n, err := w.iface.Read(buf)
	if err != nil {
		return nil, err
	}
	return [][]byte{buf[:n]}, nil
}

// WritePackets injects each packet into the local stack.
func (w *WaterFlow) WritePackets(pkts [][]byte) error {
	for _, pkt := range pkts {
		if _, err := w.iface.Write(pkt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the TUN device.
func (w *WaterFlow) Close() error {
	return w.iface.Close()
}
