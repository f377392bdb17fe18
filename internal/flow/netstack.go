package flow

import (
	"context"
	"net/netip"

	"golang.zx2c4.com/wireguard/tun"
	"golang.zx2c4.com/wireguard/tun/netstack"
)

// NetstackFlow adapts a wireguard-go tun.Device to core.PacketFlow. It is
// used both for the userspace netstack mode and for the wintun-backed native
// device on Windows.
type NetstackFlow struct {
	dev tun.Device
	mtu int
}

// NewNetstack wraps an open tun.Device.
func NewNetstack(dev tun.Device, mtu int) *NetstackFlow {
	return &NetstackFlow{dev: dev, mtu: mtu}
}

// CreateNetstack builds a fully userspace packet flow plus the dialer-capable
// net it exposes. No OS device is created and no privileges are required,
// which also makes it the integration-test stack.
func CreateNetstack(local netip.Addr, dns []netip.Addr, mtu int) (*NetstackFlow, *netstack.Net, error) {
	dev, tnet, err := netstack.CreateNetTUN([]netip.Addr{local}, dns, mtu)
	if err != nil {
		return nil, nil, err
	}
	return NewNetstack(dev, mtu), tnet, nil
}

// ReadPackets performs one vectored device read and returns the produced
// packets. The device read blocks; Close unblocks it.
func (n *NetstackFlow) ReadPackets(_ context.Context) ([][]byte, error) {
	batch := n.dev.BatchSize()
	bufs := make([][]byte, batch)
	for i := range bufs {
		bufs[i] = make([]byte, n.mtu)
	}
	sizes := make([]int, batch)
	cnt, err := n.dev.Read(bufs, sizes, 0)
	if err != nil {
		return nil, err
	}
	pkts := make([][]byte, 0, cnt)
	for i := 0; i < cnt; i++ {
		pkts = append(pkts, bufs[i][:sizes[i]])
	}
	return pkts, nil
}

// WritePackets injects the batch into the stack with one vectored write.
func (n *NetstackFlow) WritePackets(pkts [][]byte) error {
	_, err := n.dev.Write(pkts, 0)
	return err
}

// Close closes the device.
func (n *NetstackFlow) Close() error {
	return n.dev.Close()
}
