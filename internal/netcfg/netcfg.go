// Package netcfg applies the fixed, non-negotiated tunnel addressing to the
// local network stack. Application is a precondition of packet relay: the
// bridge awaits it before starting the transport.
package netcfg

import "net/netip"

// Settings carries the deployment constants of one tunnel endpoint.
type Settings struct {
	// Interface is the OS name of the tunnel device.
	Interface string
	// LocalAddress is assigned to the device.
	LocalAddress netip.Addr
	// RemoteAddress is the peer's address on the point-to-point link.
	RemoteAddress netip.Addr
	// Subnet is the prefix routed through the tunnel.
	Subnet netip.Prefix
	// MTU applied to the device.
	MTU int
	// DNS resolvers for the tunnel. Platforms without a programmable
	// resolver surface leave these to the host (logged, not applied).
	DNS []netip.Addr
}

// Configurator applies Settings to the local stack.
type Configurator interface {
	Apply(settings Settings) error
}

// Noop is used when the stack needs no OS-level configuration, such as the
// userspace netstack mode where addressing is baked into the device.
type Noop struct{}

func (Noop) Apply(Settings) error { return nil }
