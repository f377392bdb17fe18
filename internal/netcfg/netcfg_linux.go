//go:build linux

package netcfg

import (
	"log/slog"
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// Native configures the tunnel device through rtnetlink.
type Native struct {
	Logger *slog.Logger
}

// Apply sets the MTU, assigns the local address with the tunnel subnet, and
// brings the link up. DNS is not programmable through netlink; the resolvers
// are logged and left to the host's resolver configuration.
func (n Native) Apply(s Settings) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	link, err := netlink.LinkByName(s.Interface)
	if err != nil {
		return errors.Wrapf(err, "get link %s", s.Interface)
	}
	if err := netlink.LinkSetMTU(link, s.MTU); err != nil {
		return errors.Wrap(err, "set mtu")
	}
	if err := netlink.AddrAdd(link, &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   s.LocalAddress.AsSlice(),
			Mask: net.CIDRMask(s.Subnet.Bits(), s.LocalAddress.BitLen()),
		},
		Peer: &net.IPNet{
			IP:   s.RemoteAddress.AsSlice(),
			Mask: net.CIDRMask(s.RemoteAddress.BitLen(), s.RemoteAddress.BitLen()),
		},
	}); err != nil {
		return errors.Wrap(err, "add address")
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrap(err, "set link up")
	}
	if len(s.DNS) > 0 {
		logger.Info("dns resolvers are left to the host resolver config", "dns", s.DNS)
	}
	return nil
}
