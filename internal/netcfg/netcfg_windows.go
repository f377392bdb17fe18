//go:build windows

package netcfg

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os/exec"

	"github.com/pkg/errors"
)

// Native configures the tunnel device through netsh.
type Native struct {
	Logger *slog.Logger
}

func (n Native) Apply(s Settings) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := netsh("interface", "ipv4", "set", "address",
		fmt.Sprintf("name=%s", s.Interface), "source=static",
		fmt.Sprintf("address=%s", s.LocalAddress), fmt.Sprintf("mask=%s", prefixMask(s.Subnet))); err != nil {
		return errors.Wrap(err, "set address")
	}
	if err := netsh("interface", "ipv4", "set", "subinterface", s.Interface,
		fmt.Sprintf("mtu=%d", s.MTU), "store=persistent"); err != nil {
		return errors.Wrap(err, "set mtu")
	}
	for _, args := range dnsArgs(s.Interface, s.DNS) {
		if err := netsh(args...); err != nil {
			return errors.Wrap(err, "set dns")
		}
	}
	logger.Info("interface configured", "interface", s.Interface, "address", s.LocalAddress)
	return nil
}

// dnsArgs builds one netsh invocation per resolver. The first resolver
// switches the interface to static DNS; later ones are appended by index,
// since the add form accepts no source argument.
func dnsArgs(iface string, dns []netip.Addr) [][]string {
	args := make([][]string, 0, len(dns))
	for i, d := range dns {
		if i == 0 {
			args = append(args, []string{"interface", "ipv4", "set", "dnsservers",
				fmt.Sprintf("name=%s", iface), "source=static",
				fmt.Sprintf("address=%s", d)})
			continue
		}
		args = append(args, []string{"interface", "ipv4", "add", "dnsservers",
			fmt.Sprintf("name=%s", iface),
			fmt.Sprintf("address=%s", d),
			fmt.Sprintf("index=%d", i+1)})
	}
	return args
}

func netsh(args ...string) error {
	out, err := exec.Command("netsh", args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "netsh %v: %s", args, out)
	}
	return nil
}

func prefixMask(p netip.Prefix) string {
	mask := net.CIDRMask(p.Bits(), 32)
	return net.IP(mask).String()
}
