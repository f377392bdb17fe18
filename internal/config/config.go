// Package config loads the fixed tunnel endpoint configuration. All values
// are deployment constants supplied once per tunnel start, nothing is
// negotiated at runtime.
package config

import (
	"encoding/json"
	"net/netip"
	"os"

	"github.com/pkg/errors"

	"github.com/tundralabs/tundra/internal/netcfg"
)

// Transport kinds.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

// Stack kinds.
const (
	StackSystem   = "system"
	StackNetstack = "netstack"
)

// DefaultMTU fits the tunnel payload comfortably under the 4096-byte frame
// ceiling while matching common path MTUs.
const DefaultMTU = 1280

// Config is the on-disk JSON configuration of one tunnel endpoint.
type Config struct {
	// ListenPort is the port the framed transport binds.
	ListenPort int `json:"listen_port"`
	// Transport selects the framed transport: "tcp" (default) or "quic".
	Transport string `json:"transport"`
	// Stack selects the packet flow: "system" (native TUN, default) or
	// "netstack" (userspace).
	Stack string `json:"stack"`
	// Interface names the TUN device. Empty lets the OS pick.
	Interface string `json:"interface"`
	// LocalAddress is this endpoint's tunnel address.
	LocalAddress string `json:"local_address"`
	// RemoteAddress is the peer's tunnel address.
	RemoteAddress string `json:"remote_address"`
	// Subnet is the prefix routed through the tunnel, e.g. "10.8.0.0/24".
	Subnet string `json:"subnet"`
	// MTU applied to the device; defaults to DefaultMTU.
	MTU int `json:"mtu"`
	// DNS resolvers for the tunnel.
	DNS []string `json:"dns"`
}

// Load parses the JSON configuration file and fills in defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
	}
	if cfg.Stack == "" {
		cfg.Stack = StackSystem
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return errors.Errorf("invalid listen_port %d", c.ListenPort)
	}
	switch c.Transport {
	case TransportTCP, TransportQUIC:
	default:
		return errors.Errorf("unknown transport %q", c.Transport)
	}
	switch c.Stack {
	case StackSystem, StackNetstack:
	default:
		return errors.Errorf("unknown stack %q", c.Stack)
	}
	if c.MTU < 576 || c.MTU > 4096 {
		return errors.Errorf("mtu %d outside [576, 4096]", c.MTU)
	}
	return nil
}

// Settings resolves the addressing fields into netcfg.Settings. The
// interface name is filled in by the caller once the device exists.
func (c *Config) Settings() (netcfg.Settings, error) {
	local, err := netip.ParseAddr(c.LocalAddress)
	if err != nil {
		return netcfg.Settings{}, errors.Wrap(err, "local_address")
	}
	remote, err := netip.ParseAddr(c.RemoteAddress)
	if err != nil {
		return netcfg.Settings{}, errors.Wrap(err, "remote_address")
	}
	subnet, err := netip.ParsePrefix(c.Subnet)
	if err != nil {
		return netcfg.Settings{}, errors.Wrap(err, "subnet")
	}
	dns := make([]netip.Addr, 0, len(c.DNS))
	for _, d := range c.DNS {
		addr, err := netip.ParseAddr(d)
		if err != nil {
			return netcfg.Settings{}, errors.Wrapf(err, "dns %q", d)
		}
		dns = append(dns, addr)
	}
	return netcfg.Settings{
		Interface:     c.Interface,
		LocalAddress:  local,
		RemoteAddress: remote,
		Subnet:        subnet,
		MTU:           c.MTU,
		DNS:           dns,
	}, nil
}
