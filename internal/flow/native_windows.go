//go:build windows

package flow

import (
	"golang.zx2c4.com/wireguard/tun"

	"github.com/tundralabs/tundra/internal/core"
)

// NewNativeDevice opens a native TUN device on Windows using wintun.
func NewNativeDevice(ifaceName string, mtu int) (core.PacketFlow, string, error) {
	if ifaceName == "" {
		ifaceName = "tundra"
	}
	dev, err := tun.CreateTUN(ifaceName, mtu)
	if err != nil {
		return nil, "", err
	}
	name, err := dev.Name()
	if err != nil {
		dev.Close()
		return nil, "", err
	}
	return NewNetstack(dev, mtu), name, nil
}
