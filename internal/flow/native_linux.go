//go:build linux

package flow

import (
	"github.com/songgao/water"

	"github.com/tundralabs/tundra/internal/core"
)

// NewNativeDevice opens a native TUN device on Linux. Addressing, MTU and
// link state are applied separately by the netcfg package before relay
// begins.
func NewNativeDevice(ifaceName string, mtu int) (core.PacketFlow, string, error) {
	dev, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: ifaceName,
		},
	})
	if err != nil {
		return nil, "", err
	}
	return NewWater(dev, mtu), dev.Name(), nil
}
