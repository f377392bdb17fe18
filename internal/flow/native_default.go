//go:build !linux && !windows

package flow

import (
	"errors"

	"github.com/tundralabs/tundra/internal/core"
)

// NewNativeDevice is a placeholder for unsupported platforms.
func NewNativeDevice(ifaceName string, mtu int) (core.PacketFlow, string, error) {
	return nil, "", errors.New("native tun is not supported on this platform")
}
