//go:build !linux && !windows

package netcfg

import (
	"errors"
	"log/slog"
)

// Native is a placeholder for unsupported platforms.
type Native struct {
	Logger *slog.Logger
}

func (Native) Apply(Settings) error {
	return errors.New("native network configuration is not supported on this platform")
}
