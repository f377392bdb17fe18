package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tundralabs/tundra/internal/bridge"
	"github.com/tundralabs/tundra/internal/config"
	"github.com/tundralabs/tundra/internal/core"
	"github.com/tundralabs/tundra/internal/flow"
	"github.com/tundralabs/tundra/internal/netcfg"
	"github.com/tundralabs/tundra/internal/transport/framed"
	"github.com/tundralabs/tundra/internal/transport/quictun"
)

const statusInterval = time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tunnel endpoint from a configuration file",
	Long:  "Starts the packet relay bridge with the addressing, transport and stack given in the JSON configuration file, and runs until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		configPath, err := cmd.Flags().GetString("config")
		if err != nil || configPath == "" {
			logger.Error("a configuration file must be provided via --config")
			os.Exit(1)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Error("failed to load configuration", "path", configPath, "err", err)
			os.Exit(1)
		}
		settings, err := cfg.Settings()
		if err != nil {
			logger.Error("invalid tunnel addressing", "err", err)
			os.Exit(1)
		}

		packetFlow, configurator, err := buildFlow(cfg, &settings, logger)
		if err != nil {
			logger.Error("failed to create packet flow", "err", err)
			os.Exit(1)
		}

		var transport core.FramedTransport
		switch cfg.Transport {
		case config.TransportQUIC:
			transport = quictun.NewServer(cfg.ListenPort, logger)
		default:
			transport = framed.NewServer(cfg.ListenPort, logger)
		}

		b := bridge.New(transport, packetFlow, configurator, settings, logger)
		if err := b.Start(context.Background()); err != nil {
			packetFlow.Close()
			logger.Error("failed to start tunnel", "err", err)
			os.Exit(1)
		}

		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		for {
			select {
			case <-ticker.C:
				logger.Info(b.Status())
			case sig := <-sigChan:
				logger.Info("shutting down", "signal", sig)
				b.Stop()
				packetFlow.Close()
				return
			}
		}
	},
}

// buildFlow creates the packet flow selected by the configuration along with
// the configurator that must run before relay starts. The system stack needs
// OS-level addressing; the netstack flow bakes its address into the device
// and needs none.
func buildFlow(cfg *config.Config, settings *netcfg.Settings, logger *slog.Logger) (core.PacketFlow, netcfg.Configurator, error) {
	switch cfg.Stack {
	case config.StackNetstack:
		f, _, err := flow.CreateNetstack(settings.LocalAddress, settings.DNS, cfg.MTU)
		if err != nil {
			return nil, nil, err
		}
		return f, netcfg.Noop{}, nil
	default:
		f, name, err := flow.NewNativeDevice(cfg.Interface, cfg.MTU)
		if err != nil {
			return nil, nil, err
		}
		settings.Interface = name
		return f, netcfg.Native{Logger: logger}, nil
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
