package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tundra",
	Short: "Point-to-point IP packet tunnel over a framed stream",
	Long: "Tundra bridges IP packets between a local tunnel device and a single " +
		"remote peer reachable over one persistent stream connection, framing " +
		"each packet with a length prefix.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.json", "path to configuration file")
}
