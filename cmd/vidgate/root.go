package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vidgate",
	Short: "Authenticated, rate-limited video extraction API",
	Long: `Vidgate sits in front of a video extraction service and adds
API key authentication, per-route and daily rate limits, and usage
metering.

Quick start:
  vidgate serve     # Start the API server

Management:
  vidgate keys      # Manage minted API keys
  vidgate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "vidgate.yaml", "config file path")
}
