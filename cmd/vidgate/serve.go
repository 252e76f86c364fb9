package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	vhttp "github.com/vidgate/vidgate/adapters/http"
	"github.com/vidgate/vidgate/bootstrap"
	"github.com/vidgate/vidgate/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the vidgate API server.

The server will:
  - Load configuration from vidgate.yaml (or --config)
  - Or load configuration from VIDGATE_* environment variables
  - Connect to the database
  - Serve /api/download and /api/info with authentication and rate limits

Environment variables (for Docker deployments):
  VIDGATE_EXTRACTOR_URL     - Extraction service URL (required)
  VIDGATE_AUTH_SECRET       - Shared API secret (required)
  VIDGATE_DATABASE_DSN      - Database path (default: vidgate.db)
  VIDGATE_SERVER_PORT       - Server port (default: 8080)
  VIDGATE_COUNTERS_BACKEND  - Counter backend: memory or redis
  VIDGATE_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  vidgate serve
  vidgate serve --config /etc/vidgate/config.yaml

  # Docker (env vars only):
  VIDGATE_EXTRACTOR_URL=http://extractor:9090 VIDGATE_AUTH_SECRET=s vidgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	// No configuration at all
	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set VIDGATE_EXTRACTOR_URL and VIDGATE_AUTH_SECRET")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  VIDGATE_EXTRACTOR_URL=http://extractor:9090 VIDGATE_AUTH_SECRET=s vidgate serve")
		return nil
	}

	vhttp.Version = version

	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
