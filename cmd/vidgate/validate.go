package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidgate/vidgate/adapters/sqlite"
	"github.com/vidgate/vidgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the vidgate configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Extraction service is reachable (optional)
  - Database is writable (optional)

Examples:
  vidgate validate
  vidgate validate --config /etc/vidgate/config.yaml`,
	RunE: runValidate,
}

var (
	validateCheckExtractor bool
	validateCheckDatabase  bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckExtractor, "check-extractor", false, "check if the extraction service is reachable")
	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Printf("  %s Extractor: %s\n", checkMark, cfg.Extractor.URL)
	fmt.Printf("  %s Counters: %s\n", checkMark, cfg.Counters.Backend)
	fmt.Printf("  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Printf("  %s Windows: download %d/%s, info %d/%s, global %d/%s\n", checkMark,
		cfg.RateLimit.Download.Limit, cfg.RateLimit.Download.Period,
		cfg.RateLimit.Info.Limit, cfg.RateLimit.Info.Period,
		cfg.RateLimit.Global.Limit, cfg.RateLimit.Global.Period)

	// Optional: check extraction service
	if validateCheckExtractor {
		if err := checkExtractorReachable(cfg.Extractor.URL); err != nil {
			fmt.Printf("  %s Extractor reachable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Extractor reachable\n", checkMark)
		}
	}

	// Optional: check database
	if validateCheckDatabase {
		if err := checkDatabaseWritable(cfg.Database.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database writable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkExtractorReachable(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
