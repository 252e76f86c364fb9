package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidgate/vidgate/adapters/sqlite"
	"github.com/vidgate/vidgate/config"
	"github.com/vidgate/vidgate/domain/key"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage minted API keys",
	Long: `Manage vidgate API keys.

Minted keys supplement the shared secret: each one authenticates
independently and can be revoked or given an expiry. The raw key is
shown exactly once, at creation.

Examples:
  vidgate keys list
  vidgate keys create --name=ci-pipeline
  vidgate keys create --name=trial --expires=720h
  vidgate keys revoke key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"generate"},
	Short:   "Create a new API key",
	RunE:    runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyName    string
	keyExpires time.Duration
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.Flags().DurationVar(&keyExpires, "expires", 0, "lifetime, e.g. 720h (0 = never expires)")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keyStore := sqlite.NewKeyStore(db)

	keys, err := keyStore.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found.")
		fmt.Println()
		fmt.Println("Create a key with: vidgate keys create --name=<name>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked"
		} else if k.ExpiresAt != nil && !k.ExpiresAt.After(time.Now()) {
			status = "expired"
		}
		created := k.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\n", k.ID, k.Prefix, k.Name, status, created)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keyStore := sqlite.NewKeyStore(db)

	rawKey, k, err := key.Generate(keyPrefix(), keyName)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	if keyExpires > 0 {
		expires := time.Now().UTC().Add(keyExpires)
		k.ExpiresAt = &expires
	}

	if err := keyStore.Create(context.Background(), k); err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created API key %s\n", checkMark, k.ID)
	fmt.Println()
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("Store it now; the raw key is not shown again.")
	if k.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keyStore := sqlite.NewKeyStore(db)

	if err := keyStore.Revoke(context.Background(), args[0], time.Now().UTC()); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("key not found: %s", args[0])
		}
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("%s Revoked API key %s\n", checkMark, args[0])
	return nil
}

// openDatabase opens the configured database for management commands.
func openDatabase() (*sqlite.DB, error) {
	dsn := os.Getenv("VIDGATE_DATABASE_DSN")
	if dsn == "" {
		if cfg, err := config.LoadWithFallback(cfgFile); err == nil {
			dsn = cfg.Database.DSN
		} else {
			dsn = "vidgate.db"
		}
	}

	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// keyPrefix returns the configured minted-key prefix.
func keyPrefix() string {
	if v := os.Getenv("VIDGATE_AUTH_KEY_PREFIX"); v != "" {
		return v
	}
	if cfg, err := config.LoadWithFallback(cfgFile); err == nil {
		return cfg.Auth.KeyPrefix
	}
	return "vk_"
}
