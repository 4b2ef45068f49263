package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ArionMiles/receiptcal/internal/app"
	"github.com/ArionMiles/receiptcal/internal/backends"
	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/config"
)

// runSetup creates (or with --force, replaces) the anonymous identity of this device.
func runSetup(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	force := fs.Bool("force", false, "discard the existing identity and create a new one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("=== receiptcal setup ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := sessionPath(cfg)
	existing, err := client.SessionFromFile(path)
	if err != nil {
		logger.Warn("existing identity is unreadable", "path", path, "error", err)
	}

	if existing != nil && !*force {
		fmt.Printf("Already set up. Identity %s is stored in %s\n", existing.User.ID, path)
		fmt.Println()
		fmt.Println("Expenses are bound to this identity. To start over with a new one, run: receiptcal setup --force")
		return nil
	}

	if *force {
		if err := client.RemoveSession(path); err != nil {
			return err
		}
		fmt.Println("Discarded the previous identity.")
		fmt.Println()
	}

	fmt.Printf("Creating an anonymous identity with the %s provider...\n", cfg.Identity)

	a, err := openApp(ctx, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	defer a.Close()

	user, err := a.Provider.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("reading identity: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Setup complete ===")
	fmt.Println()
	fmt.Printf("Identity: %s\n", user.ID)
	fmt.Printf("Stored in: %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the extraction server: receiptd")
	fmt.Println("  2. Scan a receipt: receiptcal scan receipt.jpg --save")
	return nil
}

func sessionPath(cfg config.Config) string {
	if cfg.Identity == "supabase" {
		return filepath.Join(cfg.DataDir, backends.SessionFile)
	}
	return filepath.Join(cfg.DataDir, backends.DeviceFile)
}
