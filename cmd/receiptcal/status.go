package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ArionMiles/receiptcal/internal/backends"
	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/extraction"
)

// runStatus checks configuration, storage, identity and the extraction server.
func runStatus(ctx context.Context, logger *slog.Logger) error {
	fmt.Println("=== receiptcal status ===")
	fmt.Println()

	allGood := true

	cfg, err := config.Load()
	fmt.Print("Configuration: ")
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		printFinalStatus(false)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Println("✓ Valid")
	}

	registry := backends.Default()
	checkStore(ctx, registry, cfg, logger, &allGood)
	checkIdentity(registry, cfg, &allGood)
	checkExtractor(ctx, cfg, logger, &allGood)

	printFinalStatus(allGood)
	return nil
}

func checkStore(ctx context.Context, registry *backends.Registry, cfg config.Config, logger *slog.Logger, allGood *bool) {
	fmt.Println()
	fmt.Printf("Store (%s):\n", cfg.Store)

	plugin, err := registry.GetStore(cfg.Store)
	if err != nil {
		fmt.Printf("  ✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Printf("  %s\n", plugin.Description())
	checkRequiredEnv(plugin.ConfigSchema(), allGood)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	fmt.Print("  Connection: ")
	store, err := plugin.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Println("✓ Connected")
}

func checkIdentity(registry *backends.Registry, cfg config.Config, allGood *bool) {
	fmt.Println()
	fmt.Printf("Identity (%s):\n", cfg.Identity)

	plugin, err := registry.GetIdentity(cfg.Identity)
	if err != nil {
		fmt.Printf("  ✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Printf("  %s\n", plugin.Description())
	checkRequiredEnv(plugin.ConfigSchema(), allGood)

	path := sessionPath(cfg)
	fmt.Printf("  Session (%s): ", path)
	sess, err := client.SessionFromFile(path)
	switch {
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	case sess == nil:
		fmt.Println("⚠ None yet (created on first use, or run 'receiptcal setup')")
	case sess.Token != nil && !sess.Token.Expiry.IsZero() && sess.Token.Expiry.Before(time.Now()):
		fmt.Printf("⚠ %s, token expired (will refresh on next run)\n", sess.User.ID)
	default:
		fmt.Printf("✓ %s\n", sess.User.ID)
	}
}

func checkExtractor(ctx context.Context, cfg config.Config, logger *slog.Logger, allGood *bool) {
	fmt.Println()
	fmt.Printf("Extraction server (%s): ", cfg.ExtractorURL)

	c, err := extraction.New(extraction.Options{BaseURL: cfg.ExtractorURL, Timeout: 5 * time.Second, Logger: logger})
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	if err := c.Ping(ctx); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Println("✓ Reachable")
}

func checkRequiredEnv(schema map[string]any, allGood *bool) {
	for _, name := range backends.RequiredEnv(schema) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			fmt.Printf("  %s: ✓ Set\n", name)
		} else {
			fmt.Printf("  %s: ✗ Not set\n", name)
			*allGood = false
		}
	}
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready")
		fmt.Println()
		fmt.Println("Run 'receiptcal scan <image>' to record a receipt.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'receiptcal status' again.")
	}
}
