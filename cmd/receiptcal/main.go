// Command receiptcal records expenses from receipt photos.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/civil"

	"github.com/ArionMiles/receiptcal/internal/app"
	"github.com/ArionMiles/receiptcal/internal/backends"
	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

const usage = `receiptcal - receipt to expense record

Usage:
  receiptcal <command> [flags]

Commands:
  scan <image>   Extract a receipt into a draft (--save to store it)
  add            Record an expense by hand
  list           Show the expenses of a day
  calendar       Show which days of a month have expenses
  delete <id>    Delete an expense
  export         Write every expense as CSV or JSON
  setup          Create the anonymous identity for this device
  status         Check configuration and connectivity

Run 'receiptcal <command> -h' for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig()
	if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = slog.LevelWarn
	}
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "scan":
		err = runScan(ctx, logger, args)
	case "add":
		err = runAdd(ctx, logger, args)
	case "list":
		err = runList(ctx, logger, args)
	case "calendar":
		err = runCalendar(ctx, logger, args)
	case "delete":
		err = runDelete(ctx, logger, args)
	case "export":
		err = runExport(ctx, logger, args)
	case "setup":
		err = runSetup(ctx, logger, args)
	case "status":
		err = runStatus(ctx, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openApp loads the configuration and mounts the pipeline. A mount failure
// is returned as an error since every command needs the identity.
func openApp(ctx context.Context, logger *slog.Logger, opts app.Options) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a, err := app.NewRunner(backends.Default(), nil, logger).Open(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if a.MountErr != nil {
		_ = a.Close()
		return nil, a.MountErr
	}
	return a, nil
}

// confirmOn asks on out and reads the answer from in.
func confirmOn(in io.Reader, out io.Writer) func(context.Context, api.Expense) bool {
	reader := bufio.NewReader(in)
	return func(_ context.Context, e api.Expense) bool {
		fmt.Fprintf(out, "Delete %s? [y/N] ", describe(e))
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

func describe(e api.Expense) string {
	if e.Amount == 0 {
		return "expense " + e.ID
	}
	shop := e.ShopName
	if shop == "" {
		shop = "(no shop)"
	}
	return fmt.Sprintf("%s ¥%d %s [%s]", e.Date, e.Amount, shop, e.Category)
}

// dateFlag is a flag.Value holding a calendar day.
type dateFlag struct {
	date civil.Date
	set  bool
}

func (d *dateFlag) String() string {
	if !d.set {
		return ""
	}
	return d.date.String()
}

func (d *dateFlag) Set(s string) error {
	date, err := civil.ParseDate(s)
	if err != nil {
		return fmt.Errorf("want YYYY-MM-DD: %w", err)
	}
	d.date, d.set = date, true
	return nil
}

// categoryFlag is a flag.Value restricted to the closed category set.
type categoryFlag struct {
	category api.Category
	set      bool
}

func (c *categoryFlag) String() string { return string(c.category) }

func (c *categoryFlag) Set(s string) error {
	category, ok := api.ParseCategory(s)
	if !ok {
		names := make([]string, 0, len(api.Categories))
		for _, c := range api.Categories {
			names = append(names, string(c))
		}
		return fmt.Errorf("want one of %s", strings.Join(names, ", "))
	}
	c.category, c.set = category, true
	return nil
}
