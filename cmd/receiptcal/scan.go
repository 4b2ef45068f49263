package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ArionMiles/receiptcal/internal/app"
	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/pipeline"
)

// runScan extracts a receipt image into the draft and optionally saves it.
func runScan(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	save := fs.Bool("save", false, "store the expense after extraction")
	edits := addDraftFlags(fs)

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("usage: receiptcal scan <image> [--save] [--amount N] [--shop NAME] [--category C] [--date YYYY-MM-DD]")
	}

	img, err := readImage(positional[0])
	if err != nil {
		return err
	}

	a, err := openApp(ctx, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.Controller
	fmt.Printf("Analyzing %s (%d bytes)...\n", img.Name, len(img.Data))
	if _, err := ctrl.Extract(ctx, img); err != nil {
		return err
	}
	if err := edits.apply(ctrl); err != nil {
		return err
	}

	printDraft(ctrl)
	if !*save {
		fmt.Println()
		fmt.Println("Not saved. Re-run with --save, adjusting fields with --amount, --shop, --category or --date.")
		return nil
	}

	if err := ctrl.Save(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Saved")
	return nil
}

func readImage(path string) (api.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.Image{}, fmt.Errorf("reading image: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return api.Image{Data: data, MimeType: mimeType, Name: filepath.Base(path)}, nil
}

func printDraft(ctrl *pipeline.Controller) {
	d := ctrl.Draft()
	amount := "(unset)"
	if d.AmountSet() {
		amount = fmt.Sprintf("¥%d", d.Amount)
	}

	fmt.Println()
	fmt.Printf("  Date:     %s\n", ctrl.Selection().EffectiveDate())
	fmt.Printf("  Amount:   %s\n", amount)
	fmt.Printf("  Shop:     %s\n", d.ShopName)
	fmt.Printf("  Category: %s (%s)\n", d.Category, d.Category.Label())
}

// draftFlags are the field edits shared by scan and add.
type draftFlags struct {
	fs       *flag.FlagSet
	amount   *int64
	shop     *string
	category categoryFlag
	date     dateFlag
}

func addDraftFlags(fs *flag.FlagSet) *draftFlags {
	d := &draftFlags{
		fs:     fs,
		amount: fs.Int64("amount", 0, "amount in yen"),
		shop:   fs.String("shop", "", "shop name"),
	}
	fs.Var(&d.category, "category", "Food, Daily Goods, Transport, Social or Other")
	fs.Var(&d.date, "date", "day of the expense (YYYY-MM-DD)")
	return d
}

// apply copies the flags that were given on the command line into the controller.
func (d *draftFlags) apply(ctrl *pipeline.Controller) error {
	var err error
	d.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "amount":
			ctrl.SetAmount(*d.amount)
		case "shop":
			ctrl.SetShopName(*d.shop)
		case "category":
			err = ctrl.SetCategory(d.category.category)
		case "date":
			ctrl.Select(api.Single(d.date.date))
		}
	})
	return err
}

// parseInterspersed parses flags that may appear before or after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
