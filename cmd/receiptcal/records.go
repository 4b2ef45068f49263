package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ArionMiles/receiptcal/internal/app"
	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/export"
	"github.com/ArionMiles/receiptcal/pkg/pipeline"
)

// runAdd records an expense without a receipt.
func runAdd(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	edits := addDraftFlags(fs)
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}

	a, err := openApp(ctx, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.Controller
	if err := edits.apply(ctrl); err != nil {
		return err
	}

	draft, day := ctrl.Draft(), ctrl.Selection().EffectiveDate()
	if err := ctrl.Save(ctx); err != nil {
		return err
	}
	fmt.Printf("✓ Saved %s\n", describe(api.Expense{
		Date:     day,
		Amount:   draft.Amount,
		ShopName: draft.ShopName,
		Category: draft.Category,
	}))
	return nil
}

// runList prints the expenses of one day.
func runList(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var date dateFlag
	fs.Var(&date, "date", "day to show (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.Controller
	if date.set {
		ctrl.Select(api.Single(date.date))
	}
	day := ctrl.Selection().EffectiveDate()

	return printDay(os.Stdout, day, ctrl.SelectedRecords())
}

func printDay(out io.Writer, day civil.Date, records []api.Expense) error {
	if len(records) == 0 {
		fmt.Fprintf(out, "No expenses on %s.\n", day)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAMOUNT\tSHOP\tCATEGORY")
	for _, e := range records {
		fmt.Fprintf(tw, "%s\t¥%d\t%s\t%s\n", e.ID, e.Amount, e.ShopName, e.Category)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing table: %w", err)
	}

	fmt.Fprintf(out, "\n%s: %d expense(s), total ¥%d\n", day, len(records), pipeline.DayTotal(records, day))
	return nil
}

// runCalendar prints a month with the days that have expenses marked.
func runCalendar(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("calendar", flag.ContinueOnError)
	month := fs.String("month", "", "month to show (YYYY-MM, default current)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	year, mon, err := parseMonth(*month, time.Now())
	if err != nil {
		return err
	}

	a, err := openApp(ctx, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.Controller
	marked := ctrl.MarkedDays(year, mon)
	renderMonth(os.Stdout, year, mon, marked)

	records := ctrl.Records()
	var total int64
	for _, d := range marked {
		total += pipeline.DayTotal(records, d)
	}
	fmt.Printf("\nMonth total: ¥%d\n", total)
	return nil
}

func parseMonth(s string, now time.Time) (int, time.Month, error) {
	if s == "" {
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}

// renderMonth draws a Monday-first month grid. Marked days carry a '*'.
func renderMonth(out io.Writer, year int, month time.Month, marked []civil.Date) {
	isMarked := make(map[int]bool, len(marked))
	for _, d := range marked {
		isMarked[d.Day] = true
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	offset := (int(first.Weekday()) + 6) % 7

	fmt.Fprintf(out, "%s %d\n", month, year)
	fmt.Fprintln(out, " Mo  Tu  We  Th  Fr  Sa  Su")
	for i := 0; i < offset; i++ {
		fmt.Fprint(out, "    ")
	}
	for day := 1; day <= days; day++ {
		mark := " "
		if isMarked[day] {
			mark = "*"
		}
		fmt.Fprintf(out, " %2d%s", day, mark)
		if (offset+day)%7 == 0 || day == days {
			fmt.Fprintln(out)
		}
	}
}

// runDelete deletes one expense after confirmation.
func runDelete(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("usage: receiptcal delete <id> [--yes]")
	}

	opts := app.Options{}
	if !*yes {
		opts.Confirm = confirmOn(os.Stdin, os.Stdout)
	}

	a, err := openApp(ctx, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Controller.Delete(ctx, positional[0]); err != nil {
		if errors.Is(err, api.ErrCanceled) {
			fmt.Println("Canceled.")
			return nil
		}
		return err
	}
	fmt.Println("✓ Deleted")
	return nil
}

// runExport writes every cached expense to a file or stdout.
func runExport(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	formatName := fs.String("format", "csv", "csv or json")
	out := fs.String("out", "-", "output file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	format, err := export.ParseFormat(*formatName)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.Controller.Records()
	if *out == "-" {
		return export.Write(os.Stdout, records, format)
	}
	if err := export.WriteFile(*out, records, format, logger); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Exported %d expense(s) to %s\n", len(records), *out)
	return nil
}
