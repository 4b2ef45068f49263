package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

var csvHeaders = []string{"Date", "Amount", "Shop", "Category", "Label", "ID", "Created"}

func writeCSV(w io.Writer, records []api.Expense) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders); err != nil {
		return fmt.Errorf("writing csv headers: %w", err)
	}

	for _, e := range records {
		row := []string{
			e.Date.String(),
			strconv.FormatInt(e.Amount, 10),
			e.ShopName,
			string(e.Category),
			e.Category.Label(),
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
