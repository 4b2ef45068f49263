package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

func writeJSON(w io.Writer, records []api.Expense) error {
	if records == nil {
		records = []api.Expense{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}
