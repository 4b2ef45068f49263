package extraction

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

// Coerce turns a decoded reply into an Extraction. Fields that are missing or
// have the wrong shape are left at their zero value.
func Coerce(fields map[string]any) api.Extraction {
	return api.Extraction{
		Date:     coerceDate(fields["date"]),
		Amount:   coerceAmount(fields["amount"]),
		ShopName: coerceString(fields["shop_name"]),
		Category: coerceString(fields["category"]),
	}
}

var dateReplacer = strings.NewReplacer("/", "-", ".", "-", "年", "-", "月", "-", "日", "")

func coerceDate(v any) civil.Date {
	s, ok := v.(string)
	if !ok {
		return civil.Date{}
	}
	s = dateReplacer.Replace(strings.TrimSpace(s))

	t, err := time.Parse("2006-1-2", s)
	if err != nil {
		return civil.Date{}
	}
	return civil.DateOf(t)
}

var amountReplacer = strings.NewReplacer(",", "", "¥", "", "￥", "", "円", "", " ", "")

func coerceAmount(v any) int64 {
	var f float64
	switch a := v.(type) {
	case json.Number:
		n, err := a.Float64()
		if err != nil {
			return 0
		}
		f = n
	case float64:
		f = a
	case string:
		n, err := strconv.ParseFloat(amountReplacer.Replace(strings.TrimSpace(a)), 64)
		if err != nil {
			return 0
		}
		f = n
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 {
		return 0
	}
	n := int64(math.Round(f))
	if n <= 0 {
		return 0
	}
	return n
}

func coerceString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
