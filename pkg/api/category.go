package api

import "strings"

// Category is one of a fixed set of expense categories.
type Category string

// The closed set of categories.
const (
	Food       Category = "Food"
	DailyGoods Category = "Daily Goods"
	Transport  Category = "Transport"
	Social     Category = "Social"
	Other      Category = "Other"
)

// DefaultCategory is used for new drafts and for extraction replies without a category.
const DefaultCategory = Food

// Categories lists every valid category in display order.
var Categories = []Category{Food, DailyGoods, Transport, Social, Other}

// labels are the Japanese names the extraction model is asked to answer with.
var labels = map[Category]string{
	Food:       "食費",
	DailyGoods: "日用品",
	Transport:  "交通費",
	Social:     "交際費",
	Other:      "その他",
}

// Label returns the Japanese label for c, or "" if c is not valid.
func (c Category) Label() string {
	return labels[c]
}

// Valid reports whether c is in the closed set.
func (c Category) Valid() bool {
	_, ok := labels[c]
	return ok
}

// ParseCategory accepts either the English name (case and separator
// insensitive) or the Japanese label.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	norm := normalizeCategory(s)
	for _, c := range Categories {
		if s == labels[c] || norm == normalizeCategory(string(c)) {
			return c, true
		}
	}
	return "", false
}

func normalizeCategory(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}
