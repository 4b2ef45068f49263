// Package api defines the core interfaces and data structures for receiptcal.
package api

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
)

// Expense is a persisted expense record. Records are immutable once created;
// the only mutation is deletion.
type Expense struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"user_id"`
	Date      civil.Date `json:"date"`
	Amount    int64      `json:"amount"`
	ShopName  string     `json:"shop_name"`
	Category  Category   `json:"category"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewExpense is an expense that has not been stored yet. The store assigns
// the ID and creation time.
type NewExpense struct {
	OwnerID  string
	Date     civil.Date
	Amount   int64
	ShopName string
	Category Category
}

// Image is a captured receipt image.
type Image struct {
	Data     []byte
	MimeType string
	// Name is the original file name, if any. Informational only.
	Name string
}

// Extraction is the best-effort guess returned by the extraction collaborator.
// It is untrusted: every field may be missing, in which case it holds its zero value.
type Extraction struct {
	// Date is zero when the reply had no usable date.
	Date civil.Date
	// Amount is 0 when the reply had no positive amount.
	Amount   int64
	ShopName string
	// Category is the raw category text and may be outside the closed set.
	Category string
}

// Repository is the storage collaborator for expense records.
// Every call is scoped to a single owner.
type Repository interface {
	// List returns the owner's records, newest created_at first.
	List(ctx context.Context, ownerID string) ([]Expense, error)
	// Insert stores a new record.
	Insert(ctx context.Context, e NewExpense) error
	// Delete removes the record with the given id if it belongs to ownerID.
	Delete(ctx context.Context, ownerID, id string) error
}

// Extractor turns a receipt image into a candidate record.
type Extractor interface {
	Extract(ctx context.Context, img Image) (Extraction, error)
}

// Preprocessor prepares an image for upload. It never fails: on any problem
// it returns the input unchanged.
type Preprocessor interface {
	Process(ctx context.Context, img Image) Image
}
