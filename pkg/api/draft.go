package api

import "cloud.google.com/go/civil"

// DraftForm is the in-memory staging area for an expense that has not been saved.
type DraftForm struct {
	// Amount is 0 while unset.
	Amount   int64
	ShopName string
	Category Category
}

// EmptyDraft returns the draft used at startup and after a successful save.
func EmptyDraft() DraftForm {
	return DraftForm{Category: DefaultCategory}
}

// AmountSet reports whether the user (or extraction) has provided an amount.
func (d DraftForm) AmountSet() bool {
	return d.Amount != 0
}

// Validate checks that the draft can be saved on day.
func (d DraftForm) Validate(day civil.Date) error {
	if !day.IsValid() {
		return &ValidationError{Field: "date", Reason: "no single day selected"}
	}
	if !d.AmountSet() {
		return &ValidationError{Field: "amount", Reason: "amount is required"}
	}
	if d.Amount < 0 {
		return &ValidationError{Field: "amount", Reason: "amount must be positive"}
	}
	if !d.Category.Valid() {
		return &ValidationError{Field: "category", Reason: "unknown category " + string(d.Category)}
	}
	return nil
}

// ToExpense builds the record to insert for ownerID on day.
func (d DraftForm) ToExpense(ownerID string, day civil.Date) NewExpense {
	return NewExpense{
		OwnerID:  ownerID,
		Date:     day,
		Amount:   d.Amount,
		ShopName: d.ShopName,
		Category: d.Category,
	}
}

// DraftFromExtraction coerces an untrusted extraction into a draft. A missing
// category becomes DefaultCategory; a category outside the closed set becomes unknown.
func DraftFromExtraction(ex Extraction, unknown Category) DraftForm {
	if !unknown.Valid() {
		unknown = DefaultCategory
	}

	category := DefaultCategory
	if ex.Category != "" {
		if c, ok := ParseCategory(ex.Category); ok {
			category = c
		} else {
			category = unknown
		}
	}

	amount := ex.Amount
	if amount < 0 {
		amount = 0
	}

	return DraftForm{
		Amount:   amount,
		ShopName: ex.ShopName,
		Category: category,
	}
}
