// Package memory provides an in-process expense repository.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

// Store keeps expenses in a slice. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	expenses []api.Expense
	now      func() time.Time
}

var _ api.Repository = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// List implements api.Repository.
func (s *Store) List(ctx context.Context, ownerID string) ([]api.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("listing expenses: %w: %w", api.ErrRepository, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.Expense, 0)
	for _, e := range s.expenses {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, newestFirst)
	return out, nil
}

// Insert implements api.Repository.
func (s *Store) Insert(ctx context.Context, e api.NewExpense) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("inserting expense: %w: %w", api.ErrRepository, err)
	}
	if e.Amount <= 0 || !e.Category.Valid() || !e.Date.IsValid() || e.OwnerID == "" {
		return fmt.Errorf("inserting expense: %w: constraint violation", api.ErrRepository)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expenses = append(s.expenses, api.Expense{
		ID:        uuid.NewString(),
		OwnerID:   e.OwnerID,
		Date:      e.Date,
		Amount:    e.Amount,
		ShopName:  e.ShopName,
		Category:  e.Category,
		CreatedAt: s.now(),
	})
	return nil
}

// Delete implements api.Repository.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deleting expense: %w: %w", api.ErrRepository, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.expenses, func(e api.Expense) bool {
		return e.ID == id && e.OwnerID == ownerID
	})
	if i < 0 {
		return fmt.Errorf("deleting expense %s: %w", id, api.ErrNotFound)
	}
	s.expenses = slices.Delete(s.expenses, i, i+1)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func newestFirst(a, b api.Expense) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}
