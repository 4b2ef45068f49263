package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) api.Repository { return New() })
}

func TestSameInstantTieBreak(t *testing.T) {
	s := New()
	fixed := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	for range 5 {
		e := api.NewExpense{OwnerID: "o", Date: api.Today(time.UTC).EffectiveDate(), Amount: 1, Category: api.Other}
		if err := s.Insert(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.List(context.Background(), "o")
	for i := 1; i < len(got); i++ {
		if got[i-1].ID < got[i].ID {
			t.Errorf("ties must be ordered by id descending: %s before %s", got[i-1].ID, got[i].ID)
		}
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().List(ctx, "o"); !errors.Is(err, api.ErrRepository) || !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
}
