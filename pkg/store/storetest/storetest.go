// Package storetest holds the behaviour every api.Repository backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

// Run exercises repo. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) api.Repository) {
	t.Helper()

	t.Run("InsertAndList", func(t *testing.T) { testInsertAndList(t, newRepo(t)) })
	t.Run("NewestFirst", func(t *testing.T) { testNewestFirst(t, newRepo(t)) })
	t.Run("OwnerScoping", func(t *testing.T) { testOwnerScoping(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("DeleteOtherOwner", func(t *testing.T) { testDeleteOtherOwner(t, newRepo(t)) })
	t.Run("RejectsInvalid", func(t *testing.T) { testRejectsInvalid(t, newRepo(t)) })
}

var day = civil.Date{Year: 2024, Month: 3, Day: 15}

func expense(owner string, amount int64, shop string) api.NewExpense {
	return api.NewExpense{OwnerID: owner, Date: day, Amount: amount, ShopName: shop, Category: api.Food}
}

func mustInsert(t *testing.T, repo api.Repository, e api.NewExpense) {
	t.Helper()
	if err := repo.Insert(context.Background(), e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func mustList(t *testing.T, repo api.Repository, owner string) []api.Expense {
	t.Helper()
	got, err := repo.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return got
}

func testInsertAndList(t *testing.T, repo api.Repository) {
	if got := mustList(t, repo, "alice"); len(got) != 0 {
		t.Fatalf("expected empty repository, got %d records", len(got))
	}

	before := time.Now().Add(-time.Minute)
	mustInsert(t, repo, api.NewExpense{
		OwnerID:  "alice",
		Date:     day,
		Amount:   1280,
		ShopName: "Store A",
		Category: api.DailyGoods,
	})

	got := mustList(t, repo, "alice")
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	e := got[0]
	if e.ID == "" {
		t.Error("store must assign an id")
	}
	if e.OwnerID != "alice" || e.Date != day || e.Amount != 1280 || e.ShopName != "Store A" || e.Category != api.DailyGoods {
		t.Errorf("unexpected record %+v", e)
	}
	if e.CreatedAt.Before(before) {
		t.Errorf("created_at %v is not current", e.CreatedAt)
	}
}

func testNewestFirst(t *testing.T, repo api.Repository) {
	for _, shop := range []string{"first", "second", "third"} {
		mustInsert(t, repo, expense("alice", 100, shop))
		time.Sleep(5 * time.Millisecond)
	}

	got := mustList(t, repo, "alice")
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, want := range []string{"third", "second", "first"} {
		if got[i].ShopName != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].ShopName, want)
		}
	}
}

func testOwnerScoping(t *testing.T, repo api.Repository) {
	mustInsert(t, repo, expense("alice", 100, "a"))
	mustInsert(t, repo, expense("bob", 200, "b"))

	got := mustList(t, repo, "bob")
	if len(got) != 1 || got[0].OwnerID != "bob" {
		t.Errorf("bob sees %+v", got)
	}
	if got := mustList(t, repo, "carol"); len(got) != 0 {
		t.Errorf("carol sees %d records", len(got))
	}
}

func testDelete(t *testing.T, repo api.Repository) {
	mustInsert(t, repo, expense("alice", 100, "keep"))
	time.Sleep(5 * time.Millisecond)
	mustInsert(t, repo, expense("alice", 200, "drop"))

	got := mustList(t, repo, "alice")
	if err := repo.Delete(context.Background(), "alice", got[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got = mustList(t, repo, "alice")
	if len(got) != 1 || got[0].ShopName != "keep" {
		t.Errorf("after delete: %+v", got)
	}

	err := repo.Delete(context.Background(), "alice", uuid.NewString())
	if !errors.Is(err, api.ErrNotFound) {
		t.Errorf("deleting a missing id: got %v, want ErrNotFound", err)
	}
	if err := repo.Delete(context.Background(), "alice", "not-a-uuid"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("deleting a malformed id: got %v, want ErrNotFound", err)
	}
}

func testDeleteOtherOwner(t *testing.T, repo api.Repository) {
	mustInsert(t, repo, expense("alice", 100, "mine"))
	id := mustList(t, repo, "alice")[0].ID

	if err := repo.Delete(context.Background(), "mallory", id); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("cross-owner delete: got %v, want ErrNotFound", err)
	}
	if got := mustList(t, repo, "alice"); len(got) != 1 {
		t.Errorf("record must survive a cross-owner delete, got %d records", len(got))
	}
}

func testRejectsInvalid(t *testing.T, repo api.Repository) {
	tests := map[string]api.NewExpense{
		"zero amount":     {OwnerID: "alice", Date: day, Amount: 0, Category: api.Food},
		"negative amount": {OwnerID: "alice", Date: day, Amount: -10, Category: api.Food},
		"bad category":    {OwnerID: "alice", Date: day, Amount: 10, Category: "Fun"},
	}

	for name, e := range tests {
		err := repo.Insert(context.Background(), e)
		if !errors.Is(err, api.ErrRepository) {
			t.Errorf("%s: got %v, want ErrRepository", name, err)
		}
	}
	if got := mustList(t, repo, "alice"); len(got) != 0 {
		t.Errorf("invalid records were stored: %+v", got)
	}
}
