package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"listing-tracker/models"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testObservation(itemID string) *models.Observation {
	return &models.Observation{
		ItemID:   itemID,
		SellerID: "partsdealer",
		Title:    "Bosch injector " + itemID,
		RawPrice: "45.99 EUR",
		Amount:   decPtr("45.99"),
		Currency: "EUR",
		URL:      "https://www.ebay.com/itm/" + itemID,
	}
}

func TestUpsertIdempotent(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	res, err := ms.Upsert(ctx, testObservation("A"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if res != models.Inserted {
		t.Errorf("first upsert: got %v, want Inserted", res)
	}

	before, _ := ms.ListingsBySeller(ctx, "partsdealer")
	start := before[0].ListingStartDate

	res, err = ms.Upsert(ctx, testObservation("A"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res != models.Updated {
		t.Errorf("second upsert: got %v, want Updated", res)
	}

	after, _ := ms.ListingsBySeller(ctx, "partsdealer")
	if len(after) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(after))
	}
	if !after[0].ListingStartDate.Equal(start) {
		t.Error("listing_start_date must never change after creation")
	}
	if after[0].Status != models.StatusActive {
		t.Error("listing should still be ACTIVE")
	}
}

func TestEndedRecordIsImmutable(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.Upsert(ctx, testObservation("A")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	endedAt := time.Now()
	ended, err := ms.Terminate(ctx, "A", endedAt)
	if err != nil || !ended {
		t.Fatalf("terminate: ended=%v err=%v", ended, err)
	}

	changed := testObservation("A")
	changed.Title = "different title"
	changed.Amount = decPtr("99.99")
	res, err := ms.Upsert(ctx, changed)
	if err != nil {
		t.Fatalf("upsert on ENDED: %v", err)
	}
	if res != models.SkippedEnded {
		t.Errorf("upsert on ENDED: got %v, want SkippedEnded", res)
	}

	if again, _ := ms.Terminate(ctx, "A", time.Now()); again {
		t.Error("second terminate must be a no-op")
	}

	listings, _ := ms.ListingsBySeller(ctx, "partsdealer")
	l := listings[0]
	if l.Title != "Bosch injector A" {
		t.Errorf("title changed on ENDED record: %q", l.Title)
	}
	if l.EndDate == nil || !l.EndDate.Equal(endedAt) {
		t.Error("end_date must be set exactly once")
	}
	if l.Status != models.StatusEnded {
		t.Error("status must remain ENDED")
	}
}

func TestTerminateUnknownIsNoOp(t *testing.T) {
	ms := NewMemoryStore()
	ended, err := ms.Terminate(context.Background(), "ghost", time.Now())
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if ended {
		t.Error("terminating an unknown id must report no transition")
	}
}

func TestSellerStatsExcludeNullAmounts(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	a := testObservation("A")
	a.Amount = decPtr("10.00")
	b := testObservation("B")
	b.Amount = nil
	b.Currency = ""
	c := testObservation("C")
	c.Amount = decPtr("20.00")
	for _, obs := range []*models.Observation{a, b, c} {
		if _, err := ms.Upsert(ctx, obs); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	stats, err := ms.SellerStats(ctx, "partsdealer")
	if err != nil {
		t.Fatalf("SellerStats: %v", err)
	}
	if stats.AveragePrice == nil {
		t.Fatal("AveragePrice should not be nil")
	}
	if got := stats.AveragePrice.StringFixed(2); got != "15.00" {
		t.Errorf("AveragePrice: got %s, want 15.00", got)
	}
	if stats.ActiveCount != 3 || stats.EndedCount != 0 {
		t.Errorf("counts: got %d/%d, want 3/0", stats.ActiveCount, stats.EndedCount)
	}
}

func TestSellerLifecycle(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if err := ms.RegisterSeller(ctx, "partsdealer", "https://www.ebay.com/str/partsdealer"); err != nil {
		t.Fatalf("register: %v", err)
	}
	// re-registration keeps the original record
	if err := ms.RegisterSeller(ctx, "partsdealer", "https://other.example"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	seller, err := ms.Seller(ctx, "partsdealer")
	if err != nil {
		t.Fatalf("seller: %v", err)
	}
	if seller.ShopURL != "https://www.ebay.com/str/partsdealer" {
		t.Errorf("shop url overwritten on re-registration: %q", seller.ShopURL)
	}
	if seller.LastScan != nil {
		t.Error("last_scan should start unset")
	}

	at := time.Now()
	if err := ms.UpdateLastScan(ctx, "partsdealer", at); err != nil {
		t.Fatalf("update last scan: %v", err)
	}
	seller, _ = ms.Seller(ctx, "partsdealer")
	if seller.LastScan == nil || !seller.LastScan.Equal(at) {
		t.Error("last_scan not updated")
	}

	if err := ms.UpdateLastScan(ctx, "ghost", at); !errors.Is(err, ErrUnknownSeller) {
		t.Errorf("unknown seller: got %v, want ErrUnknownSeller", err)
	}
	if _, err := ms.Seller(ctx, "ghost"); !errors.Is(err, ErrUnknownSeller) {
		t.Errorf("unknown seller fetch: got %v, want ErrUnknownSeller", err)
	}
}

func TestActiveItemIDsScopedToSeller(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	a := testObservation("A")
	other := testObservation("Z")
	other.SellerID = "othershop"
	for _, obs := range []*models.Observation{a, other} {
		if _, err := ms.Upsert(ctx, obs); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	ids, err := ms.ActiveItemIDs(ctx, "partsdealer")
	if err != nil {
		t.Fatalf("ActiveItemIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 active id, got %d", len(ids))
	}
	if _, ok := ids["A"]; !ok {
		t.Error("A should be active for partsdealer")
	}
}
