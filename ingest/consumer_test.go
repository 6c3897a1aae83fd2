package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"listing-tracker/models"
	"listing-tracker/services"
	"listing-tracker/storage"
	"listing-tracker/utils"
)

func newTestConsumer(t *testing.T) (*Consumer, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := utils.NewLogger()
	exporter, err := storage.NewCSVExporter(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVExporter: %v", err)
	}
	retry := &utils.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, Logger: logger}
	c := NewConsumer("amqp://unused", "listings.observations",
		services.NewReconciler(store, logger), store,
		services.NewInsightService(store, logger), exporter, logger, retry)
	return c, store
}

func deliver(t *testing.T, c *Consumer, ev Envelope) error {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return c.handle(context.Background(), body)
}

func boolPtr(b bool) *bool { return &b }

func TestConsumerFullSession(t *testing.T) {
	c, store := newTestConsumer(t)

	if err := deliver(t, c, Envelope{Type: TypeSessionStart, SessionID: "s1",
		SellerID: "partsdealer", ShopURL: "https://www.ebay.com/str/partsdealer"}); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	for _, id := range []string{"A", "B"} {
		if err := deliver(t, c, Envelope{Type: TypeObservation, SessionID: "s1",
			SellerID: "partsdealer", ItemID: id, RawPrice: "45.99 EUR",
			URL: "https://www.ebay.com/itm/" + id}); err != nil {
			t.Fatalf("observation %s: %v", id, err)
		}
	}
	if err := deliver(t, c, Envelope{Type: TypeSessionEnd, SessionID: "s1",
		SellerID: "partsdealer", FilterApplied: boolPtr(true)}); err != nil {
		t.Fatalf("session_end: %v", err)
	}

	ids, err := store.ActiveItemIDs(context.Background(), "partsdealer")
	if err != nil {
		t.Fatalf("ActiveItemIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 active listings, got %d", len(ids))
	}
	seller, err := store.Seller(context.Background(), "partsdealer")
	if err != nil {
		t.Fatalf("Seller: %v", err)
	}
	if seller.LastScan == nil {
		t.Error("completed session must stamp last_scan")
	}
}

func TestConsumerRejectsMissingFilterSignal(t *testing.T) {
	c, store := newTestConsumer(t)

	if err := deliver(t, c, Envelope{Type: TypeSessionStart, SessionID: "s1",
		SellerID: "partsdealer"}); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	if err := deliver(t, c, Envelope{Type: TypeObservation, SessionID: "s1",
		SellerID: "partsdealer", ItemID: "A", URL: "https://www.ebay.com/itm/A"}); err != nil {
		t.Fatalf("observation: %v", err)
	}

	err := deliver(t, c, Envelope{Type: TypeSessionEnd, SessionID: "s1", SellerID: "partsdealer"})
	if !errors.Is(err, services.ErrMissingFilterSignal) {
		t.Errorf("session_end without flag: got %v, want ErrMissingFilterSignal", err)
	}

	// Committed upserts stand, nothing was terminated.
	ids, _ := store.ActiveItemIDs(context.Background(), "partsdealer")
	if len(ids) != 1 {
		t.Errorf("expected the committed upsert to stand, got %d active", len(ids))
	}
}

func TestConsumerCrawlerAbortKeepsState(t *testing.T) {
	c, store := newTestConsumer(t)

	seed := func(ids ...string) {
		if err := deliver(t, c, Envelope{Type: TypeSessionStart, SessionID: "seed",
			SellerID: "partsdealer"}); err != nil {
			t.Fatalf("session_start: %v", err)
		}
		for _, id := range ids {
			if err := deliver(t, c, Envelope{Type: TypeObservation, SessionID: "seed",
				SellerID: "partsdealer", ItemID: id, URL: "https://www.ebay.com/itm/" + id}); err != nil {
				t.Fatalf("observation: %v", err)
			}
		}
		if err := deliver(t, c, Envelope{Type: TypeSessionEnd, SessionID: "seed",
			SellerID: "partsdealer", FilterApplied: boolPtr(true)}); err != nil {
			t.Fatalf("session_end: %v", err)
		}
	}
	seed("A", "B")

	if err := deliver(t, c, Envelope{Type: TypeSessionStart, SessionID: "s2",
		SellerID: "partsdealer"}); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	if err := deliver(t, c, Envelope{Type: TypeObservation, SessionID: "s2",
		SellerID: "partsdealer", ItemID: "A", URL: "https://www.ebay.com/itm/A"}); err != nil {
		t.Fatalf("observation: %v", err)
	}
	// Crawler died mid-pass; its abort must not terminate B.
	if err := deliver(t, c, Envelope{Type: TypeSessionEnd, SessionID: "s2",
		SellerID: "partsdealer", Aborted: true}); err != nil {
		t.Fatalf("aborted session_end: %v", err)
	}

	ids, _ := store.ActiveItemIDs(context.Background(), "partsdealer")
	if len(ids) != 2 {
		t.Errorf("aborted pass must not terminate: got %d active, want 2", len(ids))
	}
}

func TestConsumerRejectsStrayMessages(t *testing.T) {
	c, _ := newTestConsumer(t)

	if err := deliver(t, c, Envelope{Type: TypeObservation, SessionID: "nope",
		SellerID: "partsdealer", ItemID: "A"}); err == nil {
		t.Error("observation for unknown session should fail")
	}
	if err := deliver(t, c, Envelope{Type: TypeSessionEnd, SessionID: "nope",
		SellerID: "partsdealer", FilterApplied: boolPtr(true)}); err == nil {
		t.Error("session_end for unknown session should fail")
	}
	if err := deliver(t, c, Envelope{Type: "telemetry", SessionID: "s1"}); err == nil {
		t.Error("unknown envelope type should fail")
	}
	if err := c.handle(context.Background(), []byte("{not json")); err == nil {
		t.Error("malformed body should fail")
	}
	if err := deliver(t, c, Envelope{Type: TypeObservation}); err == nil {
		t.Error("envelope without session_id should fail")
	}
}

func TestConsumerSessionRestartAbortsPrevious(t *testing.T) {
	c, store := newTestConsumer(t)

	if err := deliver(t, c, Envelope{Type: TypeSessionStart, SessionID: "s1",
		SellerID: "partsdealer"}); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	if err := deliver(t, c, Envelope{Type: TypeObservation, SessionID: "s1",
		SellerID: "partsdealer", ItemID: "A", URL: "https://www.ebay.com/itm/A"}); err != nil {
		t.Fatalf("observation: %v", err)
	}
	// Duplicate start: crawler restarted the pass.
	if err := deliver(t, c, Envelope{Type: TypeSessionStart, SessionID: "s1",
		SellerID: "partsdealer"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := deliver(t, c, Envelope{Type: TypeSessionEnd, SessionID: "s1",
		SellerID: "partsdealer", FilterApplied: boolPtr(true)}); err != nil {
		t.Fatalf("session_end: %v", err)
	}

	// The restarted (empty) pass terminated A from the first attempt.
	listings, _ := store.ListingsBySeller(context.Background(), "partsdealer")
	if len(listings) != 1 || listings[0].Status != models.StatusEnded {
		t.Error("restarted session should reconcile from its own seen set")
	}
}
