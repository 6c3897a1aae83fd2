package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"listing-tracker/models"
)

// MemoryStore is an in-process ListingStore with the same lifecycle
// guarantees as the Postgres backend. It backs unit tests and
// broker-less dry runs; nothing survives the process.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*models.Listing
	sellers  map[string]*models.Seller
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]*models.Listing),
		sellers:  make(map[string]*models.Seller),
	}
}

func (ms *MemoryStore) Close() error { return nil }

func (ms *MemoryStore) RegisterSeller(_ context.Context, sellerID, shopURL string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.sellers[sellerID]; exists {
		return nil
	}
	ms.sellers[sellerID] = &models.Seller{SellerID: sellerID, ShopURL: shopURL}
	return nil
}

func (ms *MemoryStore) UpdateLastScan(_ context.Context, sellerID string, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	s, exists := ms.sellers[sellerID]
	if !exists {
		return ErrUnknownSeller
	}
	t := at
	s.LastScan = &t
	return nil
}

func (ms *MemoryStore) Seller(_ context.Context, sellerID string) (*models.Seller, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, exists := ms.sellers[sellerID]
	if !exists {
		return nil, ErrUnknownSeller
	}
	return cloneSeller(s), nil
}

func (ms *MemoryStore) Sellers(_ context.Context) ([]*models.Seller, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	sellers := make([]*models.Seller, 0, len(ms.sellers))
	for _, s := range ms.sellers {
		sellers = append(sellers, cloneSeller(s))
	}
	sort.Slice(sellers, func(i, j int) bool { return sellers[i].SellerID < sellers[j].SellerID })
	return sellers, nil
}

func (ms *MemoryStore) Upsert(_ context.Context, obs *models.Observation) (models.UpsertResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	existing, found := ms.listings[obs.ItemID]
	if !found {
		ms.listings[obs.ItemID] = &models.Listing{
			ItemID:           obs.ItemID,
			SellerID:         obs.SellerID,
			Title:            obs.Title,
			OEMReference:     obs.OEMReference,
			RawPrice:         obs.RawPrice,
			Amount:           cloneDecimal(obs.Amount),
			Currency:         obs.Currency,
			URL:              obs.URL,
			Status:           models.StatusActive,
			ListingStartDate: time.Now(),
		}
		return models.Inserted, nil
	}

	if existing.Status == models.StatusEnded {
		return models.SkippedEnded, nil
	}

	// listing_start_date and status stay untouched; everything else is
	// last-write-wins, including seller_id (relist under the same id).
	existing.SellerID = obs.SellerID
	existing.Title = obs.Title
	existing.OEMReference = obs.OEMReference
	existing.RawPrice = obs.RawPrice
	existing.Amount = cloneDecimal(obs.Amount)
	existing.Currency = obs.Currency
	existing.URL = obs.URL
	return models.Updated, nil
}

func (ms *MemoryStore) Terminate(_ context.Context, itemID string, at time.Time) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	l, found := ms.listings[itemID]
	if !found || l.Status != models.StatusActive {
		return false, nil
	}
	t := at
	l.Status = models.StatusEnded
	l.EndDate = &t
	return true, nil
}

func (ms *MemoryStore) ActiveItemIDs(_ context.Context, sellerID string) (map[string]struct{}, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ids := make(map[string]struct{})
	for id, l := range ms.listings {
		if l.SellerID == sellerID && l.Status == models.StatusActive {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (ms *MemoryStore) SellerStats(_ context.Context, sellerID string) (*models.SellerStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := &models.SellerStats{}
	currencies := make(map[string]struct{})
	sum := decimal.Zero
	priced := 0

	for _, l := range ms.listings {
		if l.SellerID != sellerID {
			continue
		}
		switch l.Status {
		case models.StatusActive:
			stats.ActiveCount++
		case models.StatusEnded:
			stats.EndedCount++
		}
		if l.Amount != nil {
			sum = sum.Add(*l.Amount)
			priced++
		}
		if l.Currency != "" {
			currencies[l.Currency] = struct{}{}
		}
	}

	if priced > 0 {
		avg := sum.Div(decimal.NewFromInt(int64(priced))).Round(2)
		stats.AveragePrice = &avg
	}
	for c := range currencies {
		stats.Currencies = append(stats.Currencies, c)
	}
	sort.Strings(stats.Currencies)
	return stats, nil
}

func (ms *MemoryStore) ListingsBySeller(_ context.Context, sellerID string) ([]*models.Listing, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var listings []*models.Listing
	for _, l := range ms.listings {
		if l.SellerID == sellerID {
			listings = append(listings, cloneListing(l))
		}
	}
	sortListings(listings)
	return listings, nil
}

func (ms *MemoryStore) AllListings(_ context.Context) ([]*models.Listing, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	listings := make([]*models.Listing, 0, len(ms.listings))
	for _, l := range ms.listings {
		listings = append(listings, cloneListing(l))
	}
	sortListings(listings)
	return listings, nil
}

func sortListings(listings []*models.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		if listings[i].SellerID != listings[j].SellerID {
			return listings[i].SellerID < listings[j].SellerID
		}
		if !listings[i].ListingStartDate.Equal(listings[j].ListingStartDate) {
			return listings[i].ListingStartDate.Before(listings[j].ListingStartDate)
		}
		return listings[i].ItemID < listings[j].ItemID
	})
}

func cloneListing(l *models.Listing) *models.Listing {
	c := *l
	c.Amount = cloneDecimal(l.Amount)
	if l.EndDate != nil {
		t := *l.EndDate
		c.EndDate = &t
	}
	return &c
}

func cloneSeller(s *models.Seller) *models.Seller {
	c := *s
	if s.LastScan != nil {
		t := *s.LastScan
		c.LastScan = &t
	}
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
