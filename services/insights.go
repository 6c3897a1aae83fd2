package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"listing-tracker/models"
	"listing-tracker/storage"
	"listing-tracker/utils"
)

// InsightService builds the read-side KPI view over the listing store.
// Every number is re-derived from the store at call time; there is no
// cached state to invalidate.
type InsightService struct {
	store  storage.ListingStore
	logger *utils.Logger
}

func NewInsightService(store storage.ListingStore, logger *utils.Logger) *InsightService {
	return &InsightService{store: store, logger: logger}
}

// Report assembles the per-seller KPI report: active/ended counts,
// average price over parseable amounts, and the currency display set.
func (s *InsightService) Report(ctx context.Context, seller *models.Seller) (*models.SellerReport, error) {
	stats, err := s.store.SellerStats(ctx, seller.SellerID)
	if err != nil {
		return nil, fmt.Errorf("insights: stats for %s: %w", seller.SellerID, err)
	}

	return &models.SellerReport{
		SellerID:        seller.SellerID,
		ShopURL:         seller.ShopURL,
		LastScan:        seller.LastScan,
		ActiveCount:     stats.ActiveCount,
		EndedCount:      stats.EndedCount,
		AveragePrice:    stats.AveragePrice,
		CurrencyDisplay: CurrencyDisplay(stats.Currencies),
	}, nil
}

// CurrencyDisplay renders a currency set as a sorted, comma-joined
// string. Stable ordering keeps dashboards and tests reproducible.
func CurrencyDisplay(currencies []string) string {
	sorted := make([]string, len(currencies))
	copy(sorted, currencies)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

func (s *InsightService) Print(r *models.SellerReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 SELLER REPORT — %s\033[0m\n", r.SellerID)
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Catalog\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Active listings : \033[1m%d\033[0m\n", r.ActiveCount)
	fmt.Printf("  Ended listings  : \033[1m%d\033[0m\n", r.EndedCount)
	if r.ShopURL != "" {
		fmt.Printf("  Shop URL        : %s\n", r.ShopURL)
	}
	if r.LastScan != nil {
		fmt.Printf("  Last scan       : %s\n", r.LastScan.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("  Last scan       : never\n")
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Prices\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AveragePrice != nil {
		fmt.Printf("  Average price : \033[1;32m%s\033[0m\n", r.AveragePrice.StringFixed(2))
	} else {
		fmt.Printf("  No parseable price data\n")
	}
	if r.CurrencyDisplay != "" {
		fmt.Printf("  Currencies    : %s\n", r.CurrencyDisplay)
	} else {
		fmt.Printf("  Currencies    : unknown\n")
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}
