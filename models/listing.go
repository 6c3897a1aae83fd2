package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a Listing.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// Observation is one crawler-supplied snapshot of a single item.
// ItemID may be empty on input; the reconciler fills it with a
// synthetic identity before the upsert. Amount and Currency are
// derived from RawPrice by the normalizer — Amount stays nil when
// the price did not parse.
type Observation struct {
	ItemID       string
	SellerID     string
	Title        string
	OEMReference string
	RawPrice     string
	URL          string
	Amount       *decimal.Decimal
	Currency     string
}

// Listing is one marketplace item as tracked over time.
// ItemID is the sole identity key, unique across the whole store.
// Once Status is ENDED the record is immutable.
type Listing struct {
	ItemID           string
	SellerID         string
	Title            string
	OEMReference     string
	RawPrice         string
	Amount           *decimal.Decimal
	Currency         string
	URL              string
	Status           Status
	ListingStartDate time.Time
	EndDate          *time.Time
}

// Seller is a tracked shop.
type Seller struct {
	SellerID string
	ShopURL  string
	LastScan *time.Time
}

// UpsertResult tells the caller what an upsert actually did.
type UpsertResult int

const (
	// Inserted — the item was unknown and a new ACTIVE record was created.
	Inserted UpsertResult = iota
	// Updated — an existing ACTIVE record was overwritten.
	Updated
	// SkippedEnded — the record is ENDED and was left untouched.
	SkippedEnded
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case SkippedEnded:
		return "skipped(ended)"
	default:
		return "unknown"
	}
}

// SellerStats holds the aggregate numbers the store computes for one seller.
type SellerStats struct {
	ActiveCount  int
	EndedCount   int
	AveragePrice *decimal.Decimal
	Currencies   []string
}

// SellerReport is the per-seller KPI view built by the insight service.
type SellerReport struct {
	SellerID        string
	ShopURL         string
	LastScan        *time.Time
	ActiveCount     int
	EndedCount      int
	AveragePrice    *decimal.Decimal
	CurrencyDisplay string
}

// SessionSummary holds the counters of one completed reconciliation pass.
type SessionSummary struct {
	SellerID      string
	Observed      int
	Inserted      int
	Updated       int
	Skipped       int
	Ended         int
	FilterApplied bool
}
