package storage

import (
	"context"
	"errors"
	"time"

	"listing-tracker/models"
)

// ErrUnknownSeller is returned for operations referencing a seller
// that was never registered.
var ErrUnknownSeller = errors.New("storage: unknown seller")

// ListingStore is the interface any storage backend must satisfy. It
// owns identity, uniqueness, and lifecycle transitions: item_id is
// unique across the whole store, listing_start_date is set once at
// first observation, and an ENDED record never changes again.
//
// I/O errors always propagate to the caller; a swallowed write here
// would let a session close its reconciliation loop over state that
// was never committed.
type ListingStore interface {
	// RegisterSeller inserts the seller if absent; re-registration is a no-op.
	RegisterSeller(ctx context.Context, sellerID, shopURL string) error
	// UpdateLastScan stamps the end of a completed pass.
	UpdateLastScan(ctx context.Context, sellerID string, at time.Time) error
	Seller(ctx context.Context, sellerID string) (*models.Seller, error)
	Sellers(ctx context.Context) ([]*models.Seller, error)

	// Upsert creates an ACTIVE record, overwrites the mutable fields of
	// an existing ACTIVE record, or no-ops on an ENDED record.
	Upsert(ctx context.Context, obs *models.Observation) (models.UpsertResult, error)
	// Terminate flips ACTIVE → ENDED and stamps end_date; it reports
	// whether the transition happened. Calling it on an ENDED or
	// unknown id is a no-op.
	Terminate(ctx context.Context, itemID string, at time.Time) (bool, error)
	// ActiveItemIDs returns the ids the reconciler diffs against its seen set.
	ActiveItemIDs(ctx context.Context, sellerID string) (map[string]struct{}, error)

	// SellerStats computes active/ended counts, the average of non-null
	// amounts (2 dp), and the distinct non-empty currencies, as one
	// consistent snapshot.
	SellerStats(ctx context.Context, sellerID string) (*models.SellerStats, error)
	ListingsBySeller(ctx context.Context, sellerID string) ([]*models.Listing, error)
	AllListings(ctx context.Context) ([]*models.Listing, error)

	Close() error
}
