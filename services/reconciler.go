package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-tracker/models"
	"listing-tracker/storage"
	"listing-tracker/utils"
)

var (
	// ErrSessionAborted is returned when Close is called on a session
	// that hit a store error or was aborted by the caller. An aborted
	// pass keeps its committed upserts but never terminates anything.
	ErrSessionAborted = errors.New("session: aborted, termination skipped")
	// ErrMissingFilterSignal is returned by ingest boundaries when a
	// session end arrives without an explicit filter-applied flag.
	// Terminating on a guess could end every listing of a seller whose
	// catalog page simply failed to load.
	ErrMissingFilterSignal = errors.New("session: filter signal missing, refusing to terminate")
)

// Reconciler runs reconciliation sessions against a listing store.
type Reconciler struct {
	store  storage.ListingStore
	logger *utils.Logger
}

// NewReconciler creates a Reconciler backed by the given store.
func NewReconciler(store storage.ListingStore, logger *utils.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Session is one reconciliation pass for one seller. Observations are
// streamed in one at a time; each is committed before the next is
// consumed, so a crash mid-session leaves valid partial state.
// Termination only happens in Close, after the whole stream was seen.
type Session struct {
	store    storage.ListingStore
	logger   *utils.Logger
	sellerID string
	seen     *utils.IDSet
	summary  models.SessionSummary
	aborted  bool
	closed   bool
}

// Begin registers the seller (insert-if-absent) and opens a session.
func (r *Reconciler) Begin(ctx context.Context, sellerID, shopURL string) (*Session, error) {
	if sellerID == "" {
		return nil, errors.New("session: empty seller id")
	}
	if err := r.store.RegisterSeller(ctx, sellerID, shopURL); err != nil {
		return nil, fmt.Errorf("begin session for %s: %w", sellerID, err)
	}
	r.logger.Info("[session] %s — pass started", sellerID)
	return &Session{
		store:    r.store,
		logger:   r.logger,
		sellerID: sellerID,
		seen:     utils.NewIDSet(),
		summary:  models.SessionSummary{SellerID: sellerID},
	}, nil
}

// SellerID returns the seller this session reconciles.
func (s *Session) SellerID() string {
	return s.sellerID
}

// Observe upserts a single observation and records its identity as
// seen. A missing item id is replaced with a synthetic one; a price
// that fails normalization downgrades to a null amount rather than
// failing the upsert. A store error aborts the session and propagates.
func (s *Session) Observe(ctx context.Context, obs *models.Observation) error {
	if s.aborted || s.closed {
		return ErrSessionAborted
	}

	if obs.SellerID == "" {
		obs.SellerID = s.sellerID
	}
	if obs.ItemID == "" {
		obs.ItemID = SyntheticItemID(obs.URL, obs.Title)
		s.logger.Debug("[session] %s — synthesized id %s for %q", s.sellerID, obs.ItemID, obs.URL)
	}

	obs.Amount = nil
	obs.Currency = ""
	if obs.RawPrice != "" {
		amount, currency, err := NormalizePrice(obs.RawPrice)
		if err != nil {
			s.logger.Debug("[session] %s — price %q unparseable: %v", s.sellerID, obs.RawPrice, err)
		} else {
			obs.Amount = &amount
			obs.Currency = currency
		}
	}

	result, err := s.store.Upsert(ctx, obs)
	if err != nil {
		s.aborted = true
		return fmt.Errorf("upsert %s: %w", obs.ItemID, err)
	}

	// Seen even when the record is ENDED: a relisted item must not be
	// counted as disappeared.
	s.seen.Add(obs.ItemID)
	s.summary.Observed++
	switch result {
	case models.Inserted:
		s.summary.Inserted++
	case models.Updated:
		s.summary.Updated++
	case models.SkippedEnded:
		s.summary.Skipped++
	}
	s.logger.Debug("[session] %s — %s %s", s.sellerID, result, obs.ItemID)
	return nil
}

// Close finishes the pass. With filterApplied=true it terminates every
// previously-active listing that was not seen this pass, then updates
// the seller's last_scan. With filterApplied=false the pass is treated
// as invalid (the crawler could not vouch for its filters): nothing is
// terminated and last_scan stays untouched, so zero observations never
// wipe a catalog by accident.
func (s *Session) Close(ctx context.Context, filterApplied bool) (*models.SessionSummary, error) {
	if s.aborted {
		return nil, ErrSessionAborted
	}
	if s.closed {
		return nil, errors.New("session: already closed")
	}
	s.closed = true
	s.summary.FilterApplied = filterApplied

	if !filterApplied {
		s.logger.Warn("[session] %s — filter not applied, skipping termination", s.sellerID)
		summary := s.summary
		return &summary, nil
	}

	active, err := s.store.ActiveItemIDs(ctx, s.sellerID)
	if err != nil {
		return nil, fmt.Errorf("list active ids for %s: %w", s.sellerID, err)
	}

	now := time.Now()
	for id := range active {
		if s.seen.Contains(id) {
			continue
		}
		ended, err := s.store.Terminate(ctx, id, now)
		if err != nil {
			return nil, fmt.Errorf("terminate %s: %w", id, err)
		}
		if ended {
			s.summary.Ended++
			s.logger.Info("[session] %s — ended %s", s.sellerID, id)
		}
	}

	if err := s.store.UpdateLastScan(ctx, s.sellerID, now); err != nil {
		return nil, fmt.Errorf("update last scan for %s: %w", s.sellerID, err)
	}

	s.logger.Info("[session] %s — pass complete: %d observed, %d inserted, %d updated, %d skipped, %d ended",
		s.sellerID, s.summary.Observed, s.summary.Inserted, s.summary.Updated, s.summary.Skipped, s.summary.Ended)
	summary := s.summary
	return &summary, nil
}

// Abort marks the session dead. Already-committed upserts stand;
// termination never runs.
func (s *Session) Abort() {
	s.aborted = true
}
