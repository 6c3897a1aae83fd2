package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"listing-tracker/models"
)

// PostgresStore is the durable ListingStore backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS sellers (
			seller_id TEXT PRIMARY KEY,
			shop_url  TEXT NOT NULL DEFAULT '',
			last_scan TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS listings (
			item_id            TEXT PRIMARY KEY,
			seller_id          TEXT        NOT NULL,
			title              TEXT        NOT NULL DEFAULT '',
			oem_reference      TEXT        NOT NULL DEFAULT '',
			raw_price          TEXT        NOT NULL DEFAULT '',
			amount             NUMERIC,
			currency           TEXT        NOT NULL DEFAULT '',
			url                TEXT        NOT NULL DEFAULT '',
			status             VARCHAR(10) NOT NULL DEFAULT 'ACTIVE',
			listing_start_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			end_date           TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_listings_seller        ON listings(seller_id);
		CREATE INDEX IF NOT EXISTS idx_listings_seller_status ON listings(seller_id, status);
	`)
	return err
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func (ps *PostgresStore) RegisterSeller(ctx context.Context, sellerID, shopURL string) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO sellers (seller_id, shop_url)
		VALUES ($1, $2)
		ON CONFLICT (seller_id) DO NOTHING
	`, sellerID, shopURL)
	if err != nil {
		return fmt.Errorf("postgres: register seller %s: %w", sellerID, err)
	}
	return nil
}

func (ps *PostgresStore) UpdateLastScan(ctx context.Context, sellerID string, at time.Time) error {
	res, err := ps.db.ExecContext(ctx,
		`UPDATE sellers SET last_scan = $2 WHERE seller_id = $1`, sellerID, at)
	if err != nil {
		return fmt.Errorf("postgres: update last scan for %s: %w", sellerID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUnknownSeller
	}
	return nil
}

func (ps *PostgresStore) Seller(ctx context.Context, sellerID string) (*models.Seller, error) {
	s := &models.Seller{}
	var lastScan sql.NullTime
	err := ps.db.QueryRowContext(ctx,
		`SELECT seller_id, shop_url, last_scan FROM sellers WHERE seller_id = $1`,
		sellerID).Scan(&s.SellerID, &s.ShopURL, &lastScan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownSeller
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch seller %s: %w", sellerID, err)
	}
	if lastScan.Valid {
		t := lastScan.Time
		s.LastScan = &t
	}
	return s, nil
}

func (ps *PostgresStore) Sellers(ctx context.Context) ([]*models.Seller, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT seller_id, shop_url, last_scan FROM sellers ORDER BY seller_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch sellers: %w", err)
	}
	defer rows.Close()

	var sellers []*models.Seller
	for rows.Next() {
		s := &models.Seller{}
		var lastScan sql.NullTime
		if err := rows.Scan(&s.SellerID, &s.ShopURL, &lastScan); err != nil {
			return nil, fmt.Errorf("postgres: scan seller: %w", err)
		}
		if lastScan.Valid {
			t := lastScan.Time
			s.LastScan = &t
		}
		sellers = append(sellers, s)
	}
	return sellers, rows.Err()
}

// Upsert runs as one transaction: insert-if-absent, else lock the row
// and overwrite the mutable fields unless the record is ENDED. The row
// lock serializes racing upserts and terminations on the same item_id.
func (ps *PostgresStore) Upsert(ctx context.Context, obs *models.Observation) (models.UpsertResult, error) {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin upsert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO listings (item_id, seller_id, title, oem_reference, raw_price, amount, currency, url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ACTIVE')
		ON CONFLICT (item_id) DO NOTHING
	`, obs.ItemID, obs.SellerID, obs.Title, obs.OEMReference, obs.RawPrice,
		nullDecimal(obs.Amount), obs.Currency, obs.URL)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert %s: %w", obs.ItemID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("postgres: commit insert %s: %w", obs.ItemID, err)
		}
		return models.Inserted, nil
	}

	var status models.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM listings WHERE item_id = $1 FOR UPDATE`, obs.ItemID).Scan(&status)
	if err != nil {
		return 0, fmt.Errorf("postgres: lock %s: %w", obs.ItemID, err)
	}
	if status == models.StatusEnded {
		return models.SkippedEnded, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE listings
		SET seller_id = $2, title = $3, oem_reference = $4, raw_price = $5,
		    amount = $6, currency = $7, url = $8
		WHERE item_id = $1
	`, obs.ItemID, obs.SellerID, obs.Title, obs.OEMReference, obs.RawPrice,
		nullDecimal(obs.Amount), obs.Currency, obs.URL)
	if err != nil {
		return 0, fmt.Errorf("postgres: update %s: %w", obs.ItemID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit update %s: %w", obs.ItemID, err)
	}
	return models.Updated, nil
}

// Terminate is a single conditional update: only an ACTIVE row
// transitions, so racing upserts/terminations resolve to exactly one
// winner.
func (ps *PostgresStore) Terminate(ctx context.Context, itemID string, at time.Time) (bool, error) {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE listings SET status = 'ENDED', end_date = $2
		WHERE item_id = $1 AND status = 'ACTIVE'
	`, itemID, at)
	if err != nil {
		return false, fmt.Errorf("postgres: terminate %s: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: terminate %s: %w", itemID, err)
	}
	return n == 1, nil
}

func (ps *PostgresStore) ActiveItemIDs(ctx context.Context, sellerID string) (map[string]struct{}, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT item_id FROM listings WHERE seller_id = $1 AND status = 'ACTIVE'`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: active ids for %s: %w", sellerID, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan active id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (ps *PostgresStore) SellerStats(ctx context.Context, sellerID string) (*models.SellerStats, error) {
	stats := &models.SellerStats{}
	var avg decimal.NullDecimal
	err := ps.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status = 'ENDED'),
			ROUND(AVG(amount) FILTER (WHERE amount IS NOT NULL), 2)
		FROM listings
		WHERE seller_id = $1
	`, sellerID).Scan(&stats.ActiveCount, &stats.EndedCount, &avg)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats for %s: %w", sellerID, err)
	}
	if avg.Valid {
		a := avg.Decimal
		stats.AveragePrice = &a
	}

	rows, err := ps.db.QueryContext(ctx, `
		SELECT DISTINCT currency FROM listings
		WHERE seller_id = $1 AND currency <> ''
		ORDER BY currency
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: currencies for %s: %w", sellerID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("postgres: scan currency: %w", err)
		}
		stats.Currencies = append(stats.Currencies, c)
	}
	return stats, rows.Err()
}

const listingColumns = `item_id, seller_id, title, oem_reference, raw_price, amount, currency, url,
	status, listing_start_date, end_date`

func (ps *PostgresStore) ListingsBySeller(ctx context.Context, sellerID string) ([]*models.Listing, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings WHERE seller_id = $1
		ORDER BY listing_start_date, item_id
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: listings for %s: %w", sellerID, err)
	}
	return scanListings(rows)
}

func (ps *PostgresStore) AllListings(ctx context.Context) ([]*models.Listing, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		ORDER BY seller_id, listing_start_date, item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: all listings: %w", err)
	}
	return scanListings(rows)
}

func scanListings(rows *sql.Rows) ([]*models.Listing, error) {
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var amount decimal.NullDecimal
		var endDate sql.NullTime
		if err := rows.Scan(
			&l.ItemID, &l.SellerID, &l.Title, &l.OEMReference, &l.RawPrice,
			&amount, &l.Currency, &l.URL, &l.Status, &l.ListingStartDate, &endDate,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		if amount.Valid {
			a := amount.Decimal
			l.Amount = &a
		}
		if endDate.Valid {
			t := endDate.Time
			l.EndDate = &t
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
