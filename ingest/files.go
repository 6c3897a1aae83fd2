package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"listing-tracker/models"
	"listing-tracker/services"
	"listing-tracker/utils"
)

// LoadSessionDir reads every *.json session dump in dir. Files that
// fail to decode are logged and skipped — the crawler may still be
// writing them.
func LoadSessionDir(dir string, logger *utils.Logger) ([]*SessionFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("ingest: glob %q: %w", dir, err)
	}

	var files []*SessionFile
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("[ingest] read %s failed: %v — skipping", path, err)
			continue
		}
		sf := &SessionFile{}
		if err := json.Unmarshal(data, sf); err != nil {
			logger.Warn("[ingest] decode %s failed: %v — skipping", path, err)
			continue
		}
		if sf.SellerID == "" {
			logger.Warn("[ingest] %s has no seller_id — skipping", path)
			continue
		}
		files = append(files, sf)
	}
	return files, nil
}

// Replay runs one full reconciliation pass from a session dump. A dump
// without an explicit filter_applied flag is rejected before anything
// is written.
func Replay(ctx context.Context, rec *services.Reconciler, sf *SessionFile) (*models.SessionSummary, error) {
	if sf.FilterApplied == nil {
		return nil, fmt.Errorf("session for %s: %w", sf.SellerID, services.ErrMissingFilterSignal)
	}

	sess, err := rec.Begin(ctx, sf.SellerID, sf.ShopURL)
	if err != nil {
		return nil, err
	}

	for _, record := range sf.Observations {
		obs := &models.Observation{
			ItemID:       record.ItemID,
			SellerID:     sf.SellerID,
			Title:        record.Title,
			OEMReference: record.OEMReference,
			RawPrice:     record.RawPrice,
			URL:          record.URL,
		}
		if err := sess.Observe(ctx, obs); err != nil {
			return nil, err
		}
	}

	return sess.Close(ctx, *sf.FilterApplied)
}
