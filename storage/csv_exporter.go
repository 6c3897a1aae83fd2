package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"listing-tracker/models"
)

// exportHeader is the declared field order of the listing record.
var exportHeader = []string{
	"item_id", "seller_id", "title", "oem_reference", "raw_price",
	"amount", "currency", "url", "status", "listing_start_date", "end_date",
}

// CSVExporter writes listing dumps as downloadable CSV artifacts.
type CSVExporter struct {
	dir string
}

// NewCSVExporter ensures the export directory exists and returns an exporter.
func NewCSVExporter(dir string) (*CSVExporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create export dir: %w", err)
	}
	return &CSVExporter{dir: dir}, nil
}

// ExportSeller writes the full dump for one seller to
// <seller_id>_export.csv and returns the file path.
func (e *CSVExporter) ExportSeller(sellerID string, listings []*models.Listing) (string, error) {
	path := filepath.Join(e.dir, safeFilename(sellerID)+"_export.csv")
	if err := e.write(path, listings); err != nil {
		return "", err
	}
	return path, nil
}

// ExportAll writes the global dump across every seller.
func (e *CSVExporter) ExportAll(listings []*models.Listing) (string, error) {
	path := filepath.Join(e.dir, "listings_export.csv")
	if err := e.write(path, listings); err != nil {
		return "", err
	}
	return path, nil
}

func (e *CSVExporter) write(path string, listings []*models.Listing) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, l := range listings {
		amount := ""
		if l.Amount != nil {
			amount = l.Amount.String()
		}
		endDate := ""
		if l.EndDate != nil {
			endDate = l.EndDate.Format(time.RFC3339)
		}
		row := []string{
			l.ItemID,
			l.SellerID,
			l.Title,
			l.OEMReference,
			l.RawPrice,
			amount,
			l.Currency,
			l.URL,
			string(l.Status),
			l.ListingStartDate.Format(time.RFC3339),
			endDate,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// safeFilename keeps seller-derived file names filesystem-safe; some
// sellers are identified by their shop URL.
func safeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
