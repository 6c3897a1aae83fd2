package services

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyPrice is returned when the raw price is empty or whitespace.
	ErrEmptyPrice = errors.New("price: empty input")
	// ErrNotNumeric is returned when no non-negative decimal value can
	// be extracted from the raw price.
	ErrNotNumeric = errors.New("price: no numeric value")
)

// NormalizePrice turns a raw price string into an (amount, currency)
// pair. The string is partitioned into a numeric portion (digits and a
// decimal point; commas are treated as thousands separators and
// dropped) and a currency portion (everything else, whitespace
// trimmed). The currency is returned verbatim and may be empty —
// source formats range from symbols to ISO codes to nothing at all.
//
// Pure and deterministic: re-scraping an unchanged price must not
// perturb stored amounts, averages, or currency sets.
//
// Examples:
//
//	"45.99 USD"  → 45.99, "USD"
//	"EUR 1,250"  → 1250, "EUR"
//	"£89.00"     → 89.00, "£"
func NormalizePrice(raw string) (decimal.Decimal, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, "", ErrEmptyPrice
	}

	var numeric, currency strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			numeric.WriteRune(r)
		case r == ',':
			// thousands separator
		default:
			currency.WriteRune(r)
		}
	}

	if numeric.Len() == 0 {
		return decimal.Decimal{}, "", ErrNotNumeric
	}

	amount, err := decimal.NewFromString(numeric.String())
	if err != nil {
		return decimal.Decimal{}, "", ErrNotNumeric
	}

	return amount, strings.TrimSpace(currency.String()), nil
}
