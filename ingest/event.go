// Package ingest receives crawler output and drives reconciliation
// sessions — either live over AMQP or by replaying session dump files.
package ingest

// Envelope types published by the external crawler.
const (
	TypeSessionStart = "session_start"
	TypeObservation  = "observation"
	TypeSessionEnd   = "session_end"
)

// Envelope is the wire format carried on the observation queue. Type
// selects which of the remaining fields are meaningful.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	SellerID  string `json:"seller_id"`

	// session_start
	ShopURL string `json:"shop_url,omitempty"`

	// observation
	ItemID       string `json:"item_id,omitempty"`
	Title        string `json:"title,omitempty"`
	OEMReference string `json:"oem_reference,omitempty"`
	RawPrice     string `json:"raw_price,omitempty"`
	URL          string `json:"url,omitempty"`

	// session_end. FilterApplied is a pointer so an absent flag is
	// detectable — the engine rejects it instead of guessing whether
	// zero observations mean an empty catalog or a failed filter.
	FilterApplied *bool `json:"filter_applied,omitempty"`
	Aborted       bool  `json:"aborted,omitempty"`
}

// ObservationRecord is one item snapshot inside a session dump file.
type ObservationRecord struct {
	ItemID       string `json:"item_id"`
	Title        string `json:"title"`
	OEMReference string `json:"oem_reference"`
	RawPrice     string `json:"raw_price"`
	URL          string `json:"url"`
}

// SessionFile is one crawler session dump dropped into the session
// directory for replay mode.
type SessionFile struct {
	SellerID      string              `json:"seller_id"`
	ShopURL       string              `json:"shop_url"`
	FilterApplied *bool               `json:"filter_applied"`
	Observations  []ObservationRecord `json:"observations"`
}
