package services

import (
	"crypto/sha256"
	"encoding/hex"
)

// SyntheticItemID derives a stable identity for an observation whose
// source page exposed no item id. It is a pure function of the
// observed content, so re-running a session yields the same id and
// cannot create duplicate rows.
func SyntheticItemID(url, title string) string {
	sum := sha256.Sum256([]byte(url + "\n" + title))
	return "synth-" + hex.EncodeToString(sum[:8])
}
