package models

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// NewClientOrderID returns a compact, globally unique client order ID.
// Fills are matched back to the placing strategy by this ID, so it has to
// survive the exchange round-trip unchanged; base62 keeps it inside the
// alphanumeric charset every venue accepts.
func NewClientOrderID() string {
	u := uuid.New()
	return "msb-" + base62.EncodeToString(u[:])
}
