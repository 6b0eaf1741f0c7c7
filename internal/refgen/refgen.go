// Package refgen produces unique transaction reference numbers. A reference
// combines a kind tag, a UTC timestamp and a random suffix, is generated
// exactly once per committed transfer request, and is stored before any
// ledger mutation so it doubles as an idempotency key.
package refgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborbank/fundsflow/internal/domain"
)

var prefixes = map[domain.TransferKind]string{
	domain.KindInternal:          "TRF",
	domain.KindP2P:               "P2P",
	domain.KindExternalACH:       "ACH",
	domain.KindWireDomestic:      "WIR",
	domain.KindWireInternational: "INT",
	domain.KindDebitCard:         "ATM",
}

// Generate returns a reference like "WIR-20260901T143205-3F9A0C71D2".
// The 40-bit random suffix keeps collision probability negligible at
// retail transaction volumes; a unique index on the column backstops it.
func Generate(kind domain.TransferKind) string {
	prefix, ok := prefixes[kind]
	if !ok {
		prefix = "TXN"
	}
	u := uuid.New()
	suffix := strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:10])
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102T150405"), suffix)
}
