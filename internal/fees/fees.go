// Package fees holds the canonical fee schedule for every funds-movement
// kind. The schedule is a pure mapping with no side effects; the orchestrator
// validates amount + fee against the balance before any mutation.
package fees

import "github.com/harborbank/fundsflow/internal/domain"

// Fees in minor units. ACH uses the flat model.
const (
	feeInternal          = 0
	feeP2P               = 0
	feeExternalACH       = 300  // $3 flat
	feeWireDomestic      = 2500 // $25
	feeWireInternational = 4500 // $45
	feeDebitCard         = 200  // $2
)

// For returns the fee charged for moving amount via kind. Unknown kinds cost
// nothing; the orchestrator rejects them during validation before fees matter.
func For(kind domain.TransferKind, amount int64) int64 {
	switch kind {
	case domain.KindInternal:
		return feeInternal
	case domain.KindP2P:
		return feeP2P
	case domain.KindExternalACH:
		return feeExternalACH
	case domain.KindWireDomestic:
		return feeWireDomestic
	case domain.KindWireInternational:
		return feeWireInternational
	case domain.KindDebitCard:
		return feeDebitCard
	}
	return 0
}
