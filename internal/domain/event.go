package domain

import (
	"math/big"
	"time"
)

// EventType names a ledger event.
type EventType string

const (
	EventDeposit        EventType = "deposit"
	EventWithdraw       EventType = "withdraw"
	EventClaim          EventType = "claim"
	EventRateChange     EventType = "rate_change"
	EventReserveDeposit EventType = "reserve_deposit"
	EventSweep          EventType = "sweep"
)

// Event records one successful mutating ledger operation. Exactly one event
// is emitted per committed call; failed calls emit nothing.
type Event struct {
	ID             string
	Type           EventType
	Account        string // acting account, or the admin caller
	Asset          Asset
	Amount         *big.Int
	PrincipalAfter *big.Int // deposit/withdraw only
	OldRate        *big.Int // rate_change only
	NewRate        *big.Int // rate_change only
	CreatedAt      time.Time
}
