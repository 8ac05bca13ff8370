package payment

import (
	"time"

	"github.com/hoongun/getpaid/internal/sign"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew           Status = "new"
	StatusInProgress    Status = "in_progress"
	StatusPaid          Status = "paid"
	StatusPartiallyPaid Status = "partially_paid"
	StatusFailed        Status = "failed"
)

// Payment is created by the order subsystem before any gateway
// interaction. This package only reads its identity, amount and
// currency, and proposes status transitions.
type Payment struct {
	ID         int64
	OrderID    int64
	Backend    string
	Amount     decimal.Decimal // expected, fixed at creation
	AmountPaid decimal.Decimal
	Currency   string
	Status     Status
	PaidOn     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Outcome is the canonical result of a notification, independent of the
// gateway's own vocabulary.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomePaid
	OutcomeRejected
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeRejected:
		return "rejected"
	case OutcomePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Notification is one parsed and signature-verified gateway callback.
type Notification struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Outcome   Outcome
	Raw       sign.Fields
}
