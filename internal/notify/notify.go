package notify

import (
	"context"

	"github.com/shopspring/decimal"
)

// Event describes a committed transfer for notification delivery.
type Event struct {
	TransactionID string
	From          string
	To            string
	NativeAmount  decimal.Decimal
	FiatAmount    decimal.NullDecimal
	Currency      string
	Email         string
}

// Notifier delivers transfer notifications. Delivery is fire-and-forget:
// the engine logs and swallows any error, it never unwinds a commit.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop is a Notifier that discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }
