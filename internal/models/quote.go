package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a time-boxed lock of a native/fiat conversion pair.
// Quotes are read-only after creation and are never deleted; a quote past
// its ExpiresAt is invalid, not absent.
type Quote struct {
	ID           string          `gorm:"primaryKey" json:"id"`
	NativeAmount decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"eth_amount"`
	FiatAmount   decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"usd_amount"`
	ExpiresAt    time.Time       `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Expired reports whether the quote is past its validity window.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Rate returns the locked conversion rate (native units per fiat unit).
func (q *Quote) Rate() decimal.Decimal {
	return q.NativeAmount.Div(q.FiatAmount)
}
