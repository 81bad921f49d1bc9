package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a wallet account keyed by its public-key-derived address.
// Balance must never go negative; the Ledger is the only component that
// mutates it.
type Account struct {
	Address   string          `gorm:"primaryKey" json:"address"`
	Balance   decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"balance"`
	Email     string          `json:"email,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
