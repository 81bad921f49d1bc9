package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supported transfer currencies.
const (
	CurrencyETH = "ETH"
	CurrencyUSD = "USD"
)

// Transfer statuses.
const (
	StatusCompleted = "completed"
)

// Transfer is an append-only record of a completed transfer.
// Amount/Currency are what the user asked to send; NativeAmount is what was
// actually debited and credited. Rows are immutable once created.
type Transfer struct {
	ID           string              `gorm:"primaryKey" json:"id"`
	FromAddress  string              `gorm:"index;not null" json:"from_address"`
	ToAddress    string              `gorm:"index;not null" json:"to_address"`
	Amount       decimal.Decimal     `gorm:"type:decimal(32,18);not null" json:"amount"`
	Currency     string              `gorm:"not null" json:"currency"`
	NativeAmount decimal.Decimal     `gorm:"type:decimal(32,18);not null" json:"eth_amount"`
	FiatAmount   decimal.NullDecimal `gorm:"type:decimal(32,18)" json:"usd_amount"`
	Status       string              `gorm:"not null" json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
}
