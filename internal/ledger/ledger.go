package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cypherd-wallet-go/internal/models"
)

var (
	// ErrAccountNotFound is returned when no account exists for an address.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned when a transfer would overdraw the
	// sender's balance.
	ErrInsufficientFunds = errors.New("insufficient balance")
)

// maxHistoryLimit caps how many transfer records a single history call returns.
const maxHistoryLimit = 50

// seedPrecision rounds freshly seeded balances to a displayable scale.
const seedPrecision = 6

// Ledger owns account balances and the append-only transfer record. It is
// the only component that mutates a balance. Transfers run under a single
// mutex plus a database transaction so the sufficiency check and the paired
// debit/credit are atomic with respect to every other transfer.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger

	mu sync.Mutex

	seedMin decimal.Decimal
	seedMax decimal.Decimal
}

// New creates a ledger over the given database. New accounts are seeded with
// a random balance in [seedMin, seedMax].
func New(db *gorm.DB, logger *zap.Logger, seedMin, seedMax decimal.Decimal) *Ledger {
	return &Ledger{
		db:      db,
		logger:  logger,
		seedMin: seedMin,
		seedMax: seedMax,
	}
}

// GetAccount returns the account for the given address.
func (l *Ledger) GetAccount(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account
	if err := l.db.WithContext(ctx).First(&account, "address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account %s: %w", address, err)
	}
	return &account, nil
}

// CreateAccount registers an account, seeding it with an initial balance.
// It is idempotent: an existing account is returned unchanged, except that a
// differing non-empty email updates the stored one. The returned bool is
// true when the account was newly created.
func (l *Ledger) CreateAccount(ctx context.Context, address, email string) (*models.Account, bool, error) {
	existing, err := l.GetAccount(ctx, address)
	if err == nil {
		if email != "" && email != existing.Email {
			if err := l.UpdateEmail(ctx, address, email); err != nil {
				return nil, false, err
			}
			existing.Email = email
			l.logger.Info("Updated account email", zap.String("address", address))
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	account := &models.Account{
		Address: address,
		Balance: l.seedBalance(),
		Email:   email,
	}
	if err := l.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create account %s: %w", address, err)
	}

	l.logger.Info("Created account",
		zap.String("address", address),
		zap.String("balance", account.Balance.String()),
	)
	return account, true, nil
}

// UpdateEmail sets the contact email used for transfer notifications.
func (l *Ledger) UpdateEmail(ctx context.Context, address, email string) error {
	result := l.db.WithContext(ctx).Model(&models.Account{}).
		Where("address = ?", address).
		Update("email", email)
	if result.Error != nil {
		return fmt.Errorf("failed to update email for %s: %w", address, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Transfer atomically debits the sender, credits the recipient and appends
// a transfer record. The sufficiency check runs inside the same critical
// section as the mutation, so two concurrent transfers from one sender can
// never both pass it against a stale balance. An unknown recipient is
// created with a zero balance.
func (l *Ledger) Transfer(ctx context.Context, from, to string, nativeAmount, declaredAmount decimal.Decimal, currency string, fiatAmount decimal.NullDecimal) (*models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := &models.Transfer{
		ID:           uuid.NewString(),
		FromAddress:  from,
		ToAddress:    to,
		Amount:       declaredAmount,
		Currency:     currency,
		NativeAmount: nativeAmount,
		FiatAmount:   fiatAmount,
		Status:       models.StatusCompleted,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sender models.Account
		if err := tx.First(&sender, "address = ?", from).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}

		if sender.Balance.LessThan(nativeAmount) {
			return ErrInsufficientFunds
		}

		var recipient models.Account
		if err := tx.First(&recipient, "address = ?", to).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			recipient = models.Account{Address: to, Balance: decimal.Zero}
			if err := tx.Create(&recipient).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Account{}).Where("address = ?", from).
			Update("balance", sender.Balance.Sub(nativeAmount)).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Account{}).Where("address = ?", to).
			Update("balance", recipient.Balance.Add(nativeAmount)).Error; err != nil {
			return err
		}

		return tx.Create(record).Error
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("transfer failed: %w", err)
	}

	l.logger.Info("Transfer completed",
		zap.String("transfer_id", record.ID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("native_amount", nativeAmount.String()),
	)
	return record, nil
}

// History returns transfers involving the address as sender or recipient,
// newest first. A non-positive or oversized limit falls back to the cap.
func (l *Ledger) History(ctx context.Context, address string, limit int) ([]models.Transfer, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var transfers []models.Transfer
	err := l.db.WithContext(ctx).
		Where("from_address = ? OR to_address = ?", address, address).
		Order("created_at desc").
		Limit(limit).
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", address, err)
	}
	return transfers, nil
}

// seedBalance draws a starting balance uniformly from [seedMin, seedMax].
func (l *Ledger) seedBalance() decimal.Decimal {
	span := l.seedMax.Sub(l.seedMin)
	if !span.IsPositive() {
		return l.seedMin
	}
	offset := span.Mul(decimal.NewFromFloat(rand.Float64()))
	return l.seedMin.Add(offset).Round(seedPrecision)
}
