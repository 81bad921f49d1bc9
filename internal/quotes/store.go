package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cypherd-wallet-go/internal/models"
)

// ErrNotFound is returned when no quote exists for the given id.
var ErrNotFound = errors.New("quote not found")

// Store persists locked price quotes. Expiry is evaluated lazily by callers
// via Quote.Expired; expired rows are kept, not swept.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	ttl    time.Duration
}

// NewStore creates a new quote store with the given validity window.
func NewStore(db *gorm.DB, logger *zap.Logger, ttl time.Duration) *Store {
	return &Store{db: db, logger: logger, ttl: ttl}
}

// TTL returns the validity window applied to new quotes.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put stores a new locked conversion pair and returns the persisted quote.
func (s *Store) Put(ctx context.Context, nativeAmount, fiatAmount decimal.Decimal) (*models.Quote, error) {
	quote := &models.Quote{
		ID:           uuid.NewString(),
		NativeAmount: nativeAmount,
		FiatAmount:   fiatAmount,
		ExpiresAt:    time.Now().Add(s.ttl),
	}

	if err := s.db.WithContext(ctx).Create(quote).Error; err != nil {
		return nil, fmt.Errorf("failed to store quote: %w", err)
	}

	s.logger.Debug("Stored price quote",
		zap.String("quote_id", quote.ID),
		zap.String("native_amount", nativeAmount.String()),
		zap.String("fiat_amount", fiatAmount.String()),
		zap.Time("expires_at", quote.ExpiresAt),
	)

	return quote, nil
}

// Get returns the quote with the given id, expired or not.
func (s *Store) Get(ctx context.Context, id string) (*models.Quote, error) {
	var quote models.Quote
	if err := s.db.WithContext(ctx).First(&quote, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load quote %s: %w", id, err)
	}
	return &quote, nil
}
