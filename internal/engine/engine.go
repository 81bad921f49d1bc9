package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cypherd-wallet-go/internal/auth"
	"cypherd-wallet-go/internal/ledger"
	"cypherd-wallet-go/internal/models"
	"cypherd-wallet-go/internal/notify"
	"cypherd-wallet-go/internal/oracle"
	"cypherd-wallet-go/internal/quotes"
)

// Engine orchestrates quoting and transfer execution. Every execute attempt
// walks the same gate sequence: field validation, sender lookup, quote
// resolution, sufficiency, authorization, message binding, atomic commit.
// Authorization always runs before commit, so an unauthorized request can
// never reach the ledger regardless of balance state.
type Engine struct {
	oracle   oracle.Converter
	quotes   *quotes.Store
	ledger   *ledger.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
	slippage decimal.Decimal
}

// New creates a transaction engine. slippage is the maximum tolerated
// relative rate drift between quote time and execution time.
func New(converter oracle.Converter, store *quotes.Store, led *ledger.Ledger, notifier notify.Notifier, logger *zap.Logger, slippage decimal.Decimal) *Engine {
	return &Engine{
		oracle:   converter,
		quotes:   store,
		ledger:   led,
		notifier: notifier,
		logger:   logger,
		slippage: slippage,
	}
}

// QuoteResult is the outcome of a quote request. QuoteID is empty for
// native-currency quotes, which need no price lock.
type QuoteResult struct {
	QuoteID      string
	NativeAmount decimal.Decimal
	FiatAmount   decimal.NullDecimal
	Rate         decimal.NullDecimal
	Fallback     bool
	ExpiresAt    time.Time
	Currency     string
}

// Quote issues a price quote for a transfer amount. ETH amounts pass through
// unchanged with an advisory expiry; USD amounts are converted and the
// locked pair is persisted for the execute call to cite.
func (e *Engine) Quote(ctx context.Context, amount, currency string) (*QuoteResult, error) {
	if amount == "" || currency == "" {
		return nil, ErrMissingParams
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil || !amt.IsPositive() {
		return nil, ErrInvalidAmount
	}

	switch currency {
	case models.CurrencyETH:
		return &QuoteResult{
			NativeAmount: amt,
			ExpiresAt:    time.Now().Add(e.quotes.TTL()),
			Currency:     models.CurrencyETH,
		}, nil

	case models.CurrencyUSD:
		conv, err := e.oracle.Convert(ctx, amt)
		if err != nil {
			e.logger.Error("Rate conversion failed", zap.Error(err))
			return nil, ErrInternal
		}

		quote, err := e.quotes.Put(ctx, conv.NativeAmount, conv.FiatAmount)
		if err != nil {
			e.logger.Error("Failed to persist quote", zap.Error(err))
			return nil, ErrInternal
		}

		return &QuoteResult{
			QuoteID:      quote.ID,
			NativeAmount: conv.NativeAmount,
			FiatAmount:   decimal.NewNullDecimal(conv.FiatAmount),
			Rate:         decimal.NewNullDecimal(conv.Rate),
			Fallback:     conv.Fallback,
			ExpiresAt:    quote.ExpiresAt,
			Currency:     models.CurrencyUSD,
		}, nil

	default:
		return nil, ErrInvalidCurrency
	}
}

// ExecuteRequest carries the declared transfer parameters. Amount is kept as
// the raw user-facing string because the canonical signed message embeds it
// verbatim.
type ExecuteRequest struct {
	From      string
	To        string
	Amount    string
	Currency  string
	Signature string
	Message   string
	QuoteID   string
}

// ExecuteResult is the outcome of a committed transfer.
type ExecuteResult struct {
	TransactionID string
	NativeAmount  decimal.Decimal
	FiatAmount    decimal.NullDecimal
}

// Execute validates, authorizes and commits a transfer.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.From == "" || req.To == "" || req.Amount == "" || req.Currency == "" ||
		req.Signature == "" || req.Message == "" {
		return nil, ErrMissingParams
	}
	declared, err := decimal.NewFromString(req.Amount)
	if err != nil || !declared.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.Currency != models.CurrencyETH && req.Currency != models.CurrencyUSD {
		return nil, ErrInvalidCurrency
	}

	sender, err := e.ledger.GetAccount(ctx, req.From)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, ErrSenderNotFound
		}
		e.logger.Error("Failed to load sender", zap.Error(err))
		return nil, ErrInternal
	}

	nativeAmount := declared
	fiatAmount := decimal.NullDecimal{}

	if req.Currency == models.CurrencyUSD {
		quote, err := e.resolveQuote(ctx, req.QuoteID, declared)
		if err != nil {
			return nil, err
		}
		// The quote is the contract the user signed against; bind the
		// quoted amounts, not the fresh ones.
		nativeAmount = quote.NativeAmount
		fiatAmount = decimal.NewNullDecimal(quote.FiatAmount)
	}

	if sender.Balance.LessThan(nativeAmount) {
		return nil, ErrInsufficientFunds
	}

	if err := auth.VerifySignature(req.Message, req.Signature, req.From); err != nil {
		return nil, invalidSignature(err)
	}
	if !auth.ValidateMessage(req.Message, req.Amount, req.Currency, req.To, nativeAmount) {
		return nil, ErrInvalidMessage
	}

	record, err := e.ledger.Transfer(ctx, req.From, req.To, nativeAmount, declared, req.Currency, fiatAmount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			// A concurrent spend won the race between the advisory check
			// above and the commit.
			return nil, ErrInsufficientFunds
		case errors.Is(err, ledger.ErrAccountNotFound):
			return nil, ErrSenderNotFound
		default:
			e.logger.Error("Transfer commit failed", zap.Error(err))
			return nil, ErrInternal
		}
	}

	e.sendNotification(ctx, sender, record)

	return &ExecuteResult{
		TransactionID: record.ID,
		NativeAmount:  record.NativeAmount,
		FiatAmount:    record.FiatAmount,
	}, nil
}

// resolveQuote looks up and revalidates the cited quote for a fiat transfer.
func (e *Engine) resolveQuote(ctx context.Context, quoteID string, declared decimal.Decimal) (*models.Quote, error) {
	if quoteID == "" {
		return nil, ErrMissingQuoteID
	}

	quote, err := e.quotes.Get(ctx, quoteID)
	if err != nil {
		if errors.Is(err, quotes.ErrNotFound) {
			return nil, ErrQuoteNotFound
		}
		e.logger.Error("Failed to load quote", zap.Error(err))
		return nil, ErrInternal
	}
	if quote.Expired(time.Now()) {
		return nil, ErrQuoteExpired
	}

	// Re-check the current market rate against the locked one.
	conv, err := e.oracle.Convert(ctx, declared)
	if err != nil {
		e.logger.Error("Rate re-check failed", zap.Error(err))
		return nil, ErrInternal
	}

	oldRate := quote.Rate()
	drift := conv.Rate.Sub(oldRate).Abs().Div(oldRate)
	if drift.GreaterThan(e.slippage) {
		e.logger.Warn("Quote rejected for price drift",
			zap.String("quote_id", quoteID),
			zap.String("old_rate", oldRate.String()),
			zap.String("new_rate", conv.Rate.String()),
			zap.String("drift", drift.String()),
		)
		return nil, ErrPriceChanged
	}

	return quote, nil
}

// sendNotification emits the transfer event to the notification sink when
// the sender has a contact address. Failures are logged and swallowed; the
// transfer is already committed.
func (e *Engine) sendNotification(ctx context.Context, sender *models.Account, record *models.Transfer) {
	if sender.Email == "" {
		return
	}

	event := notify.Event{
		TransactionID: record.ID,
		From:          record.FromAddress,
		To:            record.ToAddress,
		NativeAmount:  record.NativeAmount,
		FiatAmount:    record.FiatAmount,
		Currency:      record.Currency,
		Email:         sender.Email,
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("Notification delivery failed",
			zap.String("transaction_id", record.ID),
			zap.Error(err),
		)
	}
}
