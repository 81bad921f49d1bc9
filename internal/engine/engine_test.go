package engine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cypherd-wallet-go/internal/auth"
	"cypherd-wallet-go/internal/ledger"
	"cypherd-wallet-go/internal/models"
	"cypherd-wallet-go/internal/notify"
	"cypherd-wallet-go/internal/oracle"
	"cypherd-wallet-go/internal/quotes"
)

// MockConverter is a mock implementation of the oracle.Converter interface.
type MockConverter struct {
	mock.Mock
}

func (m *MockConverter) Convert(ctx context.Context, fiatAmount decimal.Decimal) (*oracle.Conversion, error) {
	args := m.Called(fiatAmount)
	return args.Get(0).(*oracle.Conversion), args.Error(1)
}

// MockNotifier is a mock implementation of the notify.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event notify.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// setupTest creates a full test environment: in-memory DB, real ledger and
// quote store, mocked oracle and notifier. New accounts are seeded with
// exactly 5 ETH.
func setupTest(t *testing.T) (*Engine, *MockConverter, *MockNotifier, *ledger.Ledger, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.Transfer{}, &models.Quote{}))

	seed := decimal.RequireFromString("5")
	led := ledger.New(db, zap.NewNop(), seed, seed)
	store := quotes.NewStore(db, zap.NewNop(), 30*time.Second)
	converter := new(MockConverter)
	notifier := new(MockNotifier)

	eng := New(converter, store, led, notifier, zap.NewNop(), decimal.RequireFromString("0.01"))
	return eng, converter, notifier, led, db
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(auth.PersonalHash(message), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func conversion(fiat, rate string, fallback bool) *oracle.Conversion {
	f := decimal.RequireFromString(fiat)
	r := decimal.RequireFromString(rate)
	return &oracle.Conversion{
		FiatAmount:   f,
		NativeAmount: f.Mul(r),
		Rate:         r,
		Fallback:     fallback,
	}
}

func createAccount(t *testing.T, led *ledger.Ledger, address, email string) {
	t.Helper()
	_, _, err := led.CreateAccount(context.Background(), address, email)
	require.NoError(t, err)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, code, engErr.Code)
}

func TestQuote_NativeCurrencyPassesThrough(t *testing.T) {
	eng, converter, _, _, _ := setupTest(t)

	result, err := eng.Quote(context.Background(), "2.5", models.CurrencyETH)
	require.NoError(t, err)

	assert.Empty(t, result.QuoteID, "native transfers need no price lock")
	assert.True(t, result.NativeAmount.Equal(decimal.RequireFromString("2.5")))
	assert.False(t, result.FiatAmount.Valid)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), result.ExpiresAt, 2*time.Second)
	converter.AssertNotCalled(t, "Convert")
}

func TestQuote_FiatCurrencyPersistsQuote(t *testing.T) {
	eng, converter, _, _, db := setupTest(t)
	converter.On("Convert", mock.Anything).Return(conversion("100", "0.0004", true), nil)

	result, err := eng.Quote(context.Background(), "100", models.CurrencyUSD)
	require.NoError(t, err)

	assert.NotEmpty(t, result.QuoteID)
	assert.True(t, result.NativeAmount.Equal(decimal.RequireFromString("0.04")))
	assert.True(t, result.FiatAmount.Decimal.Equal(decimal.RequireFromString("100")))
	assert.True(t, result.Fallback)

	var stored models.Quote
	require.NoError(t, db.First(&stored, "id = ?", result.QuoteID).Error)
	assert.True(t, stored.NativeAmount.Equal(result.NativeAmount))
	converter.AssertExpectations(t)
}

func TestQuote_InvalidInput(t *testing.T) {
	eng, _, _, _, _ := setupTest(t)

	_, err := eng.Quote(context.Background(), "100", "EUR")
	assertCode(t, err, "INVALID_CURRENCY")

	_, err = eng.Quote(context.Background(), "", models.CurrencyETH)
	assertCode(t, err, "MISSING_PARAMS")

	_, err = eng.Quote(context.Background(), "-5", models.CurrencyETH)
	assertCode(t, err, "INVALID_AMOUNT")

	_, err = eng.Quote(context.Background(), "abc", models.CurrencyETH)
	assertCode(t, err, "INVALID_AMOUNT")
}

func TestExecute_NativeTransfer(t *testing.T) {
	eng, _, notifier, led, _ := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "sender@example.com")
	recipient := "0x0000000000000000000000000000000000000002"

	message := auth.CanonicalMessage("2", models.CurrencyETH, recipient, decimal.Decimal{})
	notifier.On("Notify", mock.Anything).Return(nil)

	result, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "2",
		Currency:  models.CurrencyETH,
		Signature: signMessage(t, key, message),
		Message:   message,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.TransactionID)
	assert.True(t, result.NativeAmount.Equal(decimal.RequireFromString("2")))

	senderAccount, err := led.GetAccount(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, senderAccount.Balance.Equal(decimal.RequireFromString("3")))

	recipientAccount, err := led.GetAccount(context.Background(), recipient)
	require.NoError(t, err)
	assert.True(t, recipientAccount.Balance.Equal(decimal.RequireFromString("2")))

	notifier.AssertCalled(t, "Notify", mock.MatchedBy(func(event notify.Event) bool {
		return event.Email == "sender@example.com" && event.TransactionID == result.TransactionID
	}))
}

func TestExecute_FiatTransferWithQuote(t *testing.T) {
	eng, converter, _, led, _ := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "")
	recipient := "0x0000000000000000000000000000000000000002"

	// Same fallback rate at quote time and execute time.
	converter.On("Convert", mock.Anything).Return(conversion("100", "0.0004", true), nil)

	quote, err := eng.Quote(context.Background(), "100", models.CurrencyUSD)
	require.NoError(t, err)

	message := auth.CanonicalMessage("100", models.CurrencyUSD, recipient, quote.NativeAmount)
	assert.Equal(t, "Transfer 0.040000 ETH ($100 USD) to "+recipient, message)

	result, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "100",
		Currency:  models.CurrencyUSD,
		Signature: signMessage(t, key, message),
		Message:   message,
		QuoteID:   quote.QuoteID,
	})
	require.NoError(t, err)

	// Debit is exactly the quoted native amount.
	assert.True(t, result.NativeAmount.Equal(decimal.RequireFromString("0.04")))
	require.True(t, result.FiatAmount.Valid)
	assert.True(t, result.FiatAmount.Decimal.Equal(decimal.RequireFromString("100")))

	senderAccount, err := led.GetAccount(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, senderAccount.Balance.Equal(decimal.RequireFromString("4.96")))
}

func TestExecute_FiatQuoteGates(t *testing.T) {
	eng, _, _, led, db := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "")
	recipient := "0xrecipient"

	message := auth.CanonicalMessage("100", models.CurrencyUSD, recipient, decimal.RequireFromString("0.04"))
	base := ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "100",
		Currency:  models.CurrencyUSD,
		Signature: signMessage(t, key, message),
		Message:   message,
	}

	// Missing quote id.
	_, err := eng.Execute(context.Background(), base)
	assertCode(t, err, "MISSING_QUOTE_ID")

	// Unknown quote id.
	req := base
	req.QuoteID = "no-such-quote"
	_, err = eng.Execute(context.Background(), req)
	assertCode(t, err, "QUOTE_NOT_FOUND")

	// Expired quote: one second in the past, rate unchanged.
	expired := &models.Quote{
		ID:           "expired-quote",
		NativeAmount: decimal.RequireFromString("0.04"),
		FiatAmount:   decimal.RequireFromString("100"),
		ExpiresAt:    time.Now().Add(-time.Second),
	}
	require.NoError(t, db.Create(expired).Error)

	req = base
	req.QuoteID = expired.ID
	_, err = eng.Execute(context.Background(), req)
	assertCode(t, err, "QUOTE_EXPIRED")

	// No side effects from any rejected attempt.
	senderAccount, err := led.GetAccount(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, senderAccount.Balance.Equal(decimal.RequireFromString("5")))
}

func TestExecute_SlippageGate(t *testing.T) {
	eng, converter, _, led, db := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "")
	recipient := "0x0000000000000000000000000000000000000002"

	// Locked rate 0.0004.
	quote := &models.Quote{
		ID:           "locked-quote",
		NativeAmount: decimal.RequireFromString("0.04"),
		FiatAmount:   decimal.RequireFromString("100"),
		ExpiresAt:    time.Now().Add(30 * time.Second),
	}
	require.NoError(t, db.Create(quote).Error)

	message := auth.CanonicalMessage("100", models.CurrencyUSD, recipient, quote.NativeAmount)
	req := ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "100",
		Currency:  models.CurrencyUSD,
		Signature: signMessage(t, key, message),
		Message:   message,
		QuoteID:   quote.ID,
	}

	// Fresh rate drifted just over 1%: rejected.
	converter.On("Convert", mock.Anything).Return(conversion("100", "0.00040401", false), nil).Once()
	_, err := eng.Execute(context.Background(), req)
	assertCode(t, err, "PRICE_CHANGED")

	// Drift of exactly 1% is within tolerance: committed at the quoted rate.
	converter.On("Convert", mock.Anything).Return(conversion("100", "0.000404", false), nil).Once()
	result, err := eng.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.NativeAmount.Equal(quote.NativeAmount), "commit binds the quoted amount, not the fresh one")
}

func TestExecute_InsufficientFundsBeforeAuthorization(t *testing.T) {
	eng, _, _, led, db := setupTest(t)
	_, sender := newKey(t)
	createAccount(t, led, sender, "")

	// Balance is 5; ask for 6 with a garbage signature. The sufficiency
	// gate runs first, so the cheap rejection wins.
	_, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        "0xrecipient",
		Amount:    "6",
		Currency:  models.CurrencyETH,
		Signature: "0xdeadbeef",
		Message:   "Transfer 6 ETH to 0xrecipient",
	})
	assertCode(t, err, "INSUFFICIENT_FUNDS")

	var count int64
	db.Model(&models.Transfer{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestExecute_InvalidSignature(t *testing.T) {
	eng, _, _, led, _ := setupTest(t)
	_, sender := newKey(t)
	otherKey, _ := newKey(t)
	createAccount(t, led, sender, "")
	recipient := "0xrecipient"

	message := auth.CanonicalMessage("2", models.CurrencyETH, recipient, decimal.Decimal{})

	_, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "2",
		Currency:  models.CurrencyETH,
		Signature: signMessage(t, otherKey, message),
		Message:   message,
	})
	assertCode(t, err, "INVALID_SIGNATURE")

	senderAccount, err := led.GetAccount(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, senderAccount.Balance.Equal(decimal.RequireFromString("5")))
}

func TestExecute_MessageMismatch(t *testing.T) {
	eng, _, _, led, _ := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "")
	recipient := "0xrecipient"

	// Validly signed message for 3 ETH, but the request declares 2.
	signed := auth.CanonicalMessage("3", models.CurrencyETH, recipient, decimal.Decimal{})

	_, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "2",
		Currency:  models.CurrencyETH,
		Signature: signMessage(t, key, signed),
		Message:   signed,
	})
	assertCode(t, err, "INVALID_MESSAGE")
}

func TestExecute_ValidationAndSenderGates(t *testing.T) {
	eng, _, _, _, _ := setupTest(t)
	key, sender := newKey(t)

	message := auth.CanonicalMessage("2", models.CurrencyETH, "0xrecipient", decimal.Decimal{})
	valid := ExecuteRequest{
		From:      sender,
		To:        "0xrecipient",
		Amount:    "2",
		Currency:  models.CurrencyETH,
		Signature: signMessage(t, key, message),
		Message:   message,
	}

	req := valid
	req.Message = ""
	_, err := eng.Execute(context.Background(), req)
	assertCode(t, err, "MISSING_PARAMS")

	req = valid
	req.Currency = "EUR"
	_, err = eng.Execute(context.Background(), req)
	assertCode(t, err, "INVALID_CURRENCY")

	// Sender account was never registered.
	_, err = eng.Execute(context.Background(), valid)
	assertCode(t, err, "SENDER_NOT_FOUND")
}

func TestExecute_NotificationFailureDoesNotUnwind(t *testing.T) {
	eng, _, notifier, led, _ := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "sender@example.com")
	recipient := "0xrecipient"

	message := auth.CanonicalMessage("1", models.CurrencyETH, recipient, decimal.Decimal{})
	notifier.On("Notify", mock.Anything).Return(errors.New("smtp down"))

	result, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "1",
		Currency:  models.CurrencyETH,
		Signature: signMessage(t, key, message),
		Message:   message,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionID)

	// The committed transfer stands.
	senderAccount, err := led.GetAccount(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, senderAccount.Balance.Equal(decimal.RequireFromString("4")))
	notifier.AssertExpectations(t)
}

func TestExecute_NoEmailNoNotification(t *testing.T) {
	eng, _, notifier, led, _ := setupTest(t)
	key, sender := newKey(t)
	createAccount(t, led, sender, "")
	recipient := "0xrecipient"

	message := auth.CanonicalMessage("1", models.CurrencyETH, recipient, decimal.Decimal{})

	_, err := eng.Execute(context.Background(), ExecuteRequest{
		From:      sender,
		To:        recipient,
		Amount:    "1",
		Currency:  models.CurrencyETH,
		Signature: signMessage(t, key, message),
		Message:   message,
	})
	require.NoError(t, err)
	notifier.AssertNotCalled(t, "Notify", mock.Anything)
}
