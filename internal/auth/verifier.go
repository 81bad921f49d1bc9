package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"cypherd-wallet-go/internal/models"
)

var (
	// ErrBadSignatureFormat is returned for any signature that cannot be
	// decoded or recovered. Malformed input never panics.
	ErrBadSignatureFormat = errors.New("invalid signature format")

	// ErrSignerMismatch is returned when the recovered signer differs from
	// the claimed sender address.
	ErrSignerMismatch = errors.New("signature does not match sender address")
)

// VerifySignature recovers the signer of a personal-sign message and compares
// it case-insensitively against the claimed address.
func VerifySignature(message, signature, claimedAddress string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrBadSignatureFormat
	}

	// Wallets emit the recovery id as 27/28 per the Ethereum convention.
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return ErrBadSignatureFormat
	}

	pubKey, err := crypto.SigToPub(PersonalHash(message), sig)
	if err != nil {
		return ErrBadSignatureFormat
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if !strings.EqualFold(recovered.Hex(), claimedAddress) {
		return ErrSignerMismatch
	}
	return nil
}

// PersonalHash returns the EIP-191 personal-sign digest of a message, the
// same digest wallets sign for eth_sign/personal_sign.
func PersonalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// CanonicalMessage builds the exact string a signature must cover to
// authorize a transfer. The declared amount is the raw user-facing string;
// for fiat transfers the locked native amount is bound in at six decimal
// places so a signed fiat intent cannot be replayed against a different
// native amount.
func CanonicalMessage(amount, currency, recipientAddress string, nativeAmount decimal.Decimal) string {
	if currency == models.CurrencyETH {
		return fmt.Sprintf("Transfer %s ETH to %s", amount, recipientAddress)
	}
	return fmt.Sprintf("Transfer %s ETH ($%s USD) to %s", nativeAmount.StringFixed(6), amount, recipientAddress)
}

// ValidateMessage checks the signed message byte-equals the canonical
// reconstruction from the declared transfer parameters.
func ValidateMessage(message, amount, currency, recipientAddress string, nativeAmount decimal.Decimal) bool {
	return message == CanonicalMessage(amount, currency, recipientAddress, nativeAmount)
}
