package engine

// Error is a caller-visible rejection with a stable machine-readable code.
// Internal detail never crosses the boundary; it is logged instead.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingParams     = &Error{Code: "MISSING_PARAMS", Message: "All transaction fields are required"}
	ErrInvalidAmount     = &Error{Code: "INVALID_AMOUNT", Message: "Amount must be a positive number"}
	ErrInvalidCurrency   = &Error{Code: "INVALID_CURRENCY", Message: "Currency must be ETH or USD"}
	ErrSenderNotFound    = &Error{Code: "SENDER_NOT_FOUND", Message: "Sender wallet not found"}
	ErrMissingQuoteID    = &Error{Code: "MISSING_QUOTE_ID", Message: "Quote ID required for USD transactions"}
	ErrQuoteNotFound     = &Error{Code: "QUOTE_NOT_FOUND", Message: "Price quote not found"}
	ErrQuoteExpired      = &Error{Code: "QUOTE_EXPIRED", Message: "Price quote has expired"}
	ErrPriceChanged      = &Error{Code: "PRICE_CHANGED", Message: "Price has changed significantly. Please get a new quote."}
	ErrInsufficientFunds = &Error{Code: "INSUFFICIENT_FUNDS", Message: "Insufficient balance"}
	ErrInvalidMessage    = &Error{Code: "INVALID_MESSAGE", Message: "Transaction message format is invalid"}
	ErrInternal          = &Error{Code: "INTERNAL_ERROR", Message: "Internal server error"}
)

// invalidSignature carries the verifier's reason to the caller.
func invalidSignature(reason error) *Error {
	return &Error{Code: "INVALID_SIGNATURE", Message: reason.Error()}
}
