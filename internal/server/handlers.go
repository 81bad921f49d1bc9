package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cypherd-wallet-go/internal/engine"
	"cypherd-wallet-go/internal/ledger"
)

// Handler holds dependencies for the API endpoints.
type Handler struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(eng *engine.Engine, led *ledger.Ledger, logger *zap.Logger) *Handler {
	return &Handler{engine: eng, ledger: led, logger: logger}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Success: false, Error: errorBody{Code: code, Message: message}})
}

// writeEngineError maps a stable engine error code onto an HTTP status.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		h.logger.Error("Unexpected error from engine", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	status := http.StatusBadRequest
	switch engErr.Code {
	case "SENDER_NOT_FOUND":
		status = http.StatusNotFound
	case "INTERNAL_ERROR":
		status = http.StatusInternalServerError
	}
	h.writeError(w, status, engErr.Code, engErr.Message)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "OK",
		"message": "CypherD Wallet API is running",
	})
}

// NotFound is the JSON catch-all for unknown routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
}

type quoteRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type quoteResponse struct {
	Success      bool                `json:"success"`
	QuoteID      string              `json:"quoteId,omitempty"`
	NativeAmount decimal.Decimal     `json:"ethAmount"`
	FiatAmount   decimal.NullDecimal `json:"usdAmount"`
	ExpiresAt    int64               `json:"expiresAt"`
	Currency     string              `json:"currency"`
	Rate         decimal.NullDecimal `json:"rate,omitempty"`
	Fallback     bool                `json:"fallback,omitempty"`
}

// Quote issues a price quote for a transfer amount.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "Amount and currency are required")
		return
	}

	result, err := h.engine.Quote(r.Context(), req.Amount.String(), req.Currency)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, quoteResponse{
		Success:      true,
		QuoteID:      result.QuoteID,
		NativeAmount: result.NativeAmount,
		FiatAmount:   result.FiatAmount,
		ExpiresAt:    result.ExpiresAt.UnixMilli(),
		Currency:     result.Currency,
		Rate:         result.Rate,
		Fallback:     result.Fallback,
	})
}

type executeRequest struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Signature string      `json:"signature"`
	Message   string      `json:"message"`
	QuoteID   string      `json:"quoteId"`
}

type executeResponse struct {
	Success       bool                `json:"success"`
	TransactionID string              `json:"transactionId"`
	NativeAmount  decimal.Decimal     `json:"ethAmount"`
	FiatAmount    decimal.NullDecimal `json:"usdAmount"`
	Message       string              `json:"message"`
}

// Execute authorizes and commits a transfer.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "All transaction fields are required")
		return
	}

	result, err := h.engine.Execute(r.Context(), engine.ExecuteRequest{
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount.String(),
		Currency:  req.Currency,
		Signature: req.Signature,
		Message:   req.Message,
		QuoteID:   req.QuoteID,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, executeResponse{
		Success:       true,
		TransactionID: result.TransactionID,
		NativeAmount:  result.NativeAmount,
		FiatAmount:    result.FiatAmount,
		Message:       "Transaction completed successfully",
	})
}

// History returns recent transfers involving an address, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "Limit must be an integer")
			return
		}
		limit = parsed
	}

	transfers, err := h.ledger.History(r.Context(), address, limit)
	if err != nil {
		h.logger.Error("Failed to load history", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "HISTORY_FETCH_FAILED", "Failed to get transaction history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": transfers,
	})
}

type createWalletRequest struct {
	Address string `json:"address"`
	Email   string `json:"email"`
}

// CreateWallet registers an account. The call is idempotent; an existing
// account keeps its balance.
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ADDRESS", "Wallet address is required")
		return
	}

	account, created, err := h.ledger.CreateAccount(r.Context(), req.Address, req.Email)
	if err != nil {
		h.logger.Error("Failed to create wallet", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "CREATION_FAILED", "Failed to create wallet")
		return
	}

	message := "Wallet already exists"
	if created {
		message = "Wallet created successfully"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": account.Balance,
		"message": message,
	})
}

// WalletInfo returns the account record for an address.
func (h *Handler) WalletInfo(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	account, err := h.ledger.GetAccount(r.Context(), address)
	if err != nil {
		h.writeAccountError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"wallet":  account,
	})
}

// Balance returns the current balance for an address.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	account, err := h.ledger.GetAccount(r.Context(), address)
	if err != nil {
		h.writeAccountError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": account.Balance,
	})
}

type updateEmailRequest struct {
	Email string `json:"email"`
}

// UpdateEmail sets the notification email for an address.
func (h *Handler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	var req updateEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "Email is required")
		return
	}

	if err := h.ledger.UpdateEmail(r.Context(), address, req.Email); err != nil {
		h.writeAccountError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email updated successfully",
	})
}

func (h *Handler) writeAccountError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		h.writeError(w, http.StatusNotFound, "WALLET_NOT_FOUND", "Wallet not found")
		return
	}
	h.logger.Error("Account lookup failed", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}
