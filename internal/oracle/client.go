package oracle

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cypherd-wallet-go/internal/config"
)

const (
	// Skip API swap-route parameters for a USDC -> native ETH conversion
	// on Ethereum mainnet.
	usdcDenom       = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	nativeDenom     = "ethereum-native"
	mainnetChainID  = "1"
	routeRecipient  = "0x742d35Cc6634C0532925a3b8D4C9db96c728b0B4"
	usdcDecimals    = 6
	weiDecimals     = 18
	routeSlippage   = "1"
	msgsDirectRoute = "/fungible/msgs_direct"
)

// Conversion is the result of a fiat-to-native rate conversion.
// Fallback is true when the upstream oracle was unreachable and the
// deterministic fallback rate was used instead.
type Conversion struct {
	FiatAmount   decimal.Decimal
	NativeAmount decimal.Decimal
	Rate         decimal.Decimal
	Fallback     bool
}

// Converter defines the interface for the rate oracle.
type Converter interface {
	Convert(ctx context.Context, fiatAmount decimal.Decimal) (*Conversion, error)
}

// Client is a client for the Skip swap API.
// It implements the Converter interface.
type Client struct {
	client       *resty.Client
	logger       *zap.Logger
	limiter      *rate.Limiter
	fallbackRate decimal.Decimal
}

// ensure Client implements the interface
var _ Converter = (*Client)(nil)

// NewClient creates a new rate oracle client.
func NewClient(cfg *config.Oracle, logger *zap.Logger) (*Client, error) {
	fallbackRate, err := decimal.NewFromString(cfg.FallbackRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback rate %q: %w", cfg.FallbackRate, err)
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:       client,
		logger:       logger,
		limiter:      limiter,
		fallbackRate: fallbackRate,
	}, nil
}

// routeRequest is the request body for the /fungible/msgs_direct endpoint.
type routeRequest struct {
	SourceAssetDenom         string            `json:"source_asset_denom"`
	SourceAssetChainID       string            `json:"source_asset_chain_id"`
	DestAssetDenom           string            `json:"dest_asset_denom"`
	DestAssetChainID         string            `json:"dest_asset_chain_id"`
	AmountIn                 string            `json:"amount_in"`
	ChainIDsToAddresses      map[string]string `json:"chain_ids_to_addresses"`
	SlippageTolerancePercent string            `json:"slippage_tolerance_percent"`
	SmartSwapOptions         smartSwapOptions  `json:"smart_swap_options"`
	AllowUnsafe              bool              `json:"allow_unsafe"`
}

type smartSwapOptions struct {
	EVMSwaps bool `json:"evm_swaps"`
}

// routeResponse is the subset of the route response we consume.
type routeResponse struct {
	AmountOut string `json:"amount_out"`
}

// Convert converts a fiat amount to native units at the current market rate.
// On any upstream failure it returns the fallback conversion instead of an
// error; quoting must stay available when the oracle is not. The only error
// returned is context cancellation.
func (c *Client) Convert(ctx context.Context, fiatAmount decimal.Decimal) (*Conversion, error) {
	body := routeRequest{
		SourceAssetDenom:         usdcDenom,
		SourceAssetChainID:       mainnetChainID,
		DestAssetDenom:           nativeDenom,
		DestAssetChainID:         mainnetChainID,
		AmountIn:                 fiatAmount.Shift(usdcDecimals).Floor().String(),
		ChainIDsToAddresses:      map[string]string{mainnetChainID: routeRecipient},
		SlippageTolerancePercent: routeSlippage,
		SmartSwapOptions:         smartSwapOptions{EVMSwaps: true},
		AllowUnsafe:              false,
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&routeResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, msgsDirectRoute, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("Oracle unreachable, using fallback rate",
			zap.String("fiat_amount", fiatAmount.String()),
			zap.Error(err),
		)
		return c.fallback(fiatAmount), nil
	}

	result := resp.Result().(*routeResponse)
	amountOutWei, err := decimal.NewFromString(result.AmountOut)
	if err != nil || !amountOutWei.IsPositive() {
		c.logger.Warn("Oracle returned malformed amount, using fallback rate",
			zap.String("amount_out", result.AmountOut),
		)
		return c.fallback(fiatAmount), nil
	}

	nativeAmount := amountOutWei.Shift(-weiDecimals)
	c.logger.Debug("Oracle conversion",
		zap.String("fiat_amount", fiatAmount.String()),
		zap.String("native_amount", nativeAmount.String()),
	)

	return &Conversion{
		FiatAmount:   fiatAmount,
		NativeAmount: nativeAmount,
		Rate:         nativeAmount.Div(fiatAmount),
		Fallback:     false,
	}, nil
}

// fallback builds a conversion at the configured deterministic rate.
func (c *Client) fallback(fiatAmount decimal.Decimal) *Conversion {
	return &Conversion{
		FiatAmount:   fiatAmount,
		NativeAmount: fiatAmount.Mul(c.fallbackRate),
		Rate:         c.fallbackRate,
		Fallback:     true,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
