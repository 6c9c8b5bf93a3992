// Package marketdata provides the EODHD-backed price history source used
// by the valuation engine.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aristath/moneta/internal/domain"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client fetches daily closes from the EODHD API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new market data client
func NewClient(apiKey string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		log:     log.With().Str("client", "marketdata").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market data API error (status: %d, endpoint: %s)", e.StatusCode, e.Endpoint)
}

// eodBar is one row of the EOD endpoint's JSON response.
type eodBar struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// PriceHistory implements domain.MarketDataService. Symbols in
// cryptoSymbols are routed to the crypto exchange feed; plain symbols
// default to the US feed. A symbol the API does not know is skipped with a
// warning rather than failing the whole batch.
func (c *Client) PriceHistory(ctx context.Context, symbols []string, cryptoSymbols map[string]struct{}, from, to domain.Date) (map[string][]domain.PricePoint, error) {
	result := make(map[string][]domain.PricePoint, len(symbols))

	for _, symbol := range symbols {
		bars, err := c.fetchEOD(ctx, c.routeTicker(symbol, cryptoSymbols), from, to)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				c.log.Warn().Str("symbol", symbol).Msg("Symbol unknown to market data API, skipping")
				continue
			}
			return nil, fmt.Errorf("failed to fetch prices for %s: %w", symbol, err)
		}

		points := make([]domain.PricePoint, 0, len(bars))
		for _, bar := range bars {
			day, err := domain.ParseDate(bar.Date)
			if err != nil {
				continue
			}
			points = append(points, domain.PricePoint{
				Date:  day,
				Close: decimal.NewFromFloat(bar.Close),
			})
		}
		result[symbol] = points
	}

	return result, nil
}

// routeTicker maps a bare symbol to the API's exchange-qualified form.
func (c *Client) routeTicker(symbol string, cryptoSymbols map[string]struct{}) string {
	if _, ok := cryptoSymbols[symbol]; ok {
		return symbol + "-USD.CC"
	}
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}

func (c *Client) fetchEOD(ctx context.Context, ticker string, from, to domain.Date) ([]eodBar, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	params.Set("from", from.String())
	params.Set("to", to.String())

	var bars []eodBar
	if err := c.get(ctx, "/eod/"+url.PathEscape(ticker), params, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.log.Debug().Str("path", path).Msg("Market data API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused. The body is not part
		// of the error; it can echo request parameters.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
