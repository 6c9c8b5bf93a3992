// Package simplefin provides the SimpleFIN bridge adapter. One access URL
// aggregates any number of linked institutions; the bridge reports soft
// per-institution errors alongside whatever data it could fetch.
package simplefin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

const defaultTimeout = 60 * time.Second

// Client fetches account data from a SimpleFIN bridge. Credentials are
// embedded in the access URL, so the URL itself is a secret and never
// belongs in errors or logs.
type Client struct {
	accessURL  string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new SimpleFIN client
func NewClient(accessURL string, log zerolog.Logger) *Client {
	return &Client{
		accessURL: strings.TrimRight(accessURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		log: log.With().Str("client", "simplefin").Logger(),
	}
}

// accountSet is the bridge's /accounts response.
type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Currency    string        `json:"currency"`
	Balance     string        `json:"balance"`
	BalanceDate int64         `json:"balance-date"`
	Org         org           `json:"org"`
	Holdings    []holding     `json:"holdings"`
	Txns        []transaction `json:"transactions"`
}

type org struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type holding struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
	Shares      string `json:"shares"`
	MarketValue string `json:"market_value"`
	CostBasis   string `json:"cost_basis"`
}

type transaction struct {
	ID          string `json:"id"`
	Posted      int64  `json:"posted"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Pending     bool   `json:"pending"`
}

// fetchAccounts pulls all accounts with transactions since startDate.
func (c *Client) fetchAccounts(ctx context.Context, startDate time.Time) (*accountSet, error) {
	params := url.Values{}
	params.Set("start-date", strconv.FormatInt(startDate.Unix(), 10))

	reqURL := fmt.Sprintf("%s/accounts?%s", c.accessURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ConnectionError{ProviderName: ProviderName, Err: sanitizeURLError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.AuthError{
			ProviderName: ProviderName,
			Err:          fmt.Errorf("bridge returned status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &domain.ConnectionError{
			ProviderName: ProviderName,
			Err:          fmt.Errorf("bridge returned status %d", resp.StatusCode),
		}
	}

	var set accountSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode accounts response: %w", err)
	}
	return &set, nil
}

// sanitizeURLError strips the request URL (which embeds credentials) from
// transport errors.
func sanitizeURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request failed: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
