// Package snaptrade provides the SnapTrade brokerage aggregator adapter.
package snaptrade

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

const (
	defaultBaseURL = "https://api.snaptrade.com/api/v1"
	defaultTimeout = 60 * time.Second
)

// Client is a minimal SnapTrade API client covering the read endpoints the
// sync pipeline needs. Every request is signed with the consumer key.
type Client struct {
	baseURL     string
	clientID    string
	consumerKey string
	userID      string
	userSecret  string
	httpClient  *http.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewClient creates a new SnapTrade client
func NewClient(clientID, consumerKey, userID, userSecret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     defaultBaseURL,
		clientID:    clientID,
		consumerKey: consumerKey,
		userID:      userID,
		userSecret:  userSecret,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		log: log.With().Str("client", "snaptrade").Logger(),
		now: time.Now,
	}
}

// signaturePayload is what gets HMAC-signed: the request content, path,
// and encoded query, exactly as sent.
type signaturePayload struct {
	Content interface{} `json:"content"`
	Path    string      `json:"path"`
	Query   string      `json:"query"`
}

func (c *Client) sign(path, query string, content interface{}) (string, error) {
	payload, err := json.Marshal(signaturePayload{Content: content, Path: path, Query: query})
	if err != nil {
		return "", fmt.Errorf("failed to marshal signature payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(c.consumerKey))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("clientId", c.clientID)
	params.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	params.Set("userId", c.userID)
	params.Set("userSecret", c.userSecret)

	apiPath := "/api/v1" + path
	query := params.Encode()
	signature, err := c.sign(apiPath, query, nil)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Signature", signature)
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("path", path).Msg("SnapTrade API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ConnectionError{ProviderName: ProviderName, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &domain.AuthError{
			ProviderName: ProviderName,
			Err:          fmt.Errorf("API returned status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &domain.ConnectionError{
			ProviderName: ProviderName,
			Err:          fmt.Errorf("API returned status %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiAccount is one brokerage connection account.
type apiAccount struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Number      string        `json:"number"`
	Institution string        `json:"institution_name"`
	SyncStatus  apiSyncStatus `json:"sync_status"`
}

type apiSyncStatus struct {
	Holdings apiHoldingsSync `json:"holdings"`
}

type apiHoldingsSync struct {
	LastSuccessfulSync string `json:"last_successful_sync"`
}

type apiCurrency struct {
	Code string `json:"code"`
}

type apiSymbolInfo struct {
	Symbol      string      `json:"symbol"`
	RawSymbol   string      `json:"raw_symbol"`
	Description string      `json:"description"`
	Currency    apiCurrency `json:"currency"`
}

type apiSymbol struct {
	Symbol apiSymbolInfo `json:"symbol"`
}

// apiPosition is one holding row.
type apiPosition struct {
	Symbol            apiSymbol `json:"symbol"`
	Units             float64   `json:"units"`
	Price             float64   `json:"price"`
	AverageEntryPrice *float64  `json:"average_purchase_price"`
	FractionalUnits   *float64  `json:"fractional_units"`
}

// apiBalance is one cash balance row.
type apiBalance struct {
	Currency apiCurrency `json:"currency"`
	Cash     float64     `json:"cash"`
}

type apiAccountRef struct {
	ID string `json:"id"`
}

type apiActivitySymbol struct {
	Symbol string `json:"symbol"`
}

// apiActivity is one transaction row.
type apiActivity struct {
	ID             string             `json:"id"`
	Account        apiAccountRef      `json:"account"`
	Symbol         *apiActivitySymbol `json:"symbol"`
	Type           string             `json:"type"`
	Description    string             `json:"description"`
	TradeDate      *string            `json:"trade_date"`
	SettlementDate *string            `json:"settlement_date"`
	Amount         *float64           `json:"amount"`
	Units          float64            `json:"units"`
	Price          float64            `json:"price"`
	Fee            float64            `json:"fee"`
	Currency       apiCurrency        `json:"currency"`
}

func (c *Client) listAccounts(ctx context.Context) ([]apiAccount, error) {
	var accts []apiAccount
	if err := c.get(ctx, "/accounts", nil, &accts); err != nil {
		return nil, err
	}
	return accts, nil
}

func (c *Client) listPositions(ctx context.Context, accountID string) ([]apiPosition, error) {
	var positions []apiPosition
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (c *Client) listBalances(ctx context.Context, accountID string) ([]apiBalance, error) {
	var balances []apiBalance
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/balances", nil, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

func (c *Client) listActivities(ctx context.Context, startDate, endDate string) ([]apiActivity, error) {
	params := url.Values{}
	params.Set("startDate", startDate)
	params.Set("endDate", endDate)

	var acts []apiActivity
	if err := c.get(ctx, "/activities", params, &acts); err != nil {
		return nil, err
	}
	return acts, nil
}
