package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the contract every brokerage/bank adapter satisfies. Adapter
// internals (pagination, rate limits, retries) stay behind this interface;
// the orchestrator only sees the uniform result.
type Provider interface {
	Name() string
	SyncAll(ctx context.Context) (*ProviderSyncResult, error)
}

// ProviderSyncResult is the uniform output of one adapter pull.
type ProviderSyncResult struct {
	Accounts     []ProviderAccount
	Holdings     []ProviderHolding
	Activities   []ProviderActivity
	Errors       []ProviderSyncError
	BalanceDates map[string]*time.Time // external account ID -> balance instant
}

// ProviderAccount identifies one account as the provider reports it.
type ProviderAccount struct {
	ID            string // provider's external account ID
	Name          string
	Institution   string
	AccountNumber string
}

// ProviderHolding is one position as the provider reports it. Providers may
// return several rows for the same symbol in one account; the orchestrator
// consolidates them before writing.
type ProviderHolding struct {
	AccountID   string
	Symbol      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	MarketValue decimal.Decimal
	Currency    string
	Name        string
	CostBasis   *decimal.Decimal
}

// ProviderActivity is one transaction as the provider reports it.
type ProviderActivity struct {
	AccountID      string
	ExternalID     string
	ActivityDate   time.Time
	Type           ActivityType
	Amount         decimal.Decimal
	Ticker         *string
	Units          *decimal.Decimal
	Price          *decimal.Decimal
	Currency       string
	Fee            *decimal.Decimal
	Description    *string
	SettlementDate *time.Time
}

// ProviderSyncError is a structured soft error. An error naming an
// AccountID targets that account; one naming only InstitutionName targets
// every account of that institution (case-insensitive match).
type ProviderSyncError struct {
	Message         string
	Category        string
	InstitutionName string
	AccountID       string
	Retriable       bool
}

// AuthError is a typed adapter failure: credentials rejected.
type AuthError struct {
	ProviderName string
	Err          error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %s authentication failed: %v", e.ProviderName, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError is a typed adapter failure: provider unreachable.
type ConnectionError struct {
	ProviderName string
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("provider %s connection failed: %v", e.ProviderName, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProviderError is a generic adapter failure with a provider-supplied
// message.
type ProviderError struct {
	ProviderName string
	Message      string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.ProviderName, e.Message)
}
