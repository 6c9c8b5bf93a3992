package snaptrade

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// ProviderName is the registry name for this adapter.
const ProviderName = "SnapTrade"

// activityLookback bounds the activities window requested from the API.
const activityLookback = 90 * 24 * time.Hour

// Adapter implements domain.Provider over the SnapTrade API
type Adapter struct {
	client *Client
	log    zerolog.Logger
}

// NewAdapter creates a new SnapTrade provider adapter
func NewAdapter(clientID, consumerKey, userID, userSecret string, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: NewClient(clientID, consumerKey, userID, userSecret, log),
		log:    log.With().Str("provider", ProviderName).Logger(),
	}
}

// Name implements domain.Provider
func (a *Adapter) Name() string { return ProviderName }

// SyncAll implements domain.Provider. Account list and activity failures
// are hard errors; a single account's positions failing becomes a soft
// per-account error so the rest of the pull still lands.
func (a *Adapter) SyncAll(ctx context.Context) (*domain.ProviderSyncResult, error) {
	accts, err := a.client.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	result := &domain.ProviderSyncResult{
		BalanceDates: make(map[string]*time.Time),
	}
	for _, acct := range accts {
		result.Accounts = append(result.Accounts, transformAccount(acct))
		if bd := balanceDate(acct); bd != nil {
			result.BalanceDates[acct.ID] = bd
		}

		positions, err := a.client.listPositions(ctx, acct.ID)
		if err != nil {
			a.log.Warn().Err(err).Str("account_id", acct.ID).Msg("Failed to fetch positions")
			result.Errors = append(result.Errors, domain.ProviderSyncError{
				Message:   fmt.Sprintf("failed to fetch positions for account %s", acct.Number),
				Category:  "positions",
				AccountID: acct.ID,
				Retriable: true,
			})
			delete(result.BalanceDates, acct.ID)
			continue
		}
		for _, p := range positions {
			if ph, ok := transformPosition(acct.ID, p); ok {
				result.Holdings = append(result.Holdings, ph)
			}
		}

		balances, err := a.client.listBalances(ctx, acct.ID)
		if err != nil {
			a.log.Warn().Err(err).Str("account_id", acct.ID).Msg("Failed to fetch balances")
		} else {
			for _, b := range balances {
				if ph, ok := transformBalance(acct.ID, b); ok {
					result.Holdings = append(result.Holdings, ph)
				}
			}
		}
	}

	end := time.Now().UTC()
	start := end.Add(-activityLookback)
	acts, err := a.client.listActivities(ctx, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to fetch activities")
		result.Errors = append(result.Errors, domain.ProviderSyncError{
			Message:   "failed to fetch activities",
			Category:  "activities",
			Retriable: true,
		})
	} else {
		for _, raw := range acts {
			if act, ok := transformActivity(raw); ok {
				result.Activities = append(result.Activities, act)
			}
		}
	}

	a.log.Info().
		Int("accounts", len(result.Accounts)).
		Int("holdings", len(result.Holdings)).
		Int("activities", len(result.Activities)).
		Int("errors", len(result.Errors)).
		Msg("SnapTrade sync fetched")
	return result, nil
}

var _ domain.Provider = (*Adapter)(nil)
