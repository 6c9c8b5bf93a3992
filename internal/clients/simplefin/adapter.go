package simplefin

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// ProviderName is the registry name for this adapter.
const ProviderName = "SimpleFIN"

// activityLookback bounds the transaction window requested from the
// bridge. Older activities were merged by earlier syncs.
const activityLookback = 90 * 24 * time.Hour

// Adapter implements domain.Provider over the SimpleFIN bridge
type Adapter struct {
	client *Client
	log    zerolog.Logger
}

// NewAdapter creates a new SimpleFIN provider adapter
func NewAdapter(accessURL string, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: NewClient(accessURL, log),
		log:    log.With().Str("provider", ProviderName).Logger(),
	}
}

// Name implements domain.Provider
func (a *Adapter) Name() string { return ProviderName }

// SyncAll implements domain.Provider
func (a *Adapter) SyncAll(ctx context.Context) (*domain.ProviderSyncResult, error) {
	set, err := a.client.fetchAccounts(ctx, time.Now().Add(-activityLookback))
	if err != nil {
		return nil, err
	}

	result := transform(set)
	a.log.Info().
		Int("accounts", len(result.Accounts)).
		Int("holdings", len(result.Holdings)).
		Int("activities", len(result.Activities)).
		Int("errors", len(result.Errors)).
		Msg("SimpleFIN sync fetched")
	return result, nil
}

var _ domain.Provider = (*Adapter)(nil)
