package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/activities"
	"github.com/aristath/moneta/internal/modules/lots"
	"github.com/aristath/moneta/internal/modules/securities"
	"github.com/aristath/moneta/internal/modules/snapshots"
	"github.com/aristath/moneta/internal/modules/valuation"
)

type mockProvider struct {
	name   string
	result *domain.ProviderSyncResult
	err    error
	fn     func(ctx context.Context) (*domain.ProviderSyncResult, error)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) SyncAll(ctx context.Context) (*domain.ProviderSyncResult, error) {
	if m.fn != nil {
		return m.fn(ctx)
	}
	return m.result, m.err
}

type staticProviders []domain.Provider

func (s staticProviders) Enabled() ([]domain.Provider, error) { return s, nil }

type testEnv struct {
	orch     *Orchestrator
	db       *database.DB
	accounts *accounts.Repository
	snaps    *snapshots.Repository
	acts     *activities.Repository
	dhv      *valuation.Repository
	lots     *lots.Repository
}

func newTestEnv(t *testing.T, providers ...domain.Provider) *testEnv {
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	env := &testEnv{
		db:       db,
		accounts: accounts.NewRepository(db.Conn(), log),
		snaps:    snapshots.NewRepository(db.Conn(), log),
		acts:     activities.NewRepository(db.Conn(), log),
		dhv:      valuation.NewRepository(db.Conn(), log),
		lots:     lots.NewRepository(db.Conn(), log),
	}
	env.orch = NewOrchestrator(db,
		NewRepository(db.Conn(), log),
		env.accounts, env.snaps,
		securities.NewRepository(db.Conn(), log),
		env.acts, env.dhv, env.lots,
		nil, staticProviders(providers), time.UTC, log)
	return env
}

func providerResult(extID string, qty, price float64, balanceDate *time.Time) *domain.ProviderSyncResult {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	result := &domain.ProviderSyncResult{
		Accounts: []domain.ProviderAccount{
			{ID: extID, Name: "Brokerage", Institution: "Test Bank"},
		},
		BalanceDates: map[string]*time.Time{extID: balanceDate},
	}
	if qty > 0 {
		result.Holdings = []domain.ProviderHolding{{
			AccountID:   extID,
			Symbol:      "AAPL",
			Quantity:    q,
			Price:       p,
			MarketValue: q.Mul(p),
			Currency:    "USD",
			Name:        "Apple Inc",
		}}
	}
	return result
}

func TestTriggerSyncFirstSync(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	env := newTestEnv(t, &mockProvider{name: "TestProvider", result: providerResult("ext-1", 100, 150, &bd)})

	report, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Session.IsComplete)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, domain.SyncLogSuccess, report.Entries[0].Status)
	assert.Equal(t, 1, report.Entries[0].AccountsSynced)

	acct, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, domain.SyncStatusSuccess, acct.LastSyncStatus)
	assert.Nil(t, acct.LastSyncError)
	require.NotNil(t, acct.BalanceDate)
	assert.True(t, acct.BalanceDate.Equal(bd))

	latest, err := env.snaps.GetLatestSuccessful(acct.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Snapshot.TotalValue.Equal(decimal.NewFromInt(15000)))

	holdings, err := env.snaps.GetHoldings(latest.Snapshot.ID)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].Ticker)

	// Today's daily values were written from the snapshot.
	rows, err := env.dhv.GetForAccountDate(acct.ID, domain.Today(time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].MarketValue.Equal(decimal.NewFromInt(15000)))

	// First sync also seeded the initial lot.
	openLots, err := env.lots.GetLotsForAccount(acct.ID)
	require.NoError(t, err)
	require.Len(t, openLots, 1)
	assert.Equal(t, domain.LotSourceInitial, openLots[0].Source)
	assert.True(t, openLots[0].CurrentQuantity.Equal(decimal.NewFromInt(100)))
}

func TestTriggerSyncStaleBalanceDate(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	provider := &mockProvider{name: "TestProvider", result: providerResult("ext-1", 100, 150, &bd)}
	env := newTestEnv(t, provider)

	_, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)

	acct, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	firstSyncTime := *acct.LastSyncTime

	// Second sync returns the identical balance date: cached provider data.
	report, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Session.IsComplete, "stale still counts as progress")
	assert.Equal(t, 1, report.Entries[0].AccountsStale)

	acct, err = env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusStale, acct.LastSyncStatus)
	assert.False(t, acct.LastSyncTime.Before(firstSyncTime), "last_sync_time must advance")

	timeline, err := env.snaps.GetSuccessfulTimeline(acct.ID)
	require.NoError(t, err)
	assert.Len(t, timeline, 1, "stale sync must not create a second snapshot")
}

func TestTriggerSyncProviderIsolation(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	failing := &mockProvider{name: "BrokenProvider", err: &domain.ConnectionError{ProviderName: "BrokenProvider"}}
	working := &mockProvider{name: "TestProvider", result: providerResult("ext-1", 10, 100, &bd)}
	env := newTestEnv(t, failing, working)

	// The failing provider has an account from before.
	require.NoError(t, env.accounts.Create(&domain.Account{
		ID:              "acct-broken",
		ProviderName:    "BrokenProvider",
		ExternalID:      "ext-b",
		Name:            "Broken",
		InstitutionName: "Broken Bank",
		IsActive:        true,
	}))

	report, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Session.IsComplete, "one healthy provider completes the session")
	require.Len(t, report.Entries, 2)

	byProvider := map[string]domain.SyncLogEntry{}
	for _, e := range report.Entries {
		byProvider[e.ProviderName] = e
	}
	assert.Equal(t, domain.SyncLogFailed, byProvider["BrokenProvider"].Status)
	assert.Equal(t, domain.SyncLogSuccess, byProvider["TestProvider"].Status)

	broken, err := env.accounts.GetByID("acct-broken")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, broken.LastSyncStatus)
	require.NotNil(t, broken.LastSyncError)
	assert.Equal(t, "provider connection failed", *broken.LastSyncError)

	healthy, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, healthy.LastSyncStatus)
}

func TestTriggerSyncSkipsUnrespondedAccount(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	provider := &mockProvider{name: "TestProvider", result: providerResult("ext-1", 10, 100, &bd)}
	env := newTestEnv(t, provider)

	// An older account of the same provider the result never mentions.
	require.NoError(t, env.accounts.Create(&domain.Account{
		ID:              "acct-ghost",
		ProviderName:    "TestProvider",
		ExternalID:      "ext-ghost",
		Name:            "Ghost",
		InstitutionName: "Test Bank",
		IsActive:        true,
	}))

	_, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)

	ghost, err := env.accounts.GetByID("acct-ghost")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSkipped, ghost.LastSyncStatus)
	require.NotNil(t, ghost.LastSyncError)
	assert.NotNil(t, ghost.LastSyncTime)

	timeline, err := env.snaps.GetSuccessfulTimeline("acct-ghost")
	require.NoError(t, err)
	assert.Empty(t, timeline, "skipped account must not be wiped to zero")
}

func TestTriggerSyncProviderErrorGuard(t *testing.T) {
	result := &domain.ProviderSyncResult{
		Accounts: []domain.ProviderAccount{
			{ID: "ext-1", Name: "Brokerage", Institution: "Test Bank"},
		},
		Errors: []domain.ProviderSyncError{
			{Message: "institution temporarily unavailable", Category: "connection"},
		},
	}
	env := newTestEnv(t, &mockProvider{name: "TestProvider", result: result})

	report, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Session.IsComplete)
	assert.Equal(t, domain.SyncLogFailed, report.Entries[0].Status)

	acct, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusError, acct.LastSyncStatus)

	timeline, err := env.snaps.GetSuccessfulTimeline(acct.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline, "no snapshot when the provider reports errors and no data")
}

func TestTriggerSyncZeroHoldingsWritesSentinel(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	env := newTestEnv(t, &mockProvider{name: "TestProvider", result: providerResult("ext-1", 0, 0, &bd)})

	_, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)

	acct, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, acct.LastSyncStatus)

	rows, err := env.dhv.GetForAccountDate(acct.ID, domain.Today(time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ZeroBalanceTicker, rows[0].Ticker)
	assert.True(t, rows[0].MarketValue.IsZero())
}

func TestTriggerSyncConsolidatesDuplicateSymbols(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	result := &domain.ProviderSyncResult{
		Accounts: []domain.ProviderAccount{
			{ID: "ext-1", Name: "Brokerage", Institution: "Test Bank"},
		},
		Holdings: []domain.ProviderHolding{
			{AccountID: "ext-1", Symbol: "USD", Quantity: decimal.NewFromInt(100),
				Price: decimal.NewFromInt(1), MarketValue: decimal.NewFromInt(100), Currency: "USD"},
			{AccountID: "ext-1", Symbol: "usd", Quantity: decimal.NewFromInt(50),
				Price: decimal.NewFromInt(1), MarketValue: decimal.NewFromInt(50), Currency: "USD"},
		},
		BalanceDates: map[string]*time.Time{"ext-1": &bd},
	}
	env := newTestEnv(t, &mockProvider{name: "TestProvider", result: result})

	_, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)

	acct, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	latest, err := env.snaps.GetLatestSuccessful(acct.ID)
	require.NoError(t, err)

	holdings, err := env.snaps.GetHoldings(latest.Snapshot.ID)
	require.NoError(t, err)
	require.Len(t, holdings, 1, "duplicate symbols must merge into one holding")
	assert.True(t, holdings[0].Quantity.Equal(decimal.NewFromInt(150)))
	assert.True(t, holdings[0].SnapshotValue.Equal(decimal.NewFromInt(150)))
}

func TestTriggerSyncConcurrentCallFailsFast(t *testing.T) {
	var env *testEnv
	reentrant := &mockProvider{
		name: "TestProvider",
		fn: func(ctx context.Context) (*domain.ProviderSyncResult, error) {
			_, err := env.orch.TriggerSync(ctx)
			assert.ErrorIs(t, err, ErrSyncInProgress)
			return &domain.ProviderSyncResult{}, nil
		},
	}
	env = newTestEnv(t, reentrant)

	_, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)
}

func TestTriggerSyncKeepsUserEditedName(t *testing.T) {
	bd := time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC)
	provider := &mockProvider{name: "TestProvider", result: providerResult("ext-1", 10, 100, &bd)}
	env := newTestEnv(t, provider)

	_, err := env.orch.TriggerSync(context.Background())
	require.NoError(t, err)

	acct, err := env.accounts.GetByProviderExternalID("TestProvider", "ext-1")
	require.NoError(t, err)
	require.NoError(t, env.accounts.UpdateName(acct.ID, "My Retirement"))

	// Bump the balance date so the second sync is not stale.
	bd2 := bd.Add(24 * time.Hour)
	provider.result = providerResult("ext-1", 10, 100, &bd2)

	_, err = env.orch.TriggerSync(context.Background())
	require.NoError(t, err)

	acct, err = env.accounts.GetByID(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Retirement", acct.Name, "sync must not overwrite a user-edited name")
}
