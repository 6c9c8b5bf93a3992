package valuation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/securities"
	"github.com/aristath/moneta/internal/modules/snapshots"
)

type fakeMarketData struct {
	history map[string][]domain.PricePoint
}

func (f *fakeMarketData) PriceHistory(_ context.Context, _ []string, _ map[string]struct{}, _, _ domain.Date) (map[string][]domain.PricePoint, error) {
	return f.history, nil
}

type valuationEnv struct {
	svc   *Service
	db    *database.DB
	accts *accounts.Repository
	snaps *snapshots.Repository
	secs  *securities.Repository
	dhv   *Repository
}

func newValuationEnv(t *testing.T, md domain.MarketDataService) *valuationEnv {
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	env := &valuationEnv{
		db:    db,
		accts: accounts.NewRepository(db.Conn(), log),
		snaps: snapshots.NewRepository(db.Conn(), log),
		secs:  securities.NewRepository(db.Conn(), log),
		dhv:   NewRepository(db.Conn(), log),
	}
	env.svc = NewService(db, env.accts, env.snaps, env.secs, env.dhv, md, time.UTC, log)
	return env
}

func (e *valuationEnv) seedAccount(t *testing.T) *domain.Account {
	acct := &domain.Account{
		ProviderName:        "Test",
		ExternalID:          "ext-1",
		Name:                "Brokerage",
		IsActive:            true,
		IncludeInAllocation: true,
	}
	require.NoError(t, e.accts.Create(acct))
	return acct
}

// seedSnapshot writes a sync session plus a successful snapshot at the
// given instant, with zero or more holdings.
func (e *valuationEnv) seedSnapshot(t *testing.T, accountID string, at time.Time, holdings ...domain.Holding) string {
	sessionID := uuid.NewString()
	_, err := e.db.Conn().Exec(`INSERT INTO sync_sessions (id, timestamp, is_complete)
		VALUES (?, ?, 1)`, sessionID, database.Timestamp(at))
	require.NoError(t, err)

	snap := &domain.AccountSnapshot{
		AccountID:     accountID,
		SyncSessionID: sessionID,
		Status:        domain.SnapshotSuccess,
	}
	for _, h := range holdings {
		snap.TotalValue = snap.TotalValue.Add(h.SnapshotValue)
	}
	require.NoError(t, e.snaps.Create(snap))

	for _, h := range holdings {
		h.AccountSnapshotID = snap.ID
		require.NoError(t, e.snaps.CreateHolding(&h))
	}
	return snap.ID
}

func (e *valuationEnv) holding(t *testing.T, ticker string, qty, price float64) domain.Holding {
	sec, err := e.secs.GetOrCreateByTicker(ticker, ticker)
	require.NoError(t, err)
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	return domain.Holding{
		SecurityID:    sec.ID,
		Ticker:        ticker,
		Quantity:      q,
		SnapshotPrice: p,
		SnapshotValue: q.Mul(p),
	}
}

func noon(d domain.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

func TestBackfillCarriesCloseForward(t *testing.T) {
	yesterday := domain.Today(time.UTC).AddDays(-1)
	start := yesterday.AddDays(-2)

	// One close at the start of the range; later days carry it forward
	// the way a weekend carries Friday's close.
	md := &fakeMarketData{history: map[string][]domain.PricePoint{
		"AAPL": {{Date: start, Close: decimal.NewFromInt(150)}},
	}}
	env := newValuationEnv(t, md)
	acct := env.seedAccount(t)
	env.seedSnapshot(t, acct.ID, noon(start), env.holding(t, "AAPL", 10, 100))

	result, err := env.svc.Backfill(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.DatesCalculated)
	assert.Equal(t, 3, result.RowsWritten)

	for day := start; !day.After(yesterday); day = day.AddDays(1) {
		rows, err := env.dhv.GetForAccountDate(acct.ID, day)
		require.NoError(t, err)
		require.Len(t, rows, 1, "day %s", day)
		assert.Equal(t, "150", rows[0].ClosePrice.String())
		assert.Equal(t, "1500", rows[0].MarketValue.String())
	}

	// A second run has nothing to do.
	result, err = env.svc.Backfill(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestBackfillFallsBackToSnapshotPrice(t *testing.T) {
	yesterday := domain.Today(time.UTC).AddDays(-1)

	env := newValuationEnv(t, &fakeMarketData{history: map[string][]domain.PricePoint{}})
	acct := env.seedAccount(t)
	env.seedSnapshot(t, acct.ID, noon(yesterday), env.holding(t, "AAPL", 4, 110))

	_, err := env.svc.Backfill(context.Background())
	require.NoError(t, err)

	rows, err := env.dhv.GetForAccountDate(acct.ID, yesterday)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "110", rows[0].ClosePrice.String())
	assert.Equal(t, "440", rows[0].MarketValue.String())
}

func TestBackfillWritesSentinelAfterLiquidation(t *testing.T) {
	yesterday := domain.Today(time.UTC).AddDays(-1)
	start := yesterday.AddDays(-2)
	liquidated := start.AddDays(1)

	env := newValuationEnv(t, &fakeMarketData{history: map[string][]domain.PricePoint{}})
	acct := env.seedAccount(t)
	env.seedSnapshot(t, acct.ID, noon(start), env.holding(t, "AAPL", 10, 100))
	env.seedSnapshot(t, acct.ID, noon(liquidated)) // zero holdings

	_, err := env.svc.Backfill(context.Background())
	require.NoError(t, err)

	rows, err := env.dhv.GetForAccountDate(acct.ID, start)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", rows[0].Ticker)

	// From the liquidation date on, each day holds exactly one sentinel.
	for day := liquidated; !day.After(yesterday); day = day.AddDays(1) {
		rows, err := env.dhv.GetForAccountDate(acct.ID, day)
		require.NoError(t, err)
		require.Len(t, rows, 1, "day %s", day)
		assert.Equal(t, domain.ZeroBalanceTicker, rows[0].Ticker)
		assert.True(t, rows[0].MarketValue.IsZero())
	}
}

func TestFullBackfillIsIdempotent(t *testing.T) {
	yesterday := domain.Today(time.UTC).AddDays(-1)
	start := yesterday.AddDays(-1)

	env := newValuationEnv(t, &fakeMarketData{history: map[string][]domain.PricePoint{}})
	acct := env.seedAccount(t)
	env.seedSnapshot(t, acct.ID, noon(start), env.holding(t, "AAPL", 2, 50))

	first, err := env.svc.FullBackfill(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.DatesCalculated)

	second, err := env.svc.FullBackfill(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, first.RowsWritten, second.RowsWritten)

	rows, err := env.dhv.GetForAccountDate(acct.ID, yesterday)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "100", rows[0].MarketValue.String())
}
