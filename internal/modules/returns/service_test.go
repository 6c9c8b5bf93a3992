package returns

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/activities"
	"github.com/aristath/moneta/internal/modules/snapshots"
	"github.com/aristath/moneta/internal/modules/valuation"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(database.Schema)
	require.NoError(t, err)
	return db
}

func newTestService(t *testing.T, db *sql.DB) (*Service, *accounts.Repository, *activities.Repository, *valuation.Repository) {
	log := zerolog.Nop()
	acctRepo := accounts.NewRepository(db, log)
	snapRepo := snapshots.NewRepository(db, log)
	actRepo := activities.NewRepository(db, log)
	dhvRepo := valuation.NewRepository(db, log)
	svc := NewService(acctRepo, snapRepo, actRepo, dhvRepo, time.UTC, log)
	return svc, acctRepo, actRepo, dhvRepo
}

func createTestAccount(t *testing.T, repo *accounts.Repository, id string) {
	require.NoError(t, repo.Create(&domain.Account{
		ID:                  id,
		ProviderName:        "TestProvider",
		ExternalID:          "ext-" + id,
		Name:                "Test " + id,
		InstitutionName:     "Test Bank",
		IsActive:            true,
		IncludeInAllocation: true,
	}))
}

func writeDailyValue(t *testing.T, dhv *valuation.Repository, accountID string, date domain.Date, value float64) {
	v := decimal.NewFromFloat(value)
	require.NoError(t, dhv.Upsert(domain.DailyHoldingValue{
		ValuationDate:     date,
		AccountID:         accountID,
		AccountSnapshotID: "snap-" + accountID,
		SecurityID:        "sec-1",
		Ticker:            "AAPL",
		Quantity:          decimal.NewFromInt(1),
		ClosePrice:        v,
		MarketValue:       v,
	}, true))
}

func TestGetReturnsWithDeposit(t *testing.T) {
	db := setupTestDB(t)
	svc, acctRepo, actRepo, dhvRepo := newTestService(t, db)
	createTestAccount(t, acctRepo, "acct-1")

	today := domain.Today(time.UTC)
	start, end, err := ResolvePeriod("1M", today)
	require.NoError(t, err)

	writeDailyValue(t, dhvRepo, "acct-1", start, 10000)
	writeDailyValue(t, dhvRepo, "acct-1", end, 16000)

	depositDate := start.AddDays(10)
	require.NoError(t, actRepo.Create(&domain.Activity{
		AccountID:    "acct-1",
		ProviderName: "TestProvider",
		ExternalID:   "ext-dep-1",
		ActivityDate: time.Date(depositDate.Year, depositDate.Month, depositDate.Day, 14, 0, 0, 0, time.UTC),
		Type:         domain.ActivityDeposit,
		Amount:       decimal.NewFromInt(-5000), // providers store deposits with either sign
		Currency:     "USD",
	}))

	resp, err := svc.GetReturns("acct-1", []string{"1M"})
	require.NoError(t, err)
	require.Len(t, resp.Accounts, 1)
	require.Len(t, resp.Accounts[0].Periods, 1)

	result := resp.Accounts[0].Periods[0]
	assert.True(t, result.HasSufficientData)
	assert.True(t, result.StartValue.Equal(decimal.NewFromInt(10000)))
	assert.True(t, result.EndValue.Equal(decimal.NewFromInt(16000)))
	require.NotNil(t, result.IRR)
	assert.Greater(t, *result.IRR, 0.0, "positive return despite only 1000 beyond the deposit")
}

func TestGetReturnsNoData(t *testing.T) {
	db := setupTestDB(t)
	svc, acctRepo, _, _ := newTestService(t, db)
	createTestAccount(t, acctRepo, "acct-1")

	resp, err := svc.GetReturns("acct-1", []string{"1M"})
	require.NoError(t, err)

	result := resp.Accounts[0].Periods[0]
	assert.False(t, result.HasSufficientData)
	assert.Nil(t, result.IRR)
}

func TestGetReturnsPortfolioFiltersAllocationFlag(t *testing.T) {
	db := setupTestDB(t)
	svc, acctRepo, _, dhvRepo := newTestService(t, db)
	createTestAccount(t, acctRepo, "acct-in")
	require.NoError(t, acctRepo.Create(&domain.Account{
		ID:              "acct-out",
		ProviderName:    "TestProvider",
		ExternalID:      "ext-out",
		Name:            "Excluded",
		InstitutionName: "Test Bank",
		IsActive:        true,
		// IncludeInAllocation left false
	}))

	today := domain.Today(time.UTC)
	start, end, err := ResolvePeriod("1D", today)
	require.NoError(t, err)

	writeDailyValue(t, dhvRepo, "acct-in", start, 1000)
	writeDailyValue(t, dhvRepo, "acct-in", end, 1010)
	writeDailyValue(t, dhvRepo, "acct-out", start, 9999)
	writeDailyValue(t, dhvRepo, "acct-out", end, 9999)

	resp, err := svc.GetReturns(ScopePortfolio, []string{"1D"})
	require.NoError(t, err)
	require.NotNil(t, resp.Portfolio)

	result := resp.Portfolio.Periods[0]
	assert.True(t, result.StartValue.Equal(decimal.NewFromInt(1000)),
		"excluded account must not contribute to the portfolio value")
	assert.True(t, result.EndValue.Equal(decimal.NewFromInt(1010)))
}

func TestGetReturnsLiquidationInference(t *testing.T) {
	db := setupTestDB(t)
	svc, acctRepo, _, dhvRepo := newTestService(t, db)
	createTestAccount(t, acctRepo, "acct-1")

	today := domain.Today(time.UTC)
	start, end, err := ResolvePeriod("1M", today)
	require.NoError(t, err)

	writeDailyValue(t, dhvRepo, "acct-1", start, 5000)
	// No daily values at end; latest snapshot before end has zero total.
	sessionTime := end.AddDays(-2)
	_, err = db.Exec(`INSERT INTO sync_sessions (id, timestamp, is_complete) VALUES (?, ?, 1)`,
		"sess-1", database.Timestamp(time.Date(sessionTime.Year, sessionTime.Month, sessionTime.Day, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	snapRepo := snapshots.NewRepository(db, zerolog.Nop())
	require.NoError(t, snapRepo.Create(&domain.AccountSnapshot{
		AccountID:     "acct-1",
		SyncSessionID: "sess-1",
		Status:        domain.SnapshotSuccess,
		TotalValue:    decimal.Zero,
	}))

	resp, err := svc.GetReturns("acct-1", []string{"1M"})
	require.NoError(t, err)

	result := resp.Accounts[0].Periods[0]
	assert.True(t, result.HasSufficientData, "liquidation keeps the period reportable")
	assert.True(t, result.EndValue.IsZero())
	assert.Nil(t, result.IRR, "total loss lands on the XIRR singularity")
}

func TestGetReturnsRejectsUnknownPeriod(t *testing.T) {
	db := setupTestDB(t)
	svc, acctRepo, _, _ := newTestService(t, db)
	createTestAccount(t, acctRepo, "acct-1")

	_, err := svc.GetReturns("acct-1", []string{"7W"})
	require.Error(t, err)
}
