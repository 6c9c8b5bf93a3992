package lots

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
	"github.com/aristath/moneta/internal/modules/activities"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(database.Schema)
	require.NoError(t, err)
	return db
}

func newTestReconciler(t *testing.T, db *sql.DB) (*Reconciler, *Repository, *activities.Repository) {
	log := zerolog.Nop()
	repo := NewRepository(db, log)
	actRepo := activities.NewRepository(db, log)
	rec := NewReconciler(repo, actRepo, time.UTC, log)
	return rec, repo, actRepo
}

func holding(securityID, ticker string, qty, price float64) domain.Holding {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	return domain.Holding{
		SecurityID:    securityID,
		Ticker:        ticker,
		Quantity:      q,
		SnapshotPrice: p,
		SnapshotValue: q.Mul(p),
	}
}

func TestReconcileFirstSyncSeedsInitialLot(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, _ := newTestReconciler(t, db)

	curr := SnapshotInput{
		Timestamp: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 100, 150)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, curr, nil))

	lots, err := repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, lots, 1)

	lot := lots[0]
	assert.Equal(t, domain.LotSourceInitial, lot.Source)
	assert.Nil(t, lot.AcquisitionDate)
	assert.True(t, lot.OriginalQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, lot.CurrentQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, lot.CostBasisPerUnit.Equal(decimal.NewFromInt(150)))
	assert.False(t, lot.IsClosed)

	disposals, err := repo.GetDisposalsForAccount("acct-1")
	require.NoError(t, err)
	assert.Empty(t, disposals)
}

func TestReconcileBuyDeltaWithActivity(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, actRepo := newTestReconciler(t, db)

	prevTime := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	currTime := time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC)

	prev := &SnapshotInput{
		Timestamp: prevTime,
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 100, 150)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, *prev, nil))

	units := decimal.NewFromInt(30)
	price := decimal.NewFromInt(148)
	ticker := "aapl" // providers disagree on case
	require.NoError(t, actRepo.Create(&domain.Activity{
		AccountID:    "acct-1",
		ProviderName: "TestProvider",
		ExternalID:   "ext-buy-1",
		ActivityDate: time.Date(2025, 1, 11, 9, 30, 0, 0, time.UTC),
		Type:         domain.ActivityBuy,
		Amount:       units.Mul(price).Neg(),
		Ticker:       &ticker,
		Units:        &units,
		Price:        &price,
		Currency:     "USD",
	}))

	curr := SnapshotInput{
		Timestamp: currTime,
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 150, 152)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))

	lots, err := repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, lots, 3)

	bySource := make(map[domain.LotSource]domain.HoldingLot)
	for _, lot := range lots {
		bySource[lot.Source] = lot
	}

	initial := bySource[domain.LotSourceInitial]
	assert.True(t, initial.CurrentQuantity.Equal(decimal.NewFromInt(100)))

	activity := bySource[domain.LotSourceActivity]
	assert.True(t, activity.OriginalQuantity.Equal(decimal.NewFromInt(30)))
	assert.True(t, activity.CostBasisPerUnit.Equal(decimal.NewFromInt(148)))
	require.NotNil(t, activity.AcquisitionDate)
	assert.Equal(t, "2025-01-11", activity.AcquisitionDate.String())
	assert.NotNil(t, activity.ActivityID)

	inferred := bySource[domain.LotSourceInferred]
	assert.True(t, inferred.OriginalQuantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, inferred.CostBasisPerUnit.Equal(decimal.NewFromInt(152)))
	assert.Nil(t, inferred.AcquisitionDate)
}

func TestReconcileSellDisposesFIFOAcrossLots(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, _ := newTestReconciler(t, db)

	acq1 := domain.NewDate(2024, 1, 1)
	acq2 := domain.NewDate(2024, 6, 1)
	require.NoError(t, repo.Create(&domain.HoldingLot{
		AccountID: "acct-1", SecurityID: "sec-aapl", Ticker: "AAPL",
		AcquisitionDate:  &acq1,
		CostBasisPerUnit: decimal.NewFromInt(120),
		OriginalQuantity: decimal.NewFromInt(40),
		CurrentQuantity:  decimal.NewFromInt(40),
		Source:           domain.LotSourceActivity,
	}))
	require.NoError(t, repo.Create(&domain.HoldingLot{
		AccountID: "acct-1", SecurityID: "sec-aapl", Ticker: "AAPL",
		AcquisitionDate:  &acq2,
		CostBasisPerUnit: decimal.NewFromInt(140),
		OriginalQuantity: decimal.NewFromInt(60),
		CurrentQuantity:  decimal.NewFromInt(60),
		Source:           domain.LotSourceActivity,
	}))

	prev := &SnapshotInput{
		Timestamp: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 100, 150)},
	}
	curr := SnapshotInput{
		Timestamp: time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 50, 155)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))

	lots, err := repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, lots, 2)

	assert.True(t, lots[0].CurrentQuantity.IsZero())
	assert.True(t, lots[0].IsClosed)
	assert.True(t, lots[1].CurrentQuantity.Equal(decimal.NewFromInt(50)))
	assert.False(t, lots[1].IsClosed)

	disposals, err := repo.GetDisposalsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, disposals, 2)
	assert.Equal(t, disposals[0].DisposalGroupID, disposals[1].DisposalGroupID)
	assert.True(t, disposals[0].Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, disposals[1].Quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, domain.DisposalInferred, disposals[0].Source)
	assert.True(t, disposals[0].ProceedsPerUnit.Equal(decimal.NewFromInt(155)))
}

func TestReconcileFullSellMatchesSingleSellActivity(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, actRepo := newTestReconciler(t, db)

	prevTime := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	currTime := time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC)

	prev := &SnapshotInput{
		Timestamp: prevTime,
		Holdings:  []domain.Holding{holding("sec-msft", "MSFT", 25, 400)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, *prev, nil))

	units := decimal.NewFromInt(25)
	price := decimal.NewFromInt(410)
	ticker := "MSFT"
	sell := &domain.Activity{
		AccountID:    "acct-1",
		ProviderName: "TestProvider",
		ExternalID:   "ext-sell-1",
		ActivityDate: time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC),
		Type:         domain.ActivitySell,
		Amount:       units.Mul(price),
		Ticker:       &ticker,
		Units:        &units,
		Price:        &price,
		Currency:     "USD",
	}
	require.NoError(t, actRepo.Create(sell))

	curr := SnapshotInput{
		Timestamp: currTime,
		Holdings:  nil, // position fully removed
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))

	disposals, err := repo.GetDisposalsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	assert.Equal(t, domain.DisposalActivity, disposals[0].Source)
	require.NotNil(t, disposals[0].ActivityID)
	assert.Equal(t, sell.ID, *disposals[0].ActivityID)
	assert.True(t, disposals[0].ProceedsPerUnit.Equal(decimal.NewFromInt(410)))
	assert.Equal(t, "2025-01-11", disposals[0].DisposalDate.String())
}

func TestReconcileSeedsShortfallBeforeDisposing(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, _ := newTestReconciler(t, db)

	// No existing lots: reconciliation is first to see historical quantity.
	// Phase 1 seeds prev.qty, then Phase 2 disposes part of it.
	prev := &SnapshotInput{
		Timestamp: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-voo", "VOO", 10, 500)},
	}
	curr := SnapshotInput{
		Timestamp: time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-voo", "VOO", 4, 505)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))

	lots, err := repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, domain.LotSourceInitial, lots[0].Source)
	assert.True(t, lots[0].CurrentQuantity.Equal(decimal.NewFromInt(4)))

	disposals, err := repo.GetDisposalsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	assert.True(t, disposals[0].Quantity.Equal(decimal.NewFromInt(6)))
}

func TestReconcileIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, _ := newTestReconciler(t, db)

	prev := &SnapshotInput{
		Timestamp: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 100, 150)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, *prev, nil))
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, *prev, nil))

	lots, err := repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	assert.Len(t, lots, 1, "rerun must not create new lots")

	// Same (prev, curr) pair with zero delta is also a no-op.
	curr := SnapshotInput{
		Timestamp: time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 100, 151)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))

	lots, err = repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	assert.Len(t, lots, 1)

	disposals, err := repo.GetDisposalsForAccount("acct-1")
	require.NoError(t, err)
	assert.Empty(t, disposals)
}

func TestReconcileProviderCostBasisWins(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, _ := newTestReconciler(t, db)

	curr := SnapshotInput{
		Timestamp: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 10, 150)},
	}
	basis := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(95)}
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, curr, basis))

	lots, err := repo.GetLotsForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].CostBasisPerUnit.Equal(decimal.NewFromInt(95)))
}

func TestSummarizeAccount(t *testing.T) {
	db := setupTestDB(t)
	rec, repo, _ := newTestReconciler(t, db)

	prev := &SnapshotInput{
		Timestamp: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 10, 100)},
	}
	curr := SnapshotInput{
		Timestamp: time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC),
		Holdings:  []domain.Holding{holding("sec-aapl", "AAPL", 6, 110)},
	}
	require.NoError(t, rec.ReconcileAccount("acct-1", nil, *prev, nil))
	require.NoError(t, rec.ReconcileAccount("acct-1", prev, curr, nil))

	summaries, err := repo.SummarizeAccount("acct-1")
	require.NoError(t, err)
	require.Contains(t, summaries, "sec-aapl")

	s := summaries["sec-aapl"]
	assert.True(t, s.OpenQuantity.Equal(decimal.NewFromInt(6)))
	assert.True(t, s.CostBasis.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, 1, s.OpenLotCount)
	// Sold 4 @ 110 against cost 100: realized gain 40.
	assert.True(t, s.RealizedGain.Equal(decimal.NewFromInt(40)))
}
