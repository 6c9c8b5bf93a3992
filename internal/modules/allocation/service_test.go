package allocation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string { return &s }

func TestRollUpBucketsByResolvedClass(t *testing.T) {
	classes := []domain.AssetClass{
		{ID: "ac-eq", Name: "Equities", TargetPercent: decPtr("70")},
		{ID: "ac-fi", Name: "Fixed Income"},
	}
	rows := []Row{
		// Security-level assignment wins over the account's.
		{AccountID: "a1", SecurityID: "s1", Ticker: "VTI", MarketValue: dec("6000"),
			ManualAssetClassID: strPtr("ac-eq"), AssignedAssetClassID: strPtr("ac-fi")},
		{AccountID: "a1", SecurityID: "s2", Ticker: "BND", MarketValue: dec("2000"),
			AssignedAssetClassID: strPtr("ac-fi")},
		{AccountID: "a2", SecurityID: "s3", Ticker: "_CASH:USD", MarketValue: dec("2000")},
	}

	summary := rollUp(rows, classes)

	assert.Equal(t, "10000", summary.TotalValue.String())
	require.Len(t, summary.Classes, 2)

	eq := summary.Classes[0]
	assert.Equal(t, "Equities", eq.Name)
	assert.Equal(t, "6000", eq.Value.String())
	assert.Equal(t, "60", eq.CurrentPercent.String())
	require.NotNil(t, eq.Deviation)
	assert.Equal(t, "-10", eq.Deviation.String())

	fi := summary.Classes[1]
	assert.Equal(t, "Fixed Income", fi.Name)
	assert.Equal(t, "2000", fi.Value.String())
	assert.Nil(t, fi.Deviation)

	assert.Equal(t, "2000", summary.Unassigned.Value.String())
	assert.Equal(t, "20", summary.Unassigned.CurrentPercent.String())
}

func TestRollUpValuesSumToTotal(t *testing.T) {
	classes := []domain.AssetClass{
		{ID: "ac-1", Name: "One"},
		{ID: "ac-2", Name: "Two"},
	}
	rows := []Row{
		{SecurityID: "s1", Ticker: "AAA", MarketValue: dec("123.45"), ManualAssetClassID: strPtr("ac-1")},
		{SecurityID: "s2", Ticker: "BBB", MarketValue: dec("0.55"), AssignedAssetClassID: strPtr("ac-2")},
		{SecurityID: "s3", Ticker: "CCC", MarketValue: dec("876.00")},
		// Reference to a deleted class falls into the unassigned bucket.
		{SecurityID: "s4", Ticker: "DDD", MarketValue: dec("50"), ManualAssetClassID: strPtr("ac-gone")},
		{SecurityID: "s5", Ticker: domain.ZeroBalanceTicker, MarketValue: dec("0")},
	}

	summary := rollUp(rows, classes)

	sum := summary.Unassigned.Value
	for _, c := range summary.Classes {
		sum = sum.Add(c.Value)
	}
	assert.True(t, sum.Equal(summary.TotalValue), "classes + unassigned = %s, total = %s", sum, summary.TotalValue)
	assert.Equal(t, "926", summary.Unassigned.Value.String())
}

func TestRollUpEmptyPortfolio(t *testing.T) {
	summary := rollUp(nil, []domain.AssetClass{{ID: "ac-1", Name: "One"}})

	assert.True(t, summary.TotalValue.IsZero())
	require.Len(t, summary.Classes, 1)
	assert.True(t, summary.Classes[0].CurrentPercent.IsZero())
}
