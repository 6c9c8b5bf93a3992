package snaptrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }

func TestTransformPosition(t *testing.T) {
	p := apiPosition{
		Units:             10,
		Price:             150.25,
		AverageEntryPrice: floatPtr(120),
	}
	p.Symbol.Symbol.Symbol = "AAPL"
	p.Symbol.Symbol.Description = "Apple Inc"
	p.Symbol.Symbol.Currency.Code = "USD"

	ph, ok := transformPosition("acct-1", p)
	require.True(t, ok)
	assert.Equal(t, "AAPL", ph.Symbol)
	assert.Equal(t, "10", ph.Quantity.String())
	assert.Equal(t, "1502.5", ph.MarketValue.String())
	require.NotNil(t, ph.CostBasis)
	assert.Equal(t, "1200", ph.CostBasis.String())
}

func TestTransformPositionWithoutSymbolIsDropped(t *testing.T) {
	_, ok := transformPosition("acct-1", apiPosition{Units: 3, Price: 10})
	assert.False(t, ok)
}

func TestTransformBalanceBuildsCashHolding(t *testing.T) {
	b := apiBalance{Cash: 2500.50}
	b.Currency.Code = "CAD"

	ph, ok := transformBalance("acct-1", b)
	require.True(t, ok)
	assert.Equal(t, "_CASH:CAD", ph.Symbol)
	assert.Equal(t, "2500.5", ph.Quantity.String())
	assert.True(t, domain.IsCashEquivalent(ph.Symbol))

	_, ok = transformBalance("acct-1", apiBalance{})
	assert.False(t, ok)
}

func TestTransformActivityMapsTypesAndDates(t *testing.T) {
	a := apiActivity{
		ID:        "act-ext-1",
		Type:      "CONTRIBUTION",
		TradeDate: strPtr("2025-03-10T14:30:00Z"),
		Amount:    floatPtr(500),
	}
	a.Account.ID = "acct-1"
	a.Currency.Code = "USD"

	act, ok := transformActivity(a)
	require.True(t, ok)
	assert.Equal(t, domain.ActivityDeposit, act.Type)
	assert.Equal(t, "2025-03-10", act.ActivityDate.Format("2006-01-02"))
	assert.Equal(t, "500", act.Amount.String())

	a.Type = "something-new"
	act, ok = transformActivity(a)
	require.True(t, ok)
	assert.Equal(t, domain.ActivityOther, act.Type)

	// No usable date means the row is dropped, not guessed.
	a.TradeDate = nil
	_, ok = transformActivity(a)
	assert.False(t, ok)
}
