package simplefin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/domain"
)

func TestTransformDerivesCashFromBalance(t *testing.T) {
	set := &accountSet{
		Accounts: []account{
			{
				ID:          "ACT-1",
				Name:        "Brokerage",
				Currency:    "USD",
				Balance:     "1500.00",
				BalanceDate: 1700000000,
				Org:         org{Name: "Vanguard"},
				Holdings: []holding{
					{ID: "H-1", Symbol: "VTI", Shares: "5", MarketValue: "1100.00", CostBasis: "900.00"},
				},
			},
		},
	}

	result := transform(set)
	require.Len(t, result.Holdings, 2)

	vti := result.Holdings[0]
	assert.Equal(t, "VTI", vti.Symbol)
	assert.Equal(t, "220", vti.Price.String())
	require.NotNil(t, vti.CostBasis)
	assert.Equal(t, "900", vti.CostBasis.String())

	cash := result.Holdings[1]
	assert.Equal(t, "_CASH:USD", cash.Symbol)
	assert.Equal(t, "400", cash.Quantity.String())
	assert.Equal(t, "400", cash.MarketValue.String())

	require.Contains(t, result.BalanceDates, "ACT-1")
	assert.Equal(t, int64(1700000000), result.BalanceDates["ACT-1"].Unix())
}

func TestTransformSyntheticSymbolIsStable(t *testing.T) {
	h := holding{ID: "H-target-date", Shares: "10", MarketValue: "250.00", Description: "Target 2050"}

	first, ok := transformHolding("ACT-1", h, "USD")
	require.True(t, ok)
	second, ok := transformHolding("ACT-1", h, "USD")
	require.True(t, ok)

	assert.Equal(t, first.Symbol, second.Symbol)
	assert.True(t, strings.HasPrefix(first.Symbol, "_SF:"))
	assert.Len(t, first.Symbol, len("_SF:")+8)
	assert.False(t, domain.IsMarketTicker(first.Symbol))
}

func TestTransformParsesInstitutionFromSoftError(t *testing.T) {
	set := &accountSet{
		Errors: []string{
			"Connection to Fidelity may need attention",
			"something else entirely",
		},
	}

	result := transform(set)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "Fidelity", result.Errors[0].InstitutionName)
	assert.Empty(t, result.Errors[1].InstitutionName)
}

func TestTransformClassifiesTransactions(t *testing.T) {
	set := &accountSet{
		Accounts: []account{
			{
				ID:       "ACT-1",
				Currency: "USD",
				Balance:  "0",
				Txns: []transaction{
					{ID: "TX-1", Posted: 1700000000, Amount: "500.00", Description: "ACH transfer in"},
					{ID: "TX-2", Posted: 1700000000, Amount: "-200.00", Description: "Withdrawal"},
					{ID: "TX-3", Posted: 1700000000, Amount: "12.34", Description: "Dividend VTI"},
					{ID: "TX-4", Posted: 1700000000, Amount: "1.00", Description: "Pending thing", Pending: true},
				},
			},
		},
	}

	result := transform(set)
	require.Len(t, result.Activities, 3)
	assert.Equal(t, domain.ActivityDeposit, result.Activities[0].Type)
	assert.Equal(t, domain.ActivityWithdrawal, result.Activities[1].Type)
	assert.Equal(t, domain.ActivityDividend, result.Activities[2].Type)
}
