package returns

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXIRRSimpleGrowth(t *testing.T) {
	// 10000 -> 11000 over a full year with no flows: exactly 10%.
	r, ok := xirr(10000, 11000, 365, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.10, r, 1e-6)
}

func TestXIRRWithDeposit(t *testing.T) {
	// Start 10000, deposit 5000 on day 10, end 16000 on day 30. Nominal
	// growth beyond the deposit is only 1000, but the money-weighted return
	// is positive.
	r, ok := xirr(10000, 16000, 30, []cashFlow{{days: 10, amount: 5000}})
	require.True(t, ok)
	assert.Greater(t, r, 0.0)

	// The solution satisfies the value equation.
	f := 10000*math.Pow(1+r, 30.0/365) + 5000*math.Pow(1+r, 20.0/365) - 16000
	assert.InDelta(t, 0, f, 1e-6)
}

func TestXIRRWithWithdrawal(t *testing.T) {
	// Start 10000, withdraw 2000 on day 15, end 8500 on day 30: the account
	// gained value despite the nominal drop.
	r, ok := xirr(10000, 8500, 30, []cashFlow{{days: 15, amount: -2000}})
	require.True(t, ok)
	assert.Greater(t, r, 0.0)
}

func TestXIRRLoss(t *testing.T) {
	r, ok := xirr(10000, 9000, 365, nil)
	require.True(t, ok)
	assert.InDelta(t, -0.10, r, 1e-6)
}

func TestXIRRNonConvergence(t *testing.T) {
	// Total loss: the root is at r = -1, the singularity. Must not converge.
	_, ok := xirr(10000, 0, 30, nil)
	assert.False(t, ok)

	// Degenerate window.
	_, ok = xirr(10000, 11000, 0, nil)
	assert.False(t, ok)
}
