package returns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/domain"
)

func TestResolvePeriodTrailingWindows(t *testing.T) {
	today := domain.NewDate(2025, 4, 1) // yesterday = Mar 31

	cases := []struct {
		period string
		start  string
		end    string
	}{
		{"1D", "2025-03-30", "2025-03-31"},
		{"1M", "2025-02-28", "2025-03-31"}, // month subtraction clamps
		{"3M", "2024-12-31", "2025-03-31"},
		{"QTD", "2024-12-31", "2025-03-31"},
		{"YTD", "2024-12-31", "2025-03-31"},
		{"1Y", "2024-03-31", "2025-03-31"},
		{"3Y", "2022-03-31", "2025-03-31"},
		{"LQ", "2024-10-01", "2024-12-31"},
		{"LY", "2024-01-01", "2024-12-31"},
	}
	for _, tc := range cases {
		start, end, err := ResolvePeriod(tc.period, today)
		require.NoError(t, err, tc.period)
		assert.Equal(t, tc.start, start.String(), tc.period)
		assert.Equal(t, tc.end, end.String(), tc.period)
	}
}

func TestResolvePeriodLeapFebruary(t *testing.T) {
	today := domain.NewDate(2024, 3, 31) // yesterday = Mar 30, leap year
	start, _, err := ResolvePeriod("1M", today)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", start.String())
}

func TestResolvePeriodMidQuarter(t *testing.T) {
	today := domain.NewDate(2025, 8, 15) // yesterday = Aug 14, Q3

	start, end, err := ResolvePeriod("QTD", today)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-30", start.String())
	assert.Equal(t, "2025-08-14", end.String())

	start, end, err = ResolvePeriod("LQ", today)
	require.NoError(t, err)
	assert.Equal(t, "2025-04-01", start.String())
	assert.Equal(t, "2025-06-30", end.String())
}

func TestResolvePeriodRejectsUnknown(t *testing.T) {
	_, _, err := ResolvePeriod("5Y", domain.NewDate(2025, 4, 1))
	require.Error(t, err)
	_, _, err = ResolvePeriod("", domain.NewDate(2025, 4, 1))
	require.Error(t, err)
}
