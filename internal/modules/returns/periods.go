// Package returns computes money-weighted (XIRR) returns over named
// calendar windows.
package returns

import (
	"fmt"
	"time"

	"github.com/aristath/moneta/internal/domain"
)

// DefaultPeriods is the window set computed when the caller names none.
var DefaultPeriods = []string{"1D", "1M", "3M", "QTD", "YTD", "1Y", "3Y", "LQ", "LY"}

// ResolvePeriod maps a period name to its [start, end] date pair relative
// to today. Trailing windows end yesterday; month subtraction clamps to the
// last day of the target month, so Mar 31 minus one month is Feb 28/29.
func ResolvePeriod(period string, today domain.Date) (start, end domain.Date, err error) {
	yesterday := today.AddDays(-1)

	switch period {
	case "1D":
		return yesterday.AddDays(-1), yesterday, nil
	case "1M":
		return yesterday.AddMonths(-1), yesterday, nil
	case "3M":
		return yesterday.AddMonths(-3), yesterday, nil
	case "QTD":
		return quarterStart(yesterday).AddDays(-1), yesterday, nil
	case "YTD":
		return domain.NewDate(yesterday.Year-1, 12, 31), yesterday, nil
	case "1Y":
		return yesterday.AddYears(-1), yesterday, nil
	case "3Y":
		return yesterday.AddYears(-3), yesterday, nil
	case "LQ":
		currStart := quarterStart(yesterday)
		return currStart.AddMonths(-3), currStart.AddDays(-1), nil
	case "LY":
		return domain.NewDate(yesterday.Year-1, 1, 1), domain.NewDate(yesterday.Year-1, 12, 31), nil
	default:
		return domain.Date{}, domain.Date{}, fmt.Errorf("unknown period %q", period)
	}
}

// quarterStart returns the first day of d's calendar quarter.
func quarterStart(d domain.Date) domain.Date {
	firstMonth := ((int(d.Month)-1)/3)*3 + 1
	return domain.NewDate(d.Year, time.Month(firstMonth), 1)
}
