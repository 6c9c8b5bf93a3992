package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
)

// PriceBook is a dense daily close-price lookup built from sparse market
// history. Every calendar day in [start, end] carries the most recent close
// at or before it, so weekends and holidays inherit Friday's close. Days
// before a symbol's first price have no entry.
type PriceBook struct {
	prices map[string]map[domain.Date]decimal.Decimal
}

// NewPriceBook densifies the given history across [start, end].
func NewPriceBook(history map[string][]domain.PricePoint, start, end domain.Date) *PriceBook {
	pb := &PriceBook{prices: make(map[string]map[domain.Date]decimal.Decimal, len(history))}

	for symbol, points := range history {
		if len(points) == 0 {
			continue
		}

		sorted := make([]domain.PricePoint, len(points))
		copy(sorted, points)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Date.Before(sorted[j].Date)
		})

		dense := make(map[domain.Date]decimal.Decimal)
		idx := 0
		var last *decimal.Decimal

		// Seed with the most recent price at or before the range start.
		for idx < len(sorted) && !sorted[idx].Date.After(start) {
			p := sorted[idx].Close
			last = &p
			idx++
		}

		for day := start; !day.After(end); day = day.AddDays(1) {
			for idx < len(sorted) && !sorted[idx].Date.After(day) {
				p := sorted[idx].Close
				last = &p
				idx++
			}
			if last != nil {
				dense[day] = *last
			}
		}

		pb.prices[symbol] = dense
	}

	return pb
}

// Lookup returns the carried-forward close for (symbol, date).
func (pb *PriceBook) Lookup(symbol string, date domain.Date) (decimal.Decimal, bool) {
	dense, ok := pb.prices[symbol]
	if !ok {
		return decimal.Zero, false
	}
	price, ok := dense[date]
	return price, ok
}
