package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PricePoint is one daily close for a symbol.
type PricePoint struct {
	Date  Date
	Close decimal.Decimal
}

// MarketDataService exposes the single query the valuation engine needs.
// The crypto symbol set lets the implementation route those tickers to a
// crypto price source instead of the equity one.
type MarketDataService interface {
	PriceHistory(ctx context.Context, symbols []string, cryptoSymbols map[string]struct{}, from, to Date) (map[string][]PricePoint, error)
}
