package domain

import "strings"

// ZeroBalanceTicker marks "account existed this day but held nothing" in
// the daily valuation table. It never appears in snapshots or lot queries.
const ZeroBalanceTicker = "_ZERO_BALANCE"

// Synthetic ticker prefixes. Holdings carrying these never hit market data.
const (
	CashTickerPrefix      = "_CASH:" // derived cash holdings, e.g. _CASH:USD
	SimpleFINTickerPrefix = "_SF:"   // stable hash for holdings without a public ticker
	ManualTickerPrefix    = "_MAN:"  // manual-account synthetic holdings
)

// cashEquivalentTickers are money-market and cash symbols priced at 1.00.
var cashEquivalentTickers = map[string]struct{}{
	"USD":   {},
	"CASH":  {},
	"CAD":   {},
	"SPAXX": {},
	"FDRXX": {},
	"SWVXX": {},
	"VMFXX": {},
	"FZFXX": {},
}

// IsCashEquivalent reports whether ticker is always priced at 1.00 in its
// quote currency.
func IsCashEquivalent(ticker string) bool {
	if strings.HasPrefix(ticker, CashTickerPrefix) {
		return true
	}
	_, ok := cashEquivalentTickers[strings.ToUpper(ticker)]
	return ok
}

// IsMarketTicker reports whether ticker should be included in market-data
// fetches. Sentinels, cash equivalents, and synthetic symbols are excluded.
func IsMarketTicker(ticker string) bool {
	if ticker == ZeroBalanceTicker {
		return false
	}
	if IsCashEquivalent(ticker) {
		return false
	}
	if strings.HasPrefix(ticker, ManualTickerPrefix) || strings.HasPrefix(ticker, SimpleFINTickerPrefix) {
		return false
	}
	return true
}
