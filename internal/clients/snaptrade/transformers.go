package snaptrade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
)

// activityTypeMap translates SnapTrade activity type codes.
var activityTypeMap = map[string]domain.ActivityType{
	"BUY":            domain.ActivityBuy,
	"SELL":           domain.ActivitySell,
	"DIVIDEND":       domain.ActivityDividend,
	"INTEREST":       domain.ActivityInterest,
	"CONTRIBUTION":   domain.ActivityDeposit,
	"DEPOSIT":        domain.ActivityDeposit,
	"WITHDRAWAL":     domain.ActivityWithdrawal,
	"TRANSFER":       domain.ActivityTransfer,
	"REI":            domain.ActivityBuy, // dividend reinvestment
	"FEE":            domain.ActivityFee,
	"TAX":            domain.ActivityTax,
	"STOCK_DIVIDEND": domain.ActivityReceive,
}

func transformAccount(a apiAccount) domain.ProviderAccount {
	return domain.ProviderAccount{
		ID:            a.ID,
		Name:          a.Name,
		Institution:   a.Institution,
		AccountNumber: a.Number,
	}
}

// balanceDate parses the holdings sync timestamp the API reports per
// account. The staleness gate compares it against the stored one.
func balanceDate(a apiAccount) *time.Time {
	raw := a.SyncStatus.Holdings.LastSuccessfulSync
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func transformPosition(accountID string, p apiPosition) (domain.ProviderHolding, bool) {
	symbol := strings.TrimSpace(p.Symbol.Symbol.Symbol)
	if symbol == "" {
		symbol = strings.TrimSpace(p.Symbol.Symbol.RawSymbol)
	}
	if symbol == "" {
		return domain.ProviderHolding{}, false
	}

	units := decimal.NewFromFloat(p.Units)
	if p.FractionalUnits != nil && units.IsZero() {
		units = decimal.NewFromFloat(*p.FractionalUnits)
	}
	price := decimal.NewFromFloat(p.Price)

	ph := domain.ProviderHolding{
		AccountID:   accountID,
		Symbol:      symbol,
		Quantity:    units,
		Price:       price,
		MarketValue: units.Mul(price).Round(2),
		Currency:    p.Symbol.Symbol.Currency.Code,
		Name:        p.Symbol.Symbol.Description,
	}
	if p.AverageEntryPrice != nil {
		cost := decimal.NewFromFloat(*p.AverageEntryPrice).Mul(units).Round(2)
		ph.CostBasis = &cost
	}
	return ph, true
}

func transformBalance(accountID string, b apiBalance) (domain.ProviderHolding, bool) {
	cash := decimal.NewFromFloat(b.Cash)
	if cash.IsZero() {
		return domain.ProviderHolding{}, false
	}
	currency := b.Currency.Code
	if currency == "" {
		currency = "USD"
	}
	return domain.ProviderHolding{
		AccountID:   accountID,
		Symbol:      domain.CashTickerPrefix + strings.ToUpper(currency),
		Quantity:    cash,
		Price:       decimal.NewFromInt(1),
		MarketValue: cash,
		Currency:    currency,
		Name:        "Cash (" + strings.ToUpper(currency) + ")",
	}, true
}

func transformActivity(a apiActivity) (domain.ProviderActivity, bool) {
	if a.Account.ID == "" || a.ID == "" {
		return domain.ProviderActivity{}, false
	}

	actType, ok := activityTypeMap[strings.ToUpper(a.Type)]
	if !ok {
		actType = domain.ActivityOther
	}

	var when time.Time
	if a.TradeDate != nil {
		if t, err := parseAPITime(*a.TradeDate); err == nil {
			when = t
		}
	}
	if when.IsZero() && a.SettlementDate != nil {
		if t, err := parseAPITime(*a.SettlementDate); err == nil {
			when = t
		}
	}
	if when.IsZero() {
		return domain.ProviderActivity{}, false
	}

	amount := decimal.Zero
	if a.Amount != nil {
		amount = decimal.NewFromFloat(*a.Amount)
	}

	act := domain.ProviderActivity{
		AccountID:    a.Account.ID,
		ExternalID:   a.ID,
		ActivityDate: when,
		Type:         actType,
		Amount:       amount,
		Currency:     a.Currency.Code,
	}
	if a.Symbol != nil && a.Symbol.Symbol != "" {
		ticker := a.Symbol.Symbol
		act.Ticker = &ticker
	}
	if a.Units != 0 {
		units := decimal.NewFromFloat(a.Units)
		act.Units = &units
	}
	if a.Price != 0 {
		price := decimal.NewFromFloat(a.Price)
		act.Price = &price
	}
	if a.Fee != 0 {
		fee := decimal.NewFromFloat(a.Fee)
		act.Fee = &fee
	}
	if a.Description != "" {
		desc := a.Description
		act.Description = &desc
	}
	if a.SettlementDate != nil {
		if t, err := parseAPITime(*a.SettlementDate); err == nil {
			act.SettlementDate = &t
		}
	}
	return act, true
}

func parseAPITime(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
