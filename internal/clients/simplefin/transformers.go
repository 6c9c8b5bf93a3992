package simplefin

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
)

// cashThreshold is the smallest derived cash balance worth reporting as a
// holding; anything below it is rounding noise.
var cashThreshold = decimal.NewFromFloat(0.005)

// connectionErrPattern matches the bridge's per-institution soft errors,
// e.g. "Connection to Vanguard may need attention".
var connectionErrPattern = regexp.MustCompile(`^Connection to (.+?) may need attention`)

// syntheticSymbol builds the stable _SF:{hex8} ticker for holdings the
// bridge reports without a public symbol (target-date funds, 529 plans).
func syntheticSymbol(holdingID string) string {
	sum := sha1.Sum([]byte(holdingID))
	return domain.SimpleFINTickerPrefix + hex.EncodeToString(sum[:4])
}

// transform maps a bridge account set to the uniform provider result.
func transform(set *accountSet) *domain.ProviderSyncResult {
	result := &domain.ProviderSyncResult{
		BalanceDates: make(map[string]*time.Time),
	}

	for _, msg := range set.Errors {
		syncErr := domain.ProviderSyncError{Message: msg, Category: "connection", Retriable: true}
		if m := connectionErrPattern.FindStringSubmatch(msg); m != nil {
			syncErr.InstitutionName = m[1]
		}
		result.Errors = append(result.Errors, syncErr)
	}

	for _, acct := range set.Accounts {
		result.Accounts = append(result.Accounts, domain.ProviderAccount{
			ID:          acct.ID,
			Name:        acct.Name,
			Institution: acct.Org.Name,
		})
		if acct.BalanceDate > 0 {
			t := time.Unix(acct.BalanceDate, 0).UTC()
			result.BalanceDates[acct.ID] = &t
		}

		currency := acct.Currency
		if currency == "" {
			currency = "USD"
		}

		invested := decimal.Zero
		for _, h := range acct.Holdings {
			ph, ok := transformHolding(acct.ID, h, currency)
			if !ok {
				continue
			}
			invested = invested.Add(ph.MarketValue)
			result.Holdings = append(result.Holdings, ph)
		}

		// The bridge's balance is the whole account; anything not
		// covered by holdings is cash.
		if balance, err := decimal.NewFromString(acct.Balance); err == nil {
			cash := balance.Sub(invested)
			if cash.GreaterThan(cashThreshold) {
				result.Holdings = append(result.Holdings, domain.ProviderHolding{
					AccountID:   acct.ID,
					Symbol:      domain.CashTickerPrefix + strings.ToUpper(currency),
					Quantity:    cash,
					Price:       decimal.NewFromInt(1),
					MarketValue: cash,
					Currency:    currency,
					Name:        "Cash (" + strings.ToUpper(currency) + ")",
				})
			}
		}

		for _, tx := range acct.Txns {
			if tx.Pending {
				continue
			}
			act, ok := transformTransaction(acct.ID, tx, currency)
			if !ok {
				continue
			}
			result.Activities = append(result.Activities, act)
		}
	}

	return result
}

func transformHolding(accountID string, h holding, fallbackCurrency string) (domain.ProviderHolding, bool) {
	shares, err := decimal.NewFromString(h.Shares)
	if err != nil {
		return domain.ProviderHolding{}, false
	}
	value, err := decimal.NewFromString(h.MarketValue)
	if err != nil {
		return domain.ProviderHolding{}, false
	}

	symbol := strings.TrimSpace(h.Symbol)
	if symbol == "" {
		symbol = syntheticSymbol(h.ID)
	}

	price := decimal.Zero
	if !shares.IsZero() {
		price = value.Div(shares).Round(8)
	}

	currency := h.Currency
	if currency == "" {
		currency = fallbackCurrency
	}

	ph := domain.ProviderHolding{
		AccountID:   accountID,
		Symbol:      symbol,
		Quantity:    shares,
		Price:       price,
		MarketValue: value,
		Currency:    currency,
		Name:        h.Description,
	}
	if cost, err := decimal.NewFromString(h.CostBasis); err == nil && cost.IsPositive() {
		ph.CostBasis = &cost
	}
	return ph, true
}

// transformTransaction classifies a bridge transaction. The bridge has no
// trade detail, so everything resolves to an external cash flow or income.
func transformTransaction(accountID string, tx transaction, currency string) (domain.ProviderActivity, bool) {
	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return domain.ProviderActivity{}, false
	}

	actType := domain.ActivityDeposit
	desc := strings.ToLower(tx.Description)
	switch {
	case strings.Contains(desc, "dividend"):
		actType = domain.ActivityDividend
	case strings.Contains(desc, "interest"):
		actType = domain.ActivityInterest
	case amount.IsNegative():
		actType = domain.ActivityWithdrawal
	}

	description := tx.Description
	return domain.ProviderActivity{
		AccountID:    accountID,
		ExternalID:   tx.ID,
		ActivityDate: time.Unix(tx.Posted, 0).UTC(),
		Type:         actType,
		Amount:       amount,
		Currency:     currency,
		Description:  &description,
	}, true
}
