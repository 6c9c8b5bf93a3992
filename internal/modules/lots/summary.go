package lots

import (
	"github.com/shopspring/decimal"
)

// SecuritySummary aggregates an account's lots for one security.
type SecuritySummary struct {
	SecurityID     string          `json:"security_id"`
	Ticker         string          `json:"ticker"`
	OpenQuantity   decimal.Decimal `json:"open_quantity"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	AvgCostPerUnit decimal.Decimal `json:"avg_cost_per_unit"`
	OpenLotCount   int             `json:"open_lot_count"`
	RealizedGain   decimal.Decimal `json:"realized_gain"`
}

// SummarizeAccount rolls up open-lot cost basis and realized gains per
// security. Unrealized gain is the caller's job since it needs a market
// close.
func (r *Repository) SummarizeAccount(accountID string) (map[string]SecuritySummary, error) {
	lots, err := r.GetLotsForAccount(accountID)
	if err != nil {
		return nil, err
	}
	realized, err := r.RealizedGainBySecurity(accountID)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]SecuritySummary)
	for _, lot := range lots {
		s := summaries[lot.SecurityID]
		s.SecurityID = lot.SecurityID
		s.Ticker = lot.Ticker
		if !lot.IsClosed {
			s.OpenQuantity = s.OpenQuantity.Add(lot.CurrentQuantity)
			s.CostBasis = s.CostBasis.Add(lot.CurrentQuantity.Mul(lot.CostBasisPerUnit))
			s.OpenLotCount++
		}
		summaries[lot.SecurityID] = s
	}
	for securityID, gain := range realized {
		s := summaries[securityID]
		s.SecurityID = securityID
		s.RealizedGain = gain
		summaries[securityID] = s
	}
	for securityID, s := range summaries {
		if s.OpenQuantity.IsPositive() {
			s.AvgCostPerUnit = s.CostBasis.Div(s.OpenQuantity).Round(4)
			summaries[securityID] = s
		}
	}
	return summaries, nil
}
