package allocation

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/securities"
)

// ClassAllocation is the rollup for one asset class.
type ClassAllocation struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Color          string           `json:"color"`
	TargetPercent  *decimal.Decimal `json:"target_percent,omitempty"`
	Value          decimal.Decimal  `json:"value"`
	CurrentPercent decimal.Decimal  `json:"current_percent"`
	Deviation      *decimal.Decimal `json:"deviation,omitempty"`
}

// Bucket holds value that resolves to no asset class.
type Bucket struct {
	Value          decimal.Decimal `json:"value"`
	CurrentPercent decimal.Decimal `json:"current_percent"`
}

// Summary is the portfolio-wide allocation view. Class values plus the
// unassigned bucket always sum to TotalValue.
type Summary struct {
	TotalValue decimal.Decimal   `json:"total_value"`
	Classes    []ClassAllocation `json:"classes"`
	Unassigned Bucket            `json:"unassigned"`
}

// ClassHolding is one security's aggregate within an asset class, summed
// across the accounts that hold it.
type ClassHolding struct {
	SecurityID  string          `json:"security_id"`
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name"`
	Quantity    decimal.Decimal `json:"quantity"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// Service computes allocation rollups from the latest daily valuations
type Service struct {
	repo       *Repository
	securities *securities.Repository
	log        zerolog.Logger
}

// NewService creates a new allocation service
func NewService(repo *Repository, securitiesRepo *securities.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		securities: securitiesRepo,
		log:        log.With().Str("service", "allocation").Logger(),
	}
}

// Summary returns the per-class rollup over allocation-eligible accounts
func (s *Service) Summary() (*Summary, error) {
	rows, err := s.repo.EligibleLatestRows()
	if err != nil {
		return nil, err
	}
	classes, err := s.securities.GetAssetClasses()
	if err != nil {
		return nil, err
	}
	return rollUp(rows, classes), nil
}

// HoldingsForClass returns the securities held within one asset class,
// aggregated across accounts. Lookup failures for the class itself are the
// handler's concern; an existing class with no holdings returns an empty
// slice.
func (s *Service) HoldingsForClass(classID string) ([]ClassHolding, error) {
	rows, err := s.repo.EligibleLatestRows()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*ClassHolding)
	for _, row := range rows {
		if row.Ticker == domain.ZeroBalanceTicker || row.ClassID() != classID {
			continue
		}
		h, ok := byID[row.SecurityID]
		if !ok {
			h = &ClassHolding{
				SecurityID: row.SecurityID,
				Ticker:     row.Ticker,
				Name:       row.SecurityName,
			}
			byID[row.SecurityID] = h
		}
		h.Quantity = h.Quantity.Add(row.Quantity)
		h.MarketValue = h.MarketValue.Add(row.MarketValue)
	}

	holdings := make([]ClassHolding, 0, len(byID))
	for _, h := range byID {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		if !holdings[i].MarketValue.Equal(holdings[j].MarketValue) {
			return holdings[i].MarketValue.GreaterThan(holdings[j].MarketValue)
		}
		return holdings[i].Ticker < holdings[j].Ticker
	})
	return holdings, nil
}

var hundred = decimal.NewFromInt(100)

// rollUp buckets rows by resolved asset class. Every row lands somewhere,
// so class values plus the unassigned bucket reproduce the portfolio total
// exactly.
func rollUp(rows []Row, classes []domain.AssetClass) *Summary {
	values := make(map[string]decimal.Decimal)
	total := decimal.Zero
	unassigned := decimal.Zero

	known := make(map[string]domain.AssetClass, len(classes))
	for _, c := range classes {
		known[c.ID] = c
	}

	for _, row := range rows {
		if row.Ticker == domain.ZeroBalanceTicker {
			continue
		}
		total = total.Add(row.MarketValue)
		id := row.ClassID()
		if _, ok := known[id]; !ok {
			// A dangling class reference counts as unassigned rather
			// than silently vanishing from the rollup.
			unassigned = unassigned.Add(row.MarketValue)
			continue
		}
		values[id] = values[id].Add(row.MarketValue)
	}

	summary := &Summary{
		TotalValue: total,
		Classes:    make([]ClassAllocation, 0, len(classes)),
		Unassigned: Bucket{Value: unassigned, CurrentPercent: percentOf(unassigned, total)},
	}
	for _, c := range classes {
		value := values[c.ID]
		alloc := ClassAllocation{
			ID:             c.ID,
			Name:           c.Name,
			Color:          c.Color,
			TargetPercent:  c.TargetPercent,
			Value:          value,
			CurrentPercent: percentOf(value, total),
		}
		if c.TargetPercent != nil {
			dev := alloc.CurrentPercent.Sub(*c.TargetPercent)
			alloc.Deviation = &dev
		}
		summary.Classes = append(summary.Classes, alloc)
	}
	sort.Slice(summary.Classes, func(i, j int) bool {
		if !summary.Classes[i].Value.Equal(summary.Classes[j].Value) {
			return summary.Classes[i].Value.GreaterThan(summary.Classes[j].Value)
		}
		return summary.Classes[i].Name < summary.Classes[j].Name
	})
	return summary
}

func percentOf(value, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return value.Div(total).Mul(hundred).Round(2)
}
