// Package allocation rolls the latest daily valuations up by asset class.
package allocation

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// Row is one latest-date valuation row joined with the asset class
// assignments that apply to it. The security's manual assignment wins over
// the account's.
type Row struct {
	AccountID            string
	SecurityID           string
	Ticker               string
	SecurityName         string
	Quantity             decimal.Decimal
	ClosePrice           decimal.Decimal
	MarketValue          decimal.Decimal
	ValuationDate        domain.Date
	ManualAssetClassID   *string
	AssignedAssetClassID *string
}

// ClassID resolves the asset class the row belongs to, or "" when neither
// the security nor the account carries an assignment.
func (r Row) ClassID() string {
	if r.ManualAssetClassID != nil {
		return *r.ManualAssetClassID
	}
	if r.AssignedAssetClassID != nil {
		return *r.AssignedAssetClassID
	}
	return ""
}

// Repository reads the valuation rows the allocation rollup is built from
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new allocation repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "allocation").Logger(),
	}
}

// EligibleLatestRows returns every account's most recent valuation rows,
// restricted to active accounts flagged include_in_allocation. Each account
// contributes rows at its own latest date; accounts fall out of sync at
// different times and the rollup should not drop one for being a day behind.
func (r *Repository) EligibleLatestRows() ([]Row, error) {
	rows, err := r.q.Query(`SELECT d.account_id, d.security_id, d.ticker, s.name,
			d.quantity, d.close_price, d.market_value, d.valuation_date,
			s.manual_asset_class_id, a.assigned_asset_class_id
		FROM daily_holding_values d
		JOIN (
			SELECT account_id, MAX(valuation_date) AS latest
			FROM daily_holding_values
			GROUP BY account_id
		) m ON m.account_id = d.account_id AND m.latest = d.valuation_date
		JOIN accounts a ON a.id = d.account_id
		JOIN securities s ON s.id = d.security_id
		WHERE a.is_active = 1 AND a.include_in_allocation = 1
		ORDER BY d.account_id, d.ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation rows: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var row Row
		var dateStr, qty, price, value string
		var manual, assigned sql.NullString
		if err := rows.Scan(&row.AccountID, &row.SecurityID, &row.Ticker, &row.SecurityName,
			&qty, &price, &value, &dateStr, &manual, &assigned); err != nil {
			return nil, fmt.Errorf("failed to scan allocation row: %w", err)
		}
		if row.Quantity, err = database.ScanDec(qty); err != nil {
			return nil, err
		}
		if row.ClosePrice, err = database.ScanDec(price); err != nil {
			return nil, err
		}
		if row.MarketValue, err = database.ScanDec(value); err != nil {
			return nil, err
		}
		if row.ValuationDate, err = domain.ParseDate(dateStr); err != nil {
			return nil, err
		}
		if manual.Valid {
			id := manual.String
			row.ManualAssetClassID = &id
		}
		if assigned.Valid {
			id := assigned.String
			row.AssignedAssetClassID = &id
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocation rows: %w", err)
	}
	return result, nil
}
