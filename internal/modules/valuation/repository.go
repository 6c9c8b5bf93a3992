// Package valuation maintains the dense daily holding-value table.
package valuation

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// Repository handles daily_holding_values database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new daily-value repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "daily_values").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

// Upsert writes one row, updating close_price and market_value on conflict.
// With updateAll, quantity and account_snapshot_id are overwritten too
// (same-day re-sync and repair runs).
func (r *Repository) Upsert(row domain.DailyHoldingValue, updateAll bool) error {
	update := `close_price = excluded.close_price, market_value = excluded.market_value`
	if updateAll {
		update += `, quantity = excluded.quantity, account_snapshot_id = excluded.account_snapshot_id, ticker = excluded.ticker`
	}

	_, err := r.q.Exec(`INSERT INTO daily_holding_values
		(valuation_date, account_id, account_snapshot_id, security_id, ticker, quantity, close_price, market_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(valuation_date, account_id, security_id) DO UPDATE SET `+update,
		row.ValuationDate.String(), row.AccountID, row.AccountSnapshotID, row.SecurityID,
		row.Ticker, database.Dec(row.Quantity), database.Dec(row.ClosePrice), database.Dec(row.MarketValue))
	if err != nil {
		return fmt.Errorf("failed to upsert daily value: %w", err)
	}
	return nil
}

// DeleteSentinel removes the zero-balance sentinel for (account, date), if
// present.
func (r *Repository) DeleteSentinel(accountID string, date domain.Date) error {
	_, err := r.q.Exec(`DELETE FROM daily_holding_values
		WHERE account_id = ? AND valuation_date = ? AND ticker = ?`,
		accountID, date.String(), domain.ZeroBalanceTicker)
	if err != nil {
		return fmt.Errorf("failed to delete sentinel: %w", err)
	}
	return nil
}

// DeleteRealRows removes all non-sentinel rows for (account, date)
func (r *Repository) DeleteRealRows(accountID string, date domain.Date) error {
	_, err := r.q.Exec(`DELETE FROM daily_holding_values
		WHERE account_id = ? AND valuation_date = ? AND ticker != ?`,
		accountID, date.String(), domain.ZeroBalanceTicker)
	if err != nil {
		return fmt.Errorf("failed to delete real daily values: %w", err)
	}
	return nil
}

// MaxDatesByAccount returns each account's latest valuation date
func (r *Repository) MaxDatesByAccount() (map[string]domain.Date, error) {
	rows, err := r.q.Query(`SELECT account_id, MAX(valuation_date)
		FROM daily_holding_values GROUP BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query max valuation dates: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Date)
	for rows.Next() {
		var accountID, dateStr string
		if err := rows.Scan(&accountID, &dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan max valuation date: %w", err)
		}
		d, err := domain.ParseDate(dateStr)
		if err != nil {
			return nil, err
		}
		result[accountID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating max valuation dates: %w", err)
	}
	return result, nil
}

// DatesForAccount returns the distinct valuation dates recorded for the
// account, ascending.
func (r *Repository) DatesForAccount(accountID string) ([]domain.Date, error) {
	rows, err := r.q.Query(`SELECT DISTINCT valuation_date FROM daily_holding_values
		WHERE account_id = ? ORDER BY valuation_date ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuation dates: %w", err)
	}
	defer rows.Close()

	var dates []domain.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan valuation date: %w", err)
		}
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating valuation dates: %w", err)
	}
	return dates, nil
}

// GetForAccountDate returns all rows for (account, date)
func (r *Repository) GetForAccountDate(accountID string, date domain.Date) ([]domain.DailyHoldingValue, error) {
	return r.queryRows(`SELECT valuation_date, account_id, account_snapshot_id, security_id,
			ticker, quantity, close_price, market_value
		FROM daily_holding_values
		WHERE account_id = ? AND valuation_date = ? ORDER BY ticker`, accountID, date.String())
}

// GetLatestForAccount returns the rows at the account's most recent
// valuation date, or nil if the account has no daily values.
func (r *Repository) GetLatestForAccount(accountID string) ([]domain.DailyHoldingValue, error) {
	return r.queryRows(`SELECT valuation_date, account_id, account_snapshot_id, security_id,
			ticker, quantity, close_price, market_value
		FROM daily_holding_values
		WHERE account_id = ?
		  AND valuation_date = (SELECT MAX(valuation_date) FROM daily_holding_values WHERE account_id = ?)
		ORDER BY ticker`, accountID, accountID)
}

// SumMarketValue sums market_value over the given accounts at one date.
// The zero-balance sentinel rows contribute zero, so they are harmless.
func (r *Repository) SumMarketValue(accountIDs []string, date domain.Date) (decimal.Decimal, error) {
	total := decimal.Zero
	if len(accountIDs) == 0 {
		return total, nil
	}

	placeholders := ""
	args := make([]interface{}, 0, len(accountIDs)+1)
	for i, id := range accountIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, date.String())

	rows, err := r.q.Query(`SELECT market_value FROM daily_holding_values
		WHERE account_id IN (`+placeholders+`) AND valuation_date = ?`, args...)
	if err != nil {
		return total, fmt.Errorf("failed to query market values: %w", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return total, fmt.Errorf("failed to scan market value: %w", err)
		}
		v, err := database.ScanDec(s)
		if err != nil {
			return total, err
		}
		total = total.Add(v)
		found = true
	}
	if err := rows.Err(); err != nil {
		return total, fmt.Errorf("error iterating market values: %w", err)
	}
	_ = found
	return total, nil
}

// HasRowsAt reports whether (account, date) has any daily value rows
func (r *Repository) HasRowsAt(accountID string, date domain.Date) (bool, error) {
	var n int
	err := r.q.QueryRow(`SELECT COUNT(*) FROM daily_holding_values
		WHERE account_id = ? AND valuation_date = ?`, accountID, date.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count daily values: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) queryRows(query string, args ...interface{}) ([]domain.DailyHoldingValue, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily values: %w", err)
	}
	defer rows.Close()

	var result []domain.DailyHoldingValue
	for rows.Next() {
		var row domain.DailyHoldingValue
		var dateStr, qty, price, value string
		if err := rows.Scan(&dateStr, &row.AccountID, &row.AccountSnapshotID,
			&row.SecurityID, &row.Ticker, &qty, &price, &value); err != nil {
			return nil, fmt.Errorf("failed to scan daily value: %w", err)
		}
		if row.ValuationDate, err = domain.ParseDate(dateStr); err != nil {
			return nil, err
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
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily values: %w", err)
	}
	return result, nil
}

// WriteTodayFromHoldings writes today's rows for a just-synced snapshot and
// removes any zero-balance sentinel for the day. Close prices fall back to
// snapshot prices until the next market-data backfill.
func (r *Repository) WriteTodayFromHoldings(accountID, snapshotID string, holdings []domain.Holding, today domain.Date) error {
	for _, h := range holdings {
		price := h.SnapshotPrice
		if domain.IsCashEquivalent(h.Ticker) {
			price = decimal.NewFromInt(1)
		}
		row := domain.DailyHoldingValue{
			ValuationDate:     today,
			AccountID:         accountID,
			AccountSnapshotID: snapshotID,
			SecurityID:        h.SecurityID,
			Ticker:            h.Ticker,
			Quantity:          h.Quantity,
			ClosePrice:        price,
			MarketValue:       h.Quantity.Mul(price).Round(2),
		}
		if err := r.Upsert(row, true); err != nil {
			return err
		}
	}
	return r.DeleteSentinel(accountID, today)
}

// WriteZeroBalanceSentinel records "account existed but held nothing" for
// the day, removing any real rows so the sentinel/real invariant holds.
func (r *Repository) WriteZeroBalanceSentinel(accountID, snapshotID, sentinelSecurityID string, today domain.Date) error {
	if err := r.DeleteRealRows(accountID, today); err != nil {
		return err
	}
	row := domain.DailyHoldingValue{
		ValuationDate:     today,
		AccountID:         accountID,
		AccountSnapshotID: snapshotID,
		SecurityID:        sentinelSecurityID,
		Ticker:            domain.ZeroBalanceTicker,
		Quantity:          decimal.Zero,
		ClosePrice:        decimal.Zero,
		MarketValue:       decimal.Zero,
	}
	return r.Upsert(row, true)
}
