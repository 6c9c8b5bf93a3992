// Package lots reconstructs tax-lot history from snapshot deltas.
package lots

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// Repository handles holding_lots and lot_disposals database operations.
// Lots and disposals use integer autoincrement IDs so that "id ASC" is
// insertion order, which FIFO depends on.
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new lot repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "lots").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

const lotColumns = `id, account_id, security_id, ticker, acquisition_date,
	cost_basis_per_unit, original_quantity, current_quantity, is_closed, source, activity_id`

// GetOpenLots returns the open lots for (account, security) in FIFO order.
// SQLite sorts NULLs first under ASC, so undated initial/inferred lots come
// before any dated lot.
func (r *Repository) GetOpenLots(accountID, securityID string) ([]domain.HoldingLot, error) {
	return r.queryLots(`SELECT `+lotColumns+` FROM holding_lots
		WHERE account_id = ? AND security_id = ? AND is_closed = 0
		ORDER BY acquisition_date ASC, id ASC`, accountID, securityID)
}

// GetLotsForAccount returns all lots for an account, FIFO-ordered per
// security.
func (r *Repository) GetLotsForAccount(accountID string) ([]domain.HoldingLot, error) {
	return r.queryLots(`SELECT `+lotColumns+` FROM holding_lots
		WHERE account_id = ?
		ORDER BY security_id, acquisition_date ASC, id ASC`, accountID)
}

// SumOpenQuantity returns the total open quantity for (account, security)
func (r *Repository) SumOpenQuantity(accountID, securityID string) (decimal.Decimal, error) {
	rows, err := r.q.Query(`SELECT current_quantity FROM holding_lots
		WHERE account_id = ? AND security_id = ? AND is_closed = 0`, accountID, securityID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query open lot quantities: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan lot quantity: %w", err)
		}
		q, err := database.ScanDec(s)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(q)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating lot quantities: %w", err)
	}
	return total, nil
}

// Create inserts a new lot and assigns its generated ID
func (r *Repository) Create(lot *domain.HoldingLot) error {
	var acqDate interface{}
	if lot.AcquisitionDate != nil {
		acqDate = lot.AcquisitionDate.String()
	}
	res, err := r.q.Exec(`INSERT INTO holding_lots
		(account_id, security_id, ticker, acquisition_date, cost_basis_per_unit,
		 original_quantity, current_quantity, is_closed, source, activity_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.AccountID, lot.SecurityID, lot.Ticker, acqDate,
		database.Dec(lot.CostBasisPerUnit), database.Dec(lot.OriginalQuantity),
		database.Dec(lot.CurrentQuantity), boolToInt(lot.IsClosed),
		string(lot.Source), database.NullStr(lot.ActivityID))
	if err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	lot.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read lot id: %w", err)
	}
	return nil
}

// Consume decrements a lot's current quantity, closing it at zero
func (r *Repository) Consume(lotID int64, newQuantity decimal.Decimal) error {
	closed := 0
	if newQuantity.IsZero() {
		closed = 1
	}
	res, err := r.q.Exec(`UPDATE holding_lots SET current_quantity = ?, is_closed = ?
		WHERE id = ?`, database.Dec(newQuantity), closed, lotID)
	if err != nil {
		return fmt.Errorf("failed to consume lot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lot %d not found", lotID)
	}
	return nil
}

// CreateDisposal inserts a new disposal row and assigns its generated ID
func (r *Repository) CreateDisposal(d *domain.LotDisposal) error {
	res, err := r.q.Exec(`INSERT INTO lot_disposals
		(holding_lot_id, account_id, security_id, quantity, proceeds_per_unit,
		 disposal_date, source, activity_id, disposal_group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.HoldingLotID, d.AccountID, d.SecurityID, database.Dec(d.Quantity),
		database.Dec(d.ProceedsPerUnit), d.DisposalDate.String(),
		string(d.Source), database.NullStr(d.ActivityID), d.DisposalGroupID)
	if err != nil {
		return fmt.Errorf("failed to create disposal: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read disposal id: %w", err)
	}
	return nil
}

// GetDisposalsForAccount returns all disposals for an account, oldest first
func (r *Repository) GetDisposalsForAccount(accountID string) ([]domain.LotDisposal, error) {
	rows, err := r.q.Query(`SELECT id, holding_lot_id, account_id, security_id, quantity,
			proceeds_per_unit, disposal_date, source, activity_id, disposal_group_id
		FROM lot_disposals WHERE account_id = ? ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query disposals: %w", err)
	}
	defer rows.Close()

	var disposals []domain.LotDisposal
	for rows.Next() {
		var d domain.LotDisposal
		var qty, proceeds, dateStr string
		var activityID sql.NullString
		err := rows.Scan(&d.ID, &d.HoldingLotID, &d.AccountID, &d.SecurityID,
			&qty, &proceeds, &dateStr, (*string)(&d.Source), &activityID, &d.DisposalGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disposal: %w", err)
		}
		if d.Quantity, err = database.ScanDec(qty); err != nil {
			return nil, err
		}
		if d.ProceedsPerUnit, err = database.ScanDec(proceeds); err != nil {
			return nil, err
		}
		if d.DisposalDate, err = domain.ParseDate(dateStr); err != nil {
			return nil, err
		}
		d.ActivityID = database.ScanNullStr(activityID)
		disposals = append(disposals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating disposals: %w", err)
	}
	return disposals, nil
}

// RealizedGainBySecurity sums (proceeds - cost) * quantity per security for
// an account.
func (r *Repository) RealizedGainBySecurity(accountID string) (map[string]decimal.Decimal, error) {
	rows, err := r.q.Query(`SELECT d.security_id, d.quantity, d.proceeds_per_unit, l.cost_basis_per_unit
		FROM lot_disposals d
		JOIN holding_lots l ON l.id = d.holding_lot_id
		WHERE d.account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized gains: %w", err)
	}
	defer rows.Close()

	gains := make(map[string]decimal.Decimal)
	for rows.Next() {
		var securityID, qty, proceeds, cost string
		if err := rows.Scan(&securityID, &qty, &proceeds, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan realized gain row: %w", err)
		}
		q, err := database.ScanDec(qty)
		if err != nil {
			return nil, err
		}
		p, err := database.ScanDec(proceeds)
		if err != nil {
			return nil, err
		}
		c, err := database.ScanDec(cost)
		if err != nil {
			return nil, err
		}
		gains[securityID] = gains[securityID].Add(p.Sub(c).Mul(q))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating realized gains: %w", err)
	}
	return gains, nil
}

func (r *Repository) queryLots(query string, args ...interface{}) ([]domain.HoldingLot, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.HoldingLot
	for rows.Next() {
		var lot domain.HoldingLot
		var acqDate, activityID sql.NullString
		var cost, orig, curr string
		var isClosed int
		err := rows.Scan(&lot.ID, &lot.AccountID, &lot.SecurityID, &lot.Ticker,
			&acqDate, &cost, &orig, &curr, &isClosed, (*string)(&lot.Source), &activityID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if acqDate.Valid {
			d, err := domain.ParseDate(acqDate.String)
			if err != nil {
				return nil, err
			}
			lot.AcquisitionDate = &d
		}
		if lot.CostBasisPerUnit, err = database.ScanDec(cost); err != nil {
			return nil, err
		}
		if lot.OriginalQuantity, err = database.ScanDec(orig); err != nil {
			return nil, err
		}
		if lot.CurrentQuantity, err = database.ScanDec(curr); err != nil {
			return nil, err
		}
		lot.IsClosed = isClosed != 0
		lot.ActivityID = database.ScanNullStr(activityID)
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
