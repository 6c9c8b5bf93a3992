// Package snapshots persists account snapshots and their holdings.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// SnapshotWithTimestamp pairs a snapshot with its sync session's instant,
// which is what timeline resolution orders by.
type SnapshotWithTimestamp struct {
	Snapshot  domain.AccountSnapshot
	Timestamp time.Time
}

// Repository handles snapshot and holding database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

// Create inserts a new snapshot. A generated UUID is assigned if ID is empty.
func (r *Repository) Create(snap *domain.AccountSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	_, err := r.q.Exec(`INSERT INTO account_snapshots
		(id, account_id, sync_session_id, status, total_value, balance_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.AccountID, snap.SyncSessionID, string(snap.Status),
		database.Dec(snap.TotalValue), database.NullTimestamp(snap.BalanceDate))
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

// CreateHolding inserts one holding row under a snapshot
func (r *Repository) CreateHolding(h *domain.Holding) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := r.q.Exec(`INSERT INTO holdings
		(id, account_snapshot_id, security_id, ticker, quantity, snapshot_price, snapshot_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AccountSnapshotID, h.SecurityID, h.Ticker,
		database.Dec(h.Quantity), database.Dec(h.SnapshotPrice), database.Dec(h.SnapshotValue))
	if err != nil {
		return fmt.Errorf("failed to create holding: %w", err)
	}
	return nil
}

// GetLatestSuccessful returns the account's most recent successful snapshot
// by sync session timestamp, or nil if none exists.
func (r *Repository) GetLatestSuccessful(accountID string) (*SnapshotWithTimestamp, error) {
	rows, err := r.q.Query(`SELECT s.id, s.account_id, s.sync_session_id, s.status,
			s.total_value, s.balance_date, ss.timestamp
		FROM account_snapshots s
		JOIN sync_sessions ss ON ss.id = s.sync_session_id
		WHERE s.account_id = ? AND s.status = 'success'
		ORDER BY ss.timestamp DESC, s.id DESC
		LIMIT 1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	st, err := scanSnapshotWithTimestamp(rows)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSuccessfulTimeline returns all successful snapshots for the account
// ordered by sync session timestamp ascending.
func (r *Repository) GetSuccessfulTimeline(accountID string) ([]SnapshotWithTimestamp, error) {
	rows, err := r.q.Query(`SELECT s.id, s.account_id, s.sync_session_id, s.status,
			s.total_value, s.balance_date, ss.timestamp
		FROM account_snapshots s
		JOIN sync_sessions ss ON ss.id = s.sync_session_id
		WHERE s.account_id = ? AND s.status = 'success'
		ORDER BY ss.timestamp ASC, s.id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot timeline: %w", err)
	}
	defer rows.Close()

	var timeline []SnapshotWithTimestamp
	for rows.Next() {
		st, err := scanSnapshotWithTimestamp(rows)
		if err != nil {
			return nil, err
		}
		timeline = append(timeline, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot timeline: %w", err)
	}
	return timeline, nil
}

// GetEarliestSuccessfulTimestamp returns the instant of the first
// successful snapshot across all accounts, or nil if none exists.
func (r *Repository) GetEarliestSuccessfulTimestamp() (*time.Time, error) {
	var ts sql.NullString
	err := r.q.QueryRow(`SELECT MIN(ss.timestamp)
		FROM account_snapshots s
		JOIN sync_sessions ss ON ss.id = s.sync_session_id
		WHERE s.status = 'success'`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to query earliest snapshot timestamp: %w", err)
	}
	return database.ScanNullTimestamp(ts)
}

// GetHoldings returns the holdings of one snapshot
func (r *Repository) GetHoldings(snapshotID string) ([]domain.Holding, error) {
	rows, err := r.q.Query(`SELECT id, account_snapshot_id, security_id, ticker,
			quantity, snapshot_price, snapshot_value
		FROM holdings WHERE account_snapshot_id = ? ORDER BY ticker`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		var h domain.Holding
		var qty, price, value string
		if err := rows.Scan(&h.ID, &h.AccountSnapshotID, &h.SecurityID, &h.Ticker, &qty, &price, &value); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if h.Quantity, err = database.ScanDec(qty); err != nil {
			return nil, err
		}
		if h.SnapshotPrice, err = database.ScanDec(price); err != nil {
			return nil, err
		}
		if h.SnapshotValue, err = database.ScanDec(value); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

// GetHoldingsBatch returns holdings for several snapshots keyed by snapshot
// ID, loaded in one query.
func (r *Repository) GetHoldingsBatch(snapshotIDs []string) (map[string][]domain.Holding, error) {
	result := make(map[string][]domain.Holding, len(snapshotIDs))
	if len(snapshotIDs) == 0 {
		return result, nil
	}

	placeholders := ""
	args := make([]interface{}, len(snapshotIDs))
	for i, id := range snapshotIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}

	rows, err := r.q.Query(`SELECT id, account_snapshot_id, security_id, ticker,
			quantity, snapshot_price, snapshot_value
		FROM holdings WHERE account_snapshot_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h domain.Holding
		var qty, price, value string
		if err := rows.Scan(&h.ID, &h.AccountSnapshotID, &h.SecurityID, &h.Ticker, &qty, &price, &value); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if h.Quantity, err = database.ScanDec(qty); err != nil {
			return nil, err
		}
		if h.SnapshotPrice, err = database.ScanDec(price); err != nil {
			return nil, err
		}
		if h.SnapshotValue, err = database.ScanDec(value); err != nil {
			return nil, err
		}
		result[h.AccountSnapshotID] = append(result[h.AccountSnapshotID], h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings batch: %w", err)
	}
	return result, nil
}

func scanSnapshotWithTimestamp(rows *sql.Rows) (SnapshotWithTimestamp, error) {
	var st SnapshotWithTimestamp
	var total, ts string
	var balanceDate sql.NullString

	err := rows.Scan(&st.Snapshot.ID, &st.Snapshot.AccountID, &st.Snapshot.SyncSessionID,
		(*string)(&st.Snapshot.Status), &total, &balanceDate, &ts)
	if err != nil {
		return st, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if st.Snapshot.TotalValue, err = database.ScanDec(total); err != nil {
		return st, err
	}
	if st.Snapshot.BalanceDate, err = database.ScanNullTimestamp(balanceDate); err != nil {
		return st, err
	}
	if st.Timestamp, err = database.ScanTimestamp(ts); err != nil {
		return st, err
	}
	return st, nil
}
