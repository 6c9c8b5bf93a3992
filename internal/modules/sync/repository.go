// Package sync orchestrates provider pulls into snapshots, daily values,
// activities, and lots.
package sync

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// Repository handles sync_sessions and sync_log_entries database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new sync repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "sync").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

// CreateSession inserts a new sync session. A generated UUID is assigned if
// ID is empty.
func (r *Repository) CreateSession(sess *domain.SyncSession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := r.q.Exec(`INSERT INTO sync_sessions (id, timestamp, is_complete, error_message)
		VALUES (?, ?, ?, ?)`,
		sess.ID, database.Timestamp(sess.Timestamp), boolToInt(sess.IsComplete),
		database.NullStr(sess.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to create sync session: %w", err)
	}
	return nil
}

// FinishSession records the session outcome
func (r *Repository) FinishSession(sessionID string, isComplete bool, errMsg *string) error {
	_, err := r.q.Exec(`UPDATE sync_sessions SET is_complete = ?, error_message = ?
		WHERE id = ?`, boolToInt(isComplete), database.NullStr(errMsg), sessionID)
	if err != nil {
		return fmt.Errorf("failed to finish sync session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID, or nil if not found
func (r *Repository) GetSession(id string) (*domain.SyncSession, error) {
	rows, err := r.q.Query(`SELECT id, timestamp, is_complete, error_message
		FROM sync_sessions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sess, err := scanSession(rows)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetLatestSession returns the most recent session, or nil if none exists
func (r *Repository) GetLatestSession() (*domain.SyncSession, error) {
	rows, err := r.q.Query(`SELECT id, timestamp, is_complete, error_message
		FROM sync_sessions ORDER BY timestamp DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sync session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sess, err := scanSession(rows)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateLogEntry records one provider's outcome within a session
func (r *Repository) CreateLogEntry(entry *domain.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.q.Exec(`INSERT INTO sync_log_entries
		(id, sync_session_id, provider_name, status, accounts_synced, accounts_stale,
		 accounts_error, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SyncSessionID, entry.ProviderName, string(entry.Status),
		entry.AccountsSynced, entry.AccountsStale, entry.AccountsError,
		database.NullStr(entry.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to create sync log entry: %w", err)
	}
	return nil
}

// GetLogEntries returns the per-provider entries of one session
func (r *Repository) GetLogEntries(sessionID string) ([]domain.SyncLogEntry, error) {
	rows, err := r.q.Query(`SELECT id, sync_session_id, provider_name, status,
			accounts_synced, accounts_stale, accounts_error, error_message
		FROM sync_log_entries WHERE sync_session_id = ? ORDER BY provider_name`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.SyncLogEntry
	for rows.Next() {
		var e domain.SyncLogEntry
		var errMsg sql.NullString
		err := rows.Scan(&e.ID, &e.SyncSessionID, &e.ProviderName, (*string)(&e.Status),
			&e.AccountsSynced, &e.AccountsStale, &e.AccountsError, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		e.ErrorMessage = database.ScanNullStr(errMsg)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log entries: %w", err)
	}
	return entries, nil
}

func scanSession(rows *sql.Rows) (domain.SyncSession, error) {
	var sess domain.SyncSession
	var ts string
	var isComplete int
	var errMsg sql.NullString

	err := rows.Scan(&sess.ID, &ts, &isComplete, &errMsg)
	if err != nil {
		return sess, fmt.Errorf("failed to scan sync session: %w", err)
	}
	if sess.Timestamp, err = database.ScanTimestamp(ts); err != nil {
		return sess, err
	}
	sess.IsComplete = isComplete != 0
	sess.ErrorMessage = database.ScanNullStr(errMsg)
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
