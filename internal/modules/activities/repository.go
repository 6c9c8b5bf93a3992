// Package activities manages synced and user-created transactions.
package activities

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// ManualProviderName marks activities created by the user rather than a
// provider sync.
const ManualProviderName = "Manual"

// Repository handles activity database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new activity repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "activities").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

const activityColumns = `id, account_id, provider_name, external_id, activity_date,
	type, amount, ticker, units, price, currency, fee, description, is_reviewed, user_modified`

// GetByID returns an activity by ID, or nil if not found
func (r *Repository) GetByID(id string) (*domain.Activity, error) {
	rows, err := r.q.Query(`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	act, err := scanActivity(rows)
	if err != nil {
		return nil, err
	}
	return &act, nil
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	AccountID string
	Type      domain.ActivityType
	Reviewed  *bool
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// List returns activities matching the filter, newest first
func (r *Repository) List(f ListFilter) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE 1=1`
	var args []interface{}

	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.Reviewed != nil {
		query += ` AND is_reviewed = ?`
		args = append(args, boolToInt(*f.Reviewed))
	}
	if f.From != nil {
		query += ` AND activity_date >= ?`
		args = append(args, database.Timestamp(*f.From))
	}
	if f.To != nil {
		query += ` AND activity_date <= ?`
		args = append(args, database.Timestamp(*f.To))
	}

	query += ` ORDER BY activity_date DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	return r.queryActivities(query, args...)
}

// GetTradesForSecurity returns buy or sell activities for one security in
// an account within (after, until]. Ticker matching is case-insensitive
// because providers disagree on case. Results are chronological.
func (r *Repository) GetTradesForSecurity(accountID, ticker string, actType domain.ActivityType, after, until time.Time) ([]domain.Activity, error) {
	return r.queryActivities(`SELECT `+activityColumns+` FROM activities
		WHERE account_id = ? AND type = ? AND ticker IS NOT NULL AND UPPER(ticker) = UPPER(?)
		  AND activity_date > ? AND activity_date <= ?
		ORDER BY activity_date ASC, id ASC`,
		accountID, string(actType), ticker,
		database.Timestamp(after), database.Timestamp(until))
}

// GetFlowsInRange returns external cash-flow activities (deposit,
// withdrawal, transfer, receive) for the given accounts within [from, to],
// chronological.
func (r *Repository) GetFlowsInRange(accountIDs []string, from, to time.Time) ([]domain.Activity, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")
	args := make([]interface{}, 0, len(accountIDs)+2)
	for _, id := range accountIDs {
		args = append(args, id)
	}
	args = append(args, database.Timestamp(from), database.Timestamp(to))

	return r.queryActivities(`SELECT `+activityColumns+` FROM activities
		WHERE account_id IN (`+placeholders+`)
		  AND type IN ('deposit', 'withdrawal', 'transfer', 'receive')
		  AND activity_date >= ? AND activity_date <= ?
		ORDER BY activity_date ASC, id ASC`, args...)
}

// Create inserts a new activity. A generated UUID is assigned if ID is empty.
func (r *Repository) Create(act *domain.Activity) error {
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	_, err := r.q.Exec(`INSERT INTO activities
		(id, account_id, provider_name, external_id, activity_date, type, amount,
		 ticker, units, price, currency, fee, description, is_reviewed, user_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		act.ID, act.AccountID, act.ProviderName, act.ExternalID,
		database.Timestamp(act.ActivityDate), string(act.Type), database.Dec(act.Amount),
		database.NullStr(act.Ticker), database.NullDec(act.Units), database.NullDec(act.Price),
		act.Currency, database.NullDec(act.Fee), database.NullStr(act.Description),
		boolToInt(act.IsReviewed), boolToInt(act.UserModified))
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// UpsertFromProvider merges one provider activity, keyed by
// (provider_name, external_id). Inserts record all fields as-is; updates
// refresh provider fields only when the user has not modified the row, and
// never touch is_reviewed.
func (r *Repository) UpsertFromProvider(act *domain.Activity) (inserted bool, err error) {
	var existingID string
	var userModified int
	row := r.q.QueryRow(`SELECT id, user_modified FROM activities
		WHERE provider_name = ? AND external_id = ?`, act.ProviderName, act.ExternalID)
	err = row.Scan(&existingID, &userModified)
	if err == sql.ErrNoRows {
		if err := r.Create(act); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up activity for merge: %w", err)
	}

	if userModified != 0 {
		return false, nil
	}

	_, err = r.q.Exec(`UPDATE activities SET
			account_id = ?, activity_date = ?, type = ?, amount = ?, ticker = ?,
			units = ?, price = ?, currency = ?, fee = ?, description = ?
		WHERE id = ?`,
		act.AccountID, database.Timestamp(act.ActivityDate), string(act.Type),
		database.Dec(act.Amount), database.NullStr(act.Ticker), database.NullDec(act.Units),
		database.NullDec(act.Price), act.Currency, database.NullDec(act.Fee),
		database.NullStr(act.Description), existingID)
	if err != nil {
		return false, fmt.Errorf("failed to merge activity: %w", err)
	}
	return false, nil
}

// Update rewrites editable fields of an existing activity
func (r *Repository) Update(act *domain.Activity) error {
	res, err := r.q.Exec(`UPDATE activities SET
			activity_date = ?, type = ?, amount = ?, ticker = ?, units = ?, price = ?,
			currency = ?, fee = ?, description = ?, is_reviewed = ?, user_modified = ?
		WHERE id = ?`,
		database.Timestamp(act.ActivityDate), string(act.Type), database.Dec(act.Amount),
		database.NullStr(act.Ticker), database.NullDec(act.Units), database.NullDec(act.Price),
		act.Currency, database.NullDec(act.Fee), database.NullStr(act.Description),
		boolToInt(act.IsReviewed), boolToInt(act.UserModified), act.ID)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activity %s not found", act.ID)
	}
	return nil
}

// Delete removes an activity by ID
func (r *Repository) Delete(id string) error {
	res, err := r.q.Exec(`DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activity %s not found", id)
	}
	return nil
}

func (r *Repository) queryActivities(query string, args ...interface{}) ([]domain.Activity, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var acts []domain.Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		acts = append(acts, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return acts, nil
}

func scanActivity(rows *sql.Rows) (domain.Activity, error) {
	var act domain.Activity
	var activityDate, amount string
	var ticker, units, price, fee, description sql.NullString
	var isReviewed, userModified int

	err := rows.Scan(&act.ID, &act.AccountID, &act.ProviderName, &act.ExternalID,
		&activityDate, (*string)(&act.Type), &amount, &ticker, &units, &price,
		&act.Currency, &fee, &description, &isReviewed, &userModified)
	if err != nil {
		return act, fmt.Errorf("failed to scan activity: %w", err)
	}

	if act.ActivityDate, err = database.ScanTimestamp(activityDate); err != nil {
		return act, err
	}
	if act.Amount, err = database.ScanDec(amount); err != nil {
		return act, err
	}
	if act.Units, err = database.ScanNullDec(units); err != nil {
		return act, err
	}
	if act.Price, err = database.ScanNullDec(price); err != nil {
		return act, err
	}
	if act.Fee, err = database.ScanNullDec(fee); err != nil {
		return act, err
	}
	act.Ticker = database.ScanNullStr(ticker)
	act.Description = database.ScanNullStr(description)
	act.IsReviewed = isReviewed != 0
	act.UserModified = userModified != 0
	return act, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
