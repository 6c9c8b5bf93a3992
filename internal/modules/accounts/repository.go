// Package accounts manages connected brokerage and bank accounts.
package accounts

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

// Repository handles account database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new account repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

const accountColumns = `id, provider_name, external_id, name, name_user_edited,
	institution_name, is_active, deactivated_at, superseded_by_account_id,
	include_in_allocation, assigned_asset_class_id, last_sync_time,
	last_sync_status, last_sync_error, balance_date`

// GetByID returns an account by ID, or nil if not found
func (r *Repository) GetByID(id string) (*domain.Account, error) {
	rows, err := r.q.Query(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	acct, err := scanAccount(rows)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetByProviderExternalID returns an account by its unique
// (provider_name, external_id) pair, or nil if not found.
func (r *Repository) GetByProviderExternalID(providerName, externalID string) (*domain.Account, error) {
	rows, err := r.q.Query(`SELECT `+accountColumns+` FROM accounts
		WHERE provider_name = ? AND external_id = ?`, providerName, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account by external ID: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	acct, err := scanAccount(rows)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAll returns every account
func (r *Repository) GetAll() ([]domain.Account, error) {
	return r.queryAccounts(`SELECT ` + accountColumns + ` FROM accounts ORDER BY provider_name, name`)
}

// GetAllActive returns all active accounts
func (r *Repository) GetAllActive() ([]domain.Account, error) {
	return r.queryAccounts(`SELECT `+accountColumns+` FROM accounts WHERE is_active = 1 ORDER BY provider_name, name`)
}

// GetActiveByProvider returns the active accounts of one provider
func (r *Repository) GetActiveByProvider(providerName string) ([]domain.Account, error) {
	return r.queryAccounts(`SELECT `+accountColumns+` FROM accounts
		WHERE is_active = 1 AND provider_name = ? ORDER BY name`, providerName)
}

func (r *Repository) queryAccounts(query string, args ...interface{}) ([]domain.Account, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accts []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accts, nil
}

// Create inserts a new account. A generated UUID is assigned if ID is empty.
func (r *Repository) Create(acct *domain.Account) error {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}

	_, err := r.q.Exec(`INSERT INTO accounts
		(id, provider_name, external_id, name, name_user_edited, institution_name,
		 is_active, deactivated_at, superseded_by_account_id, include_in_allocation,
		 assigned_asset_class_id, last_sync_time, last_sync_status, last_sync_error, balance_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.ProviderName, acct.ExternalID, acct.Name,
		boolToInt(acct.NameUserEdited), acct.InstitutionName, boolToInt(acct.IsActive),
		database.NullTimestamp(acct.DeactivatedAt), database.NullStr(acct.SupersededByAccountID),
		boolToInt(acct.IncludeInAllocation), database.NullStr(acct.AssignedAssetClassID),
		database.NullTimestamp(acct.LastSyncTime), nullStatus(acct.LastSyncStatus),
		database.NullStr(acct.LastSyncError), database.NullTimestamp(acct.BalanceDate),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.log.Info().Str("account_id", acct.ID).Str("provider", acct.ProviderName).
		Str("external_id", acct.ExternalID).Msg("Account created")
	return nil
}

// UpdateFromProvider refreshes provider-controlled fields. The institution
// name is always updated; the display name only while the user has not
// edited it.
func (r *Repository) UpdateFromProvider(accountID, name, institutionName string) error {
	_, err := r.q.Exec(`UPDATE accounts SET
		institution_name = ?,
		name = CASE WHEN name_user_edited = 0 THEN ? ELSE name END
		WHERE id = ?`, institutionName, name, accountID)
	if err != nil {
		return fmt.Errorf("failed to update account from provider: %w", err)
	}
	return nil
}

// UpdateName sets a user-chosen display name and pins it against sync
// overwrites.
func (r *Repository) UpdateName(accountID, name string) error {
	_, err := r.q.Exec(`UPDATE accounts SET name = ?, name_user_edited = 1 WHERE id = ?`, name, accountID)
	if err != nil {
		return fmt.Errorf("failed to rename account: %w", err)
	}
	return nil
}

// SetSyncOutcome records the outcome of a sync attempt for the account.
// A nil errMsg clears last_sync_error; keepError leaves it untouched
// (the staleness gate preserves any earlier message).
func (r *Repository) SetSyncOutcome(accountID string, status domain.SyncStatus, errMsg *string, keepError bool, at time.Time) error {
	var err error
	if keepError {
		_, err = r.q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_time = ? WHERE id = ?`,
			string(status), database.Timestamp(at), accountID)
	} else {
		_, err = r.q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_error = ?, last_sync_time = ? WHERE id = ?`,
			string(status), database.NullStr(errMsg), database.Timestamp(at), accountID)
	}
	if err != nil {
		return fmt.Errorf("failed to record sync outcome: %w", err)
	}
	return nil
}

// SetBalanceDate stores the provider-reported balance instant
func (r *Repository) SetBalanceDate(accountID string, balanceDate time.Time) error {
	_, err := r.q.Exec(`UPDATE accounts SET balance_date = ? WHERE id = ?`,
		database.Timestamp(balanceDate), accountID)
	if err != nil {
		return fmt.Errorf("failed to set balance date: %w", err)
	}
	return nil
}

// SetAssetClass assigns (or clears, with nil) the account-level asset class
func (r *Repository) SetAssetClass(accountID string, assetClassID *string) error {
	_, err := r.q.Exec(`UPDATE accounts SET assigned_asset_class_id = ? WHERE id = ?`,
		database.NullStr(assetClassID), accountID)
	if err != nil {
		return fmt.Errorf("failed to set account asset class: %w", err)
	}
	return nil
}

// Deactivate marks the account inactive. History is kept; no new snapshots
// will be taken.
func (r *Repository) Deactivate(accountID string, supersededBy *string, at time.Time) error {
	res, err := r.q.Exec(`UPDATE accounts SET
		is_active = 0, deactivated_at = ?, superseded_by_account_id = ?
		WHERE id = ? AND is_active = 1`,
		database.Timestamp(at), database.NullStr(supersededBy), accountID)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("account %s not found or already inactive", accountID)
	}

	r.log.Info().Str("account_id", accountID).Msg("Account deactivated")
	return nil
}

// Delete removes the account and everything it owns, in FK-safe order:
// disposals, lots, daily values, holdings (via snapshots), activities,
// snapshots, then the account row.
func (r *Repository) Delete(accountID string) error {
	steps := []struct {
		desc  string
		query string
	}{
		{"lot disposals", `DELETE FROM lot_disposals WHERE account_id = ?`},
		{"holding lots", `DELETE FROM holding_lots WHERE account_id = ?`},
		{"daily values", `DELETE FROM daily_holding_values WHERE account_id = ?`},
		{"holdings", `DELETE FROM holdings WHERE account_snapshot_id IN
			(SELECT id FROM account_snapshots WHERE account_id = ?)`},
		{"activities", `DELETE FROM activities WHERE account_id = ?`},
		{"snapshots", `DELETE FROM account_snapshots WHERE account_id = ?`},
		{"account", `DELETE FROM accounts WHERE id = ?`},
	}

	for _, step := range steps {
		if _, err := r.q.Exec(step.query, accountID); err != nil {
			return fmt.Errorf("failed to delete %s for account %s: %w", step.desc, accountID, err)
		}
	}

	r.log.Warn().Str("account_id", accountID).Msg("Account and all owned data deleted")
	return nil
}

func scanAccount(rows *sql.Rows) (domain.Account, error) {
	var acct domain.Account
	var nameEdited, isActive, includeAlloc int
	var deactivatedAt, supersededBy, assetClassID sql.NullString
	var lastSyncTime, lastSyncStatus, lastSyncError, balanceDate sql.NullString

	err := rows.Scan(
		&acct.ID, &acct.ProviderName, &acct.ExternalID, &acct.Name, &nameEdited,
		&acct.InstitutionName, &isActive, &deactivatedAt, &supersededBy,
		&includeAlloc, &assetClassID, &lastSyncTime, &lastSyncStatus,
		&lastSyncError, &balanceDate,
	)
	if err != nil {
		return acct, fmt.Errorf("failed to scan account: %w", err)
	}

	acct.NameUserEdited = nameEdited != 0
	acct.IsActive = isActive != 0
	acct.IncludeInAllocation = includeAlloc != 0
	acct.SupersededByAccountID = database.ScanNullStr(supersededBy)
	acct.AssignedAssetClassID = database.ScanNullStr(assetClassID)
	acct.LastSyncError = database.ScanNullStr(lastSyncError)
	if lastSyncStatus.Valid {
		acct.LastSyncStatus = domain.SyncStatus(lastSyncStatus.String)
	}
	if acct.DeactivatedAt, err = database.ScanNullTimestamp(deactivatedAt); err != nil {
		return acct, err
	}
	if acct.LastSyncTime, err = database.ScanNullTimestamp(lastSyncTime); err != nil {
		return acct, err
	}
	if acct.BalanceDate, err = database.ScanNullTimestamp(balanceDate); err != nil {
		return acct, err
	}

	acct.InstitutionName = strings.TrimSpace(acct.InstitutionName)
	return acct, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStatus(s domain.SyncStatus) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(s), Valid: true}
}
