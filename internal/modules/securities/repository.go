// Package securities manages the security master and asset classes.
package securities

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// Repository handles security and asset-class database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new securities repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

// GetByID returns a security by ID, or nil if not found
func (r *Repository) GetByID(id string) (*domain.Security, error) {
	rows, err := r.q.Query(`SELECT id, ticker, name, manual_asset_class_id FROM securities WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query security: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sec, err := scanSecurity(rows)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// GetByTicker returns a security by its unique ticker, or nil if not found
func (r *Repository) GetByTicker(ticker string) (*domain.Security, error) {
	rows, err := r.q.Query(`SELECT id, ticker, name, manual_asset_class_id FROM securities WHERE ticker = ?`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query security by ticker: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sec, err := scanSecurity(rows)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// GetOrCreateByTicker returns the security for ticker, creating it lazily
// on first reference.
func (r *Repository) GetOrCreateByTicker(ticker, name string) (*domain.Security, error) {
	existing, err := r.GetByTicker(ticker)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sec := &domain.Security{
		ID:     uuid.NewString(),
		Ticker: ticker,
		Name:   name,
	}
	_, err = r.q.Exec(`INSERT INTO securities (id, ticker, name) VALUES (?, ?, ?)`,
		sec.ID, sec.Ticker, sec.Name)
	if err != nil {
		// Lost a race with a concurrent insert; re-read.
		if strings.Contains(err.Error(), "UNIQUE") {
			return r.GetByTicker(ticker)
		}
		return nil, fmt.Errorf("failed to create security %s: %w", ticker, err)
	}

	r.log.Debug().Str("ticker", ticker).Msg("Security created")
	return sec, nil
}

// SetAssetClass assigns (or clears, with nil) the security's asset class
func (r *Repository) SetAssetClass(securityID string, assetClassID *string) error {
	res, err := r.q.Exec(`UPDATE securities SET manual_asset_class_id = ? WHERE id = ?`,
		database.NullStr(assetClassID), securityID)
	if err != nil {
		return fmt.Errorf("failed to set security asset class: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("security %s not found", securityID)
	}
	return nil
}

// GetCryptoTickers returns the tickers of securities assigned to the asset
// class named Crypto. The valuation engine passes this set to market data
// so those symbols route to a crypto price source.
func (r *Repository) GetCryptoTickers() (map[string]struct{}, error) {
	rows, err := r.q.Query(`SELECT s.ticker FROM securities s
		JOIN asset_classes ac ON ac.id = s.manual_asset_class_id
		WHERE ac.name = 'Crypto'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query crypto tickers: %w", err)
	}
	defer rows.Close()

	tickers := make(map[string]struct{})
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan crypto ticker: %w", err)
		}
		tickers[strings.ToUpper(t)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crypto tickers: %w", err)
	}
	return tickers, nil
}

func scanSecurity(rows *sql.Rows) (domain.Security, error) {
	var sec domain.Security
	var assetClassID sql.NullString
	if err := rows.Scan(&sec.ID, &sec.Ticker, &sec.Name, &assetClassID); err != nil {
		return sec, fmt.Errorf("failed to scan security: %w", err)
	}
	sec.ManualAssetClassID = database.ScanNullStr(assetClassID)
	return sec, nil
}

// --- Asset classes ---

// GetAssetClasses returns all asset classes ordered by name
func (r *Repository) GetAssetClasses() ([]domain.AssetClass, error) {
	rows, err := r.q.Query(`SELECT id, name, color, target_percent FROM asset_classes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset classes: %w", err)
	}
	defer rows.Close()

	var classes []domain.AssetClass
	for rows.Next() {
		ac, err := scanAssetClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset classes: %w", err)
	}
	return classes, nil
}

// GetAssetClassByID returns one asset class, or nil if not found
func (r *Repository) GetAssetClassByID(id string) (*domain.AssetClass, error) {
	rows, err := r.q.Query(`SELECT id, name, color, target_percent FROM asset_classes WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset class: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	ac, err := scanAssetClass(rows)
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

// CreateAssetClass inserts a new asset class
func (r *Repository) CreateAssetClass(ac *domain.AssetClass) error {
	if ac.ID == "" {
		ac.ID = uuid.NewString()
	}
	_, err := r.q.Exec(`INSERT INTO asset_classes (id, name, color, target_percent) VALUES (?, ?, ?, ?)`,
		ac.ID, ac.Name, ac.Color, database.NullDec(ac.TargetPercent))
	if err != nil {
		return fmt.Errorf("failed to create asset class: %w", err)
	}
	return nil
}

// UpdateAssetClass updates name, color, and target percent
func (r *Repository) UpdateAssetClass(ac *domain.AssetClass) error {
	res, err := r.q.Exec(`UPDATE asset_classes SET name = ?, color = ?, target_percent = ? WHERE id = ?`,
		ac.Name, ac.Color, database.NullDec(ac.TargetPercent), ac.ID)
	if err != nil {
		return fmt.Errorf("failed to update asset class: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset class %s not found", ac.ID)
	}
	return nil
}

// DeleteAssetClass removes an asset class and clears references to it
func (r *Repository) DeleteAssetClass(id string) error {
	if _, err := r.q.Exec(`UPDATE securities SET manual_asset_class_id = NULL WHERE manual_asset_class_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear security asset class references: %w", err)
	}
	if _, err := r.q.Exec(`UPDATE accounts SET assigned_asset_class_id = NULL WHERE assigned_asset_class_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear account asset class references: %w", err)
	}
	if _, err := r.q.Exec(`DELETE FROM asset_classes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete asset class: %w", err)
	}
	return nil
}

func scanAssetClass(rows *sql.Rows) (domain.AssetClass, error) {
	var ac domain.AssetClass
	var target sql.NullString
	if err := rows.Scan(&ac.ID, &ac.Name, &ac.Color, &target); err != nil {
		return ac, fmt.Errorf("failed to scan asset class: %w", err)
	}
	if target.Valid {
		d, err := decimal.NewFromString(target.String)
		if err != nil {
			return ac, fmt.Errorf("invalid target percent: %w", err)
		}
		ac.TargetPercent = &d
	}
	return ac, nil
}
