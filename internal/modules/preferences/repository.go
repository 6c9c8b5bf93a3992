// Package preferences stores arbitrary JSON values under dotted keys.
package preferences

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/database"
)

// keyPattern constrains preference keys to namespaced dotted identifiers,
// e.g. "ui.theme" or "returns.defaultPeriods".
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

const maxKeyLength = 128

// ErrInvalidKey is returned for keys that fail validation.
var ErrInvalidKey = fmt.Errorf("invalid preference key")

// ValidateKey checks a preference key against the naming rules.
func ValidateKey(key string) error {
	if len(key) > maxKeyLength || !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Repository handles preference database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new preferences repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "preferences").Logger(),
	}
}

// Get returns the stored JSON value for key, or nil if unset
func (r *Repository) Get(key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var value string
	err := r.q.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preference: %w", err)
	}
	return json.RawMessage(value), nil
}

// Set stores a JSON value under key, replacing any previous value
func (r *Repository) Set(key string, value json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("preference value for %q is not valid JSON", key)
	}
	_, err := r.q.Exec(`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), database.Timestamp(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// Delete removes a preference. Deleting an unset key is not an error.
func (r *Repository) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := r.q.Exec(`DELETE FROM preferences WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}

// List returns all stored preferences keyed by name
func (r *Repository) List() (map[string]json.RawMessage, error) {
	rows, err := r.q.Query(`SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preferences: %w", err)
	}
	return prefs, nil
}
