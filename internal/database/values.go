package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal and timestamp columns are stored as TEXT: exact decimal strings
// and RFC3339 UTC instants. These helpers keep the conversion in one place
// so repositories never touch binary floats.

// Dec renders a decimal for storage.
func Dec(d decimal.Decimal) string {
	return d.String()
}

// NullDec renders an optional decimal for storage.
func NullDec(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// ScanDec parses a stored decimal.
func ScanDec(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// ScanNullDec parses an optional stored decimal.
func ScanNullDec(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := ScanDec(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Timestamp renders an instant for storage as RFC3339 UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NullTimestamp renders an optional instant for storage.
func NullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: Timestamp(*t), Valid: true}
}

// ScanTimestamp parses a stored instant.
func ScanTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ScanNullTimestamp parses an optional stored instant.
func ScanNullTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := ScanTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NullStr renders an optional string for storage.
func NullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ScanNullStr converts a nullable column back to an optional string.
func ScanNullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
