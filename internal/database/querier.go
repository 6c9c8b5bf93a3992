package database

import "database/sql"

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories are built over a Querier so the same code serves the HTTP
// read path (plain connection) and the sync write path (one transaction
// spanning the whole sync, with savepoints inside).
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)
