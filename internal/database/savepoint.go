package database

import (
	"database/sql"
	"fmt"
	"sync/atomic"
)

// savepointSeq generates process-unique savepoint names. SQLite savepoints
// are scoped to their connection, but unique names keep nesting unambiguous
// when the same transaction stacks several levels.
var savepointSeq atomic.Int64

// Savepoint is a nested transaction marker inside an open *sql.Tx. Rolling
// back a savepoint undoes only the work since it was opened, without
// aborting the enclosing transaction.
type Savepoint struct {
	tx       *sql.Tx
	name     string
	released bool
}

// NewSavepoint opens a savepoint on the given transaction.
func NewSavepoint(tx *sql.Tx) (*Savepoint, error) {
	name := fmt.Sprintf("sp_%d", savepointSeq.Add(1))
	if _, err := tx.Exec("SAVEPOINT " + name); err != nil {
		return nil, fmt.Errorf("failed to open savepoint %s: %w", name, err)
	}
	return &Savepoint{tx: tx, name: name}, nil
}

// Release commits the savepoint into the enclosing transaction.
func (sp *Savepoint) Release() error {
	if sp.released {
		return nil
	}
	sp.released = true
	if _, err := sp.tx.Exec("RELEASE SAVEPOINT " + sp.name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", sp.name, err)
	}
	return nil
}

// Rollback undoes all work since the savepoint was opened and releases it.
func (sp *Savepoint) Rollback() error {
	if sp.released {
		return nil
	}
	sp.released = true
	if _, err := sp.tx.Exec("ROLLBACK TO SAVEPOINT " + sp.name); err != nil {
		return fmt.Errorf("failed to roll back savepoint %s: %w", sp.name, err)
	}
	// ROLLBACK TO leaves the savepoint on the stack; release it so the
	// name does not accumulate on deeply nested syncs.
	if _, err := sp.tx.Exec("RELEASE SAVEPOINT " + sp.name); err != nil {
		return fmt.Errorf("failed to release savepoint %s after rollback: %w", sp.name, err)
	}
	return nil
}

// WithSavepoint runs fn inside a savepoint on tx. The savepoint is rolled
// back if fn returns an error or panics, and released otherwise.
func WithSavepoint(tx *sql.Tx, fn func() error) (err error) {
	sp, err := NewSavepoint(tx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sp.Rollback()
			err = fmt.Errorf("panic in savepoint: %v", p)
		} else if err != nil {
			if rbErr := sp.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (savepoint rollback also failed: %v)", err, rbErr)
			}
		} else {
			err = sp.Release()
		}
	}()

	err = fn()
	return err
}
