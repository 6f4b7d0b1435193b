// Package txn manages the transaction boundary around one maintenance
// policy run. A policy always executes inside a transaction, but the
// transaction may belong to the caller (an ambient transaction from a
// nested invocation) or to the scope itself. Only the party that began
// a transaction releases it.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Scope tracks the transaction a policy runs in and whether this
// invocation owns it.
type Scope struct {
	db    *sql.DB
	tx    *sql.Tx
	owned bool
}

// Ensure returns a scope around the ambient transaction when one is
// given; otherwise it begins a new transaction and records ownership.
func Ensure(ctx context.Context, db *sql.DB, ambient *sql.Tx) (*Scope, error) {
	if ambient != nil {
		return &Scope{db: db, tx: ambient}, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin maintenance tx: %w", err)
	}
	return &Scope{db: db, tx: tx, owned: true}, nil
}

// EnsureSnapshot is Ensure plus an immediate snapshot pin: catalog reads
// made later in the scope observe one consistent state. SQLite deferred
// transactions take their read snapshot on first read, so the pin is a
// throwaway read issued up front. Ambient transactions are assumed to
// have pinned their own snapshot already.
func EnsureSnapshot(ctx context.Context, db *sql.DB, ambient *sql.Tx) (*Scope, error) {
	s, err := Ensure(ctx, db, ambient)
	if err != nil {
		return nil, err
	}
	if s.owned {
		var one int
		if err := s.tx.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
			_ = s.tx.Rollback()
			return nil, fmt.Errorf("pin snapshot: %w", err)
		}
	}
	return s, nil
}

// Tx is the transaction catalog reads and writes must go through.
func (s *Scope) Tx() *sql.Tx {
	return s.tx
}

// Owned reports whether this invocation began the transaction.
func (s *Scope) Owned() bool {
	return s.owned
}

// Break commits the current transaction, ambient or owned, leaving the
// scope transaction-free. Used by the materialization driver so the
// long materialization pass does not run under locks acquired for the
// target lookup.
func (s *Scope) Break() error {
	if s.tx == nil {
		return errors.New("scope has no active transaction")
	}
	if err := s.tx.Commit(); err != nil {
		s.tx = nil
		return fmt.Errorf("commit before break: %w", err)
	}
	s.tx = nil
	return nil
}

// Renew begins a fresh transaction after Break. The scope owns the new
// transaction regardless of how it started.
func (s *Scope) Renew(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("scope already has an active transaction")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bookkeeping tx: %w", err)
	}
	s.tx = tx
	s.owned = true
	return nil
}

// Close releases the scope. An owned transaction is committed when
// cause is nil and rolled back otherwise; an ambient transaction is
// left for its owner on every path. Close is safe after Break.
func (s *Scope) Close(cause error) error {
	if s.tx == nil || !s.owned {
		s.tx = nil
		return nil
	}
	tx := s.tx
	s.tx = nil
	if cause != nil {
		_ = tx.Rollback()
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit maintenance tx: %w", err)
	}
	return nil
}
