package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrConflict is returned when a transaction keeps losing to concurrent
// writers after the retry budget is spent.
var ErrConflict = errors.New("ledger conflict")

const (
	defaultMaxRetries = 8
	defaultBaseDelay  = 10 * time.Millisecond
)

// Runner executes ledger transactions, retrying the whole unit of work when
// SQLite reports lock contention.
type Runner struct {
	DB         *sql.DB
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable classifies errors worth another attempt. Defaults to IsBusy.
	Retryable func(error) bool
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error)
}

// WithTx runs fn inside a transaction and commits it. fn may be invoked more
// than once, so it must not have effects outside tx.
func (r Runner) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := r.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsBusy
	}
	for attempt := 0; ; attempt++ {
		err := r.run(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, err)
		}
		if err := wait(ctx, time.Duration(attempt+1)*baseDelay); err != nil {
			return err
		}
	}
}

func (r Runner) run(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// IsConstraint reports whether err is a constraint violation (unique, check, fk).
func IsConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
