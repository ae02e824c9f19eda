package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBusyStub = errors.New("busy")

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Open(Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER NOT NULL)`)
	require.NoError(t, err)
	return conn
}

func TestRunnerRetriesThenCommits(t *testing.T) {
	conn := openTestDB(t)
	var retries []int
	r := Runner{
		DB:        conn,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, errBusyStub) },
		OnRetry:   func(attempt int, _ error) { retries = append(retries, attempt) },
	}
	calls := 0
	err := r.WithTx(context.Background(), func(tx *sql.Tx) error {
		calls++
		if _, err := tx.Exec(`INSERT INTO kv(k, v) VALUES ('a', ?)`, calls); err != nil {
			return err
		}
		if calls < 3 {
			return errBusyStub
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retries)

	var v int
	require.NoError(t, conn.QueryRow(`SELECT v FROM kv WHERE k='a'`).Scan(&v))
	require.Equal(t, 3, v, "only the last attempt commits")
}

func TestRunnerGivesUpWithConflict(t *testing.T) {
	conn := openTestDB(t)
	r := Runner{
		DB:         conn,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Retryable:  func(err error) bool { return errors.Is(err, errBusyStub) },
	}
	calls := 0
	err := r.WithTx(context.Background(), func(tx *sql.Tx) error {
		calls++
		return errBusyStub
	})
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, 3, calls)
}

func TestRunnerDoesNotRetryOtherErrors(t *testing.T) {
	conn := openTestDB(t)
	boom := errors.New("boom")
	calls := 0
	err := Runner{DB: conn}.WithTx(context.Background(), func(tx *sql.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestIsConstraint(t *testing.T) {
	conn := openTestDB(t)
	_, err := conn.Exec(`INSERT INTO kv(k, v) VALUES ('x', 1)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO kv(k, v) VALUES ('x', 2)`)
	require.Error(t, err)
	require.True(t, IsConstraint(err))
	require.False(t, IsBusy(err))
	require.False(t, IsConstraint(errors.New("plain")))
}
