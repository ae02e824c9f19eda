package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"taskquest/internal/blob"
	"taskquest/internal/config"
	"taskquest/internal/db"
	"taskquest/internal/domain"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
	"taskquest/internal/repo"
	"taskquest/internal/suggest"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Tx      db.Runner
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Log     *zap.Logger
	Blob    blob.Store
	Suggest suggest.Generator
	Now     func() time.Time

	leaders *singleflight.Group
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:      conn,
		Repo:    repo.Repo{DB: conn},
		Config:  cfg,
		Log:     zap.NewNop(),
		Now:     time.Now,
		leaders: &singleflight.Group{},
	}
	e.Tx = db.Runner{
		DB:         conn,
		MaxRetries: cfg.Ledger.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay(),
	}
	return e
}

// WithClock sets the clock used for timestamps and events.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Auth.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// withTx runs fn in one ledger transaction. fn may run more than once when
// the store reports contention, so it must not leak state between attempts.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	runner := e.Tx
	if runner.DB == nil {
		runner.DB = e.DB
	}
	onRetry := runner.OnRetry
	runner.OnRetry = func(attempt int, err error) {
		ledgerRetries.Inc()
		e.logger().Warn("ledger busy, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	err := runner.WithTx(ctx, fn)
	if errors.Is(err, db.ErrConflict) {
		ledgerConflicts.Inc()
	}
	return err
}

// ensureIdentity registers the caller inside tx.
func (e Engine) ensureIdentity(ctx context.Context, tx *sql.Tx, id auth.Identity) error {
	svc := e.Auth
	if svc.Now == nil {
		svc.Now = e.Now
	}
	if err := svc.EnsureIdentity(ctx, tx, id.ID); err != nil {
		return fmt.Errorf("ensure identity: %w", err)
	}
	return nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	if err := w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

// LatestEvents returns recent ledger events, newest first.
func (e Engine) LatestEvents(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, evtType, entityKind, entityID)
}
