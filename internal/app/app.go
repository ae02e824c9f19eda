package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"taskquest/internal/blob"
	"taskquest/internal/config"
	"taskquest/internal/db"
	"taskquest/internal/engine"
	"taskquest/internal/migrate"
	"taskquest/internal/suggest"
)

// OpenAIKeyEnv names the variable holding the suggestion API key.
const OpenAIKeyEnv = "TASKQUEST_OPENAI_API_KEY"

// Workspace is an opened, migrated ledger plus the engine built on top of it.
type Workspace struct {
	Dir     string
	Conn    *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Log     *zap.Logger
	closers []func() error
}

// NewLogger builds the process logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Open prepares the workspace directory, applies migrations and loads the
// optional taskquest.yml. A missing config file falls back to defaults.
func Open(ctx context.Context, dir string, log *zap.Logger) (*Workspace, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Dir: dir, Conn: conn, Config: cfg, Log: log}
	ws.closers = append(ws.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		ws.Close()
		return nil, err
	}

	e := engine.New(conn, cfg)
	e.Log = log
	store, closeStore, err := NewBlobStore(ctx, cfg, dir)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if closeStore != nil {
		ws.closers = append(ws.closers, closeStore)
	}
	e.Blob = store
	e.Suggest = NewSuggester(cfg, log)
	ws.Engine = e
	return ws, nil
}

// Close releases everything Open acquired, newest first.
func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

// BlobDir returns the directory served for the local backend, or "" for
// remote backends.
func BlobDir(cfg *config.Config, workspace string) string {
	if cfg.Blob.Backend == "gcs" {
		return ""
	}
	dir := cfg.Blob.Dir
	if dir == "" {
		dir = filepath.Join(".taskquest", "blobs")
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspace, dir)
}

// NewBlobStore builds the configured proof image backend. The returned close
// func is nil when the backend holds no resources.
func NewBlobStore(ctx context.Context, cfg *config.Config, workspace string) (blob.Store, func() error, error) {
	switch cfg.Blob.Backend {
	case "gcs":
		g, err := blob.NewGCS(ctx, cfg.Blob.Bucket, cfg.Blob.CredentialsFile, cfg.BlobURLTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return g, g.Close, nil
	default:
		return blob.Local{Dir: BlobDir(cfg, workspace), BaseURL: "/blobs"}, nil, nil
	}
}

// NewSuggester returns the OpenAI generator when a key is configured, nil
// otherwise; the engine reports suggestions as unavailable in that case.
func NewSuggester(cfg *config.Config, log *zap.Logger) suggest.Generator {
	key := os.Getenv(OpenAIKeyEnv)
	if key == "" {
		return nil
	}
	gen, err := suggest.NewOpenAI(key, cfg.Suggest.Model, log)
	if err != nil {
		log.Warn("challenge suggestions disabled", zap.Error(err))
		return nil
	}
	return gen
}
