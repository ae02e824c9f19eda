package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrUnauthenticated is returned when a request carries no identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// SystemIdentity owns records created by the server itself, such as the seeded catalog.
const SystemIdentity = "system"

// Identity is the opaque authenticated principal of a request.
type Identity struct {
	ID     string
	Source string
}

type identityKey struct{}

// WithIdentity returns a context carrying id. An empty id leaves ctx unchanged.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	id.ID = strings.TrimSpace(id.ID)
	if id.ID == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.ID != ""
}

// Resolve returns the calling identity or ErrUnauthenticated.
func Resolve(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Service registers identities in the ledger.
type Service struct {
	Now func() time.Time
}

// EnsureIdentity records the identity the first time it mutates anything.
func (s Service) EnsureIdentity(ctx context.Context, tx *sql.Tx, identityID string) error {
	if identityID == "" {
		return ErrUnauthenticated
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO identities(id, created_at) VALUES (?,?)`,
		identityID, now().UTC().Format(time.RFC3339))
	return err
}
