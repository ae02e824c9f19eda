package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"taskquest/internal/domain"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
	"taskquest/internal/repo"
)

// CreateAPIKey issues a key for the caller. The plaintext key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, name string) (domain.APIKey, string, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "tq_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:         uuid.NewString(),
		IdentityID: id.ID,
		Name:       strings.TrimSpace(name),
		KeyHash:    repo.HashAPIKey(plain),
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		key.CreatedAt = e.stamp()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.APIKeyCreated, "api_key", key.ID, id.ID, events.EventPayload{"name": key.Name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// ResolveAPIKey returns the identity owning key.
func (e Engine) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	k, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return "", notFound(err, "api key")
	}
	return k.IdentityID, nil
}

// ListAPIKeys returns the caller's keys.
func (e Engine) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, id.ID)
}

// RevokeAPIKey deletes one of the caller's keys.
func (e Engine) RevokeAPIKey(ctx context.Context, keyID string) error {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, keyID, id.ID); err != nil {
			return notFound(err, "api key")
		}
		return e.appendEvent(ctx, tx, events.APIKeyRevoked, "api_key", keyID, id.ID, nil)
	})
}
