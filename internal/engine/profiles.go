package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskquest/internal/domain"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
	"taskquest/internal/repo"
)

type profileInput struct {
	Nickname string `json:"nickname" validate:"required,max=64"`
}

// CreateProfile creates the caller's profile with a zero balance.
func (e Engine) CreateProfile(ctx context.Context, nickname string) (domain.Profile, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	in := profileInput{Nickname: strings.TrimSpace(nickname)}
	if err := check(in); err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		if _, err := e.Repo.GetProfileByIdentity(ctx, tx, id.ID); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		now := e.stamp()
		p = domain.Profile{
			ID:             uuid.NewString(),
			IdentityID:     id.ID,
			Nickname:       in.Nickname,
			PurchasedItems: []string{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrAlreadyExists
			}
			return err
		}
		if err := e.Repo.SetIdentityDisplayName(ctx, tx, id.ID, in.Nickname); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ProfileCreated, "profile", p.ID, id.ID, events.EventPayload{"nickname": p.Nickname})
	})
	if err != nil {
		return domain.Profile{}, err
	}
	e.logger().Info("profile created", zap.String("profile_id", p.ID), zap.String("identity", id.ID))
	return p, nil
}

// GetProfile returns the caller's profile, or nil when the caller is
// anonymous or has none.
func (e Engine) GetProfile(ctx context.Context) (*domain.Profile, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return nil, nil
	}
	return e.GetProfileByIdentity(ctx, id.ID)
}

// GetProfileByIdentity returns the profile of identityID, or nil when it has none.
func (e Engine) GetProfileByIdentity(ctx context.Context, identityID string) (*domain.Profile, error) {
	p, err := e.Repo.GetProfileByIdentity(ctx, nil, identityID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecalculateBalances gives profiles that never earned or spent currency a
// balance equal to their completion count.
func (e Engine) RecalculateBalances(ctx context.Context) (int64, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		var err error
		n, err = e.Repo.BackfillBalances(ctx, tx, e.stamp())
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.BalanceBackfilled, "profile", "", id.ID, events.EventPayload{"profiles": n})
	})
	if err != nil {
		return 0, err
	}
	e.logger().Info("balances recalculated", zap.Int64("profiles", n))
	return n, nil
}
