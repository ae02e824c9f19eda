package engine

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
)

// rollupChallengeTx completes the challenge when it has tasks and none is
// pending. It reports true only for the transaction that flipped the status.
func (e Engine) rollupChallengeTx(ctx context.Context, tx *sql.Tx, challengeID, actorID string) (bool, error) {
	total, open, err := e.Repo.CountTasks(ctx, tx, challengeID)
	if err != nil {
		return false, err
	}
	if total == 0 || open > 0 {
		return false, nil
	}
	flipped, err := e.Repo.MarkChallengeCompleted(ctx, tx, challengeID, e.stamp())
	if err != nil || !flipped {
		return false, err
	}
	if err := e.appendEvent(ctx, tx, events.ChallengeCompleted, "challenge", challengeID, actorID,
		events.EventPayload{"tasks": total}); err != nil {
		return false, err
	}
	return true, nil
}

// RecomputeChallenge reruns the rollup for one challenge.
func (e Engine) RecomputeChallenge(ctx context.Context, challengeID string) (bool, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return false, err
	}
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return false, invalidf("challenge id is required")
	}
	var flipped bool
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetChallenge(ctx, tx, challengeID); err != nil {
			return notFound(err, "challenge")
		}
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		var err error
		flipped, err = e.rollupChallengeTx(ctx, tx, challengeID, id.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	if flipped {
		challengesCompleted.Inc()
		e.logger().Info("challenge completed", zap.String("challenge_id", challengeID), zap.String("identity", id.ID))
	}
	return flipped, nil
}
