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

// CompletionResult describes a committed task completion.
type CompletionResult struct {
	Completion         domain.TaskCompletion `json:"completion"`
	ChallengeID        string                `json:"challenge_id"`
	ChallengeCompleted bool                  `json:"challenge_completed"`
	Credited           bool                  `json:"credited"`
	Balance            *int64                `json:"balance,omitempty"`
}

// CompleteTask records the caller as the completer of taskID. The completion,
// the task status, the challenge rollup and the currency credit commit together.
// The first completer wins; later callers get ErrAlreadyCompleted.
func (e Engine) CompleteTask(ctx context.Context, taskID string) (CompletionResult, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		completionsTotal.WithLabelValues("unauthenticated").Inc()
		return CompletionResult{}, err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return CompletionResult{}, invalidf("task id is required")
	}
	reward := e.cfg().Economy.CompletionReward
	var res CompletionResult
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		res = CompletionResult{}
		task, err := e.Repo.GetTask(ctx, tx, taskID)
		if err != nil {
			return notFound(err, "task")
		}
		if task.Status == domain.TaskCompleted {
			return ErrAlreadyCompleted
		}
		if _, err := e.Repo.GetCompletionByTask(ctx, tx, taskID); err == nil {
			return ErrAlreadyCompleted
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		now := e.stamp()
		c := domain.TaskCompletion{ID: uuid.NewString(), TaskID: taskID, IdentityID: id.ID, CompletedAt: now}
		if err := e.Repo.InsertCompletion(ctx, tx, c); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrAlreadyCompleted
			}
			return err
		}
		moved, err := e.Repo.MarkTaskCompleted(ctx, tx, taskID, now)
		if err != nil {
			return err
		}
		if !moved {
			return ErrAlreadyCompleted
		}
		if err := e.appendEvent(ctx, tx, events.TaskCompleted, "task", taskID, id.ID,
			events.EventPayload{"challenge_id": task.ChallengeID, "completion_id": c.ID}); err != nil {
			return err
		}
		flipped, err := e.rollupChallengeTx(ctx, tx, task.ChallengeID, id.ID)
		if err != nil {
			return err
		}
		res = CompletionResult{Completion: c, ChallengeID: task.ChallengeID, ChallengeCompleted: flipped}
		bal, ok, err := e.Repo.CreditProfile(ctx, tx, id.ID, reward, now)
		if err != nil {
			return err
		}
		if ok {
			res.Credited = true
			res.Balance = &bal
			if err := e.appendEvent(ctx, tx, events.BalanceCredited, "identity", id.ID, id.ID,
				events.EventPayload{"amount": reward, "balance": bal, "task_id": taskID}); err != nil {
				return err
			}
		}
		return nil
	})
	completionsTotal.WithLabelValues(outcomeOf(err,
		outcome{ErrAlreadyCompleted, "already_completed"},
		outcome{ErrNotFound, "not_found"},
		outcome{ErrConflict, "conflict"},
	)).Inc()
	if err != nil {
		return CompletionResult{}, err
	}
	if res.Credited {
		currencyCredited.Add(float64(reward))
	}
	if res.ChallengeCompleted {
		challengesCompleted.Inc()
	}
	e.logger().Info("task completed",
		zap.String("task_id", taskID),
		zap.String("identity", id.ID),
		zap.String("challenge_id", res.ChallengeID),
		zap.Bool("challenge_completed", res.ChallengeCompleted),
		zap.Bool("credited", res.Credited))
	return res, nil
}
