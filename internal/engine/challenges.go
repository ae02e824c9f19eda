package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskquest/internal/blob"
	"taskquest/internal/domain"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
	"taskquest/internal/suggest"
)

// TaskInput describes a task to add to a challenge.
type TaskInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=2000"`
}

// ChallengeInput describes a new challenge and its initial tasks.
type ChallengeInput struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description string      `json:"description,omitempty" validate:"max=2000"`
	Tasks       []TaskInput `json:"tasks,omitempty" validate:"max=50,dive"`
}

func (in *ChallengeInput) trim() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	for i := range in.Tasks {
		in.Tasks[i].Title = strings.TrimSpace(in.Tasks[i].Title)
		in.Tasks[i].Description = strings.TrimSpace(in.Tasks[i].Description)
	}
}

// ChallengeWithTasks is a challenge together with the tasks created with it.
type ChallengeWithTasks struct {
	Challenge domain.Challenge `json:"challenge"`
	Tasks     []domain.Task    `json:"tasks"`
}

// CreateChallenge creates an active challenge and its initial tasks atomically.
func (e Engine) CreateChallenge(ctx context.Context, in ChallengeInput) (ChallengeWithTasks, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return ChallengeWithTasks{}, err
	}
	in.trim()
	if err := check(in); err != nil {
		return ChallengeWithTasks{}, err
	}
	var out ChallengeWithTasks
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		now := e.stamp()
		out = ChallengeWithTasks{
			Challenge: domain.Challenge{
				ID:          uuid.NewString(),
				Title:       in.Title,
				Description: in.Description,
				CreatedBy:   id.ID,
				Status:      domain.ChallengeActive,
				CreatedAt:   now,
			},
			Tasks: []domain.Task{},
		}
		if err := e.Repo.InsertChallenge(ctx, tx, out.Challenge); err != nil {
			return err
		}
		for _, ti := range in.Tasks {
			t := domain.Task{
				ID:          uuid.NewString(),
				ChallengeID: out.Challenge.ID,
				Title:       ti.Title,
				Description: ti.Description,
				Status:      domain.TaskPending,
				CreatedAt:   now,
			}
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return err
			}
			out.Tasks = append(out.Tasks, t)
		}
		return e.appendEvent(ctx, tx, events.ChallengeCreated, "challenge", out.Challenge.ID, id.ID,
			events.EventPayload{"title": out.Challenge.Title, "tasks": len(out.Tasks)})
	})
	if err != nil {
		return ChallengeWithTasks{}, err
	}
	e.logger().Info("challenge created", zap.String("challenge_id", out.Challenge.ID), zap.Int("tasks", len(out.Tasks)))
	return out, nil
}

// SuggestChallenge asks the configured generator for a draft.
func (e Engine) SuggestChallenge(ctx context.Context, text string) (suggest.Draft, error) {
	if e.Suggest == nil {
		return suggest.Draft{}, suggest.ErrUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return suggest.Draft{}, invalidf("text is required")
	}
	return e.Suggest.Generate(ctx, text)
}

// CreateChallengeFromDraft persists a generated draft as a challenge.
func (e Engine) CreateChallengeFromDraft(ctx context.Context, d suggest.Draft) (ChallengeWithTasks, error) {
	if err := d.Validate(); err != nil {
		return ChallengeWithTasks{}, InputError{Msg: err.Error()}
	}
	in := ChallengeInput{Title: d.Title, Description: d.Description}
	for _, t := range d.Tasks {
		in.Tasks = append(in.Tasks, TaskInput{Title: t.Task, Description: t.Description})
	}
	return e.CreateChallenge(ctx, in)
}

// ListChallenges returns all challenges, newest first.
func (e Engine) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	return e.Repo.ListChallenges(ctx, nil)
}

func (e Engine) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	c, err := e.Repo.GetChallenge(ctx, nil, id)
	if err != nil {
		return domain.Challenge{}, notFound(err, "challenge")
	}
	return c, nil
}

// SearchChallenges returns challenges ranked by title relevance.
func (e Engine) SearchChallenges(ctx context.Context, text string, limit int) ([]domain.Challenge, error) {
	if len(text) > 200 {
		return nil, invalidf("q must be at most 200 characters")
	}
	return e.Repo.SearchChallenges(ctx, nil, text, limit)
}

// CreateTask adds a pending task to an active challenge.
func (e Engine) CreateTask(ctx context.Context, challengeID string, in TaskInput) (domain.Task, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := check(in); err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetChallenge(ctx, tx, challengeID)
		if err != nil {
			return notFound(err, "challenge")
		}
		if c.Status == domain.ChallengeCompleted {
			return ErrChallengeCompleted
		}
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		t = domain.Task{
			ID:          uuid.NewString(),
			ChallengeID: c.ID,
			Title:       in.Title,
			Description: in.Description,
			Status:      domain.TaskPending,
			CreatedAt:   e.stamp(),
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.TaskCreated, "task", t.ID, id.ID, events.EventPayload{"challenge_id": c.ID})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TasksWithCompletion returns a challenge's tasks with completer names and
// proof image URLs.
func (e Engine) TasksWithCompletion(ctx context.Context, challengeID string) ([]domain.TaskView, error) {
	if _, err := e.Repo.GetChallenge(ctx, nil, challengeID); err != nil {
		return nil, notFound(err, "challenge")
	}
	views, err := e.Repo.ListTaskViews(ctx, nil, challengeID)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if views[i].ProofHandle == "" {
			continue
		}
		views[i].ProofImageURL = e.blobURL(ctx, views[i].ProofHandle)
	}
	return views, nil
}

// blobURL resolves handle, returning "" when storage cannot.
func (e Engine) blobURL(ctx context.Context, handle string) string {
	if e.Blob == nil {
		return ""
	}
	u, err := e.Blob.URL(ctx, handle)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			e.logger().Warn("resolve blob url", zap.String("handle", handle), zap.Error(err))
		}
		return ""
	}
	return u
}
