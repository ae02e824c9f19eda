package repo

import (
	"context"
	"database/sql"

	"taskquest/internal/domain"
)

// InsertCompletion appends a completion. A second completion for the same
// task fails with ErrDuplicate.
func (r Repo) InsertCompletion(ctx context.Context, tx *sql.Tx, c domain.TaskCompletion) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO task_completions(id, task_id, identity_id, completed_at) VALUES (?,?,?,?)`,
		c.ID, c.TaskID, c.IdentityID, c.CompletedAt)
	return duplicateOr(err, "insert completion")
}

func (r Repo) GetCompletionByTask(ctx context.Context, tx *sql.Tx, taskID string) (domain.TaskCompletion, error) {
	var c domain.TaskCompletion
	err := r.on(tx).QueryRowContext(ctx, `SELECT id, task_id, identity_id, completed_at FROM task_completions WHERE task_id=?`, taskID).
		Scan(&c.ID, &c.TaskID, &c.IdentityID, &c.CompletedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}
