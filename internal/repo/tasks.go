package repo

import (
	"context"
	"database/sql"

	"taskquest/internal/domain"
)

func scanTask(s rowScanner) (domain.Task, error) {
	var t domain.Task
	var desc, completedAt sql.NullString
	err := s.Scan(&t.ID, &t.ChallengeID, &t.Title, &desc, &t.Status, &t.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.CompletedAt = stringPtr(completedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO tasks(id, challenge_id, title, description, status, created_at, completed_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.ChallengeID, t.Title, nullable(t.Description), t.Status, t.CreatedAt, nullableStringPtr(t.CompletedAt))
	return duplicateOr(err, "insert task")
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.on(tx).QueryRowContext(ctx,
		`SELECT id, challenge_id, title, description, status, created_at, completed_at FROM tasks WHERE id=?`, id))
}

// MarkTaskCompleted moves a pending task to completed. It reports false when
// the task was not pending.
func (r Repo) MarkTaskCompleted(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE tasks SET status=?, completed_at=? WHERE id=? AND status=?`,
		domain.TaskCompleted, now, id, domain.TaskPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListTaskViews returns the tasks of a challenge in creation order with their
// completer and the most recently attached proof image.
func (r Repo) ListTaskViews(ctx context.Context, tx *sql.Tx, challengeID string) ([]domain.TaskView, error) {
	rows, err := r.on(tx).QueryContext(ctx, `
SELECT t.id, t.challenge_id, t.title, t.description, t.status, t.created_at,
       COALESCE(c.completed_at, t.completed_at),
       COALESCE(c.identity_id, ''), p.nickname,
       pi.id, COALESCE(pi.storage_handle, '')
FROM tasks t
LEFT JOIN task_completions c ON c.task_id = t.id
LEFT JOIN profiles p ON p.identity_id = c.identity_id
LEFT JOIN proof_images pi ON pi.id = (
    SELECT id FROM proof_images WHERE task_id = t.id ORDER BY created_at DESC, rowid DESC LIMIT 1
)
WHERE t.challenge_id = ?
ORDER BY t.created_at ASC, t.rowid ASC`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TaskView{}
	for rows.Next() {
		var v domain.TaskView
		var desc, completedAt, nickname, imageID sql.NullString
		if err := rows.Scan(&v.ID, &v.ChallengeID, &v.Title, &desc, &v.Status, &v.CreatedAt,
			&completedAt, &v.CompleterID, &nickname, &imageID, &v.ProofHandle); err != nil {
			return nil, err
		}
		v.Description = desc.String
		v.CompletedAt = stringPtr(completedAt)
		v.ProofImageID = stringPtr(imageID)
		if v.CompleterID != "" {
			v.CompletedBy = domain.UnknownCompleter
			if nickname.Valid {
				v.CompletedBy = nickname.String
			}
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
