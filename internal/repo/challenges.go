package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskquest/internal/domain"
)

const challengeColumns = `id, title, description, created_by, status, created_at, completed_at`

func scanChallenge(s rowScanner) (domain.Challenge, error) {
	var c domain.Challenge
	var completedAt sql.NullString
	err := s.Scan(&c.ID, &c.Title, &c.Description, &c.CreatedBy, &c.Status, &c.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CompletedAt = stringPtr(completedAt)
	return c, nil
}

func (r Repo) InsertChallenge(ctx context.Context, tx *sql.Tx, c domain.Challenge) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO challenges(id, title, description, created_by, status, created_at, completed_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Title, c.Description, c.CreatedBy, c.Status, c.CreatedAt, nullableStringPtr(c.CompletedAt))
	return duplicateOr(err, "insert challenge")
}

func (r Repo) GetChallenge(ctx context.Context, tx *sql.Tx, id string) (domain.Challenge, error) {
	return scanChallenge(r.on(tx).QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id=?`, id))
}

// ListChallenges returns challenges newest first.
func (r Repo) ListChallenges(ctx context.Context, tx *sql.Tx) ([]domain.Challenge, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	return collectChallenges(rows)
}

func collectChallenges(rows *sql.Rows) ([]domain.Challenge, error) {
	defer rows.Close()
	res := []domain.Challenge{}
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchChallenges matches whitespace-separated tokens against titles,
// case-insensitively. Results are ordered by the number of matched tokens,
// then newest first. An empty query matches nothing.
func (r Repo) SearchChallenges(ctx context.Context, tx *sql.Tx, text string, limit int) ([]domain.Challenge, error) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return []domain.Challenge{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	terms := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for _, tok := range tokens {
		terms = append(terms, `(lower(title) LIKE ? ESCAPE '\')`)
		args = append(args, "%"+likeEscaper.Replace(tok)+"%")
	}
	score := strings.Join(terms, " + ")
	query := `SELECT ` + challengeColumns + ` FROM (SELECT *, rowid AS rid, (` + score + `) AS score FROM challenges)
WHERE score > 0 ORDER BY score DESC, created_at DESC, rid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectChallenges(rows)
}

// MarkChallengeCompleted flips an active challenge to completed. It reports
// false when the challenge was not active.
func (r Repo) MarkChallengeCompleted(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE challenges SET status=?, completed_at=? WHERE id=? AND status=?`,
		domain.ChallengeCompleted, now, id, domain.ChallengeActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountTasks returns the total and still-pending task counts of a challenge.
func (r Repo) CountTasks(ctx context.Context, tx *sql.Tx, challengeID string) (total, open int, err error) {
	err = r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status<>? THEN 1 ELSE 0 END),0) FROM tasks WHERE challenge_id=?`,
		domain.TaskCompleted, challengeID).Scan(&total, &open)
	return total, open, err
}
