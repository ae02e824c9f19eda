package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureIdentity(ctx context.Context, tx *sql.Tx, identityID string, now string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO identities(id, created_at) VALUES (?,?)`, identityID, now)
	return err
}

func (r Repo) SetIdentityDisplayName(ctx context.Context, tx *sql.Tx, identityID, name string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE identities SET display_name=? WHERE id=?`, nullable(name), identityID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
