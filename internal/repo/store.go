package repo

import (
	"context"
	"database/sql"

	"taskquest/internal/domain"
)

// InsertStoreItemIfAbsent inserts a catalog item keyed by image ref. It
// reports false when an item with that ref already exists.
func (r Repo) InsertStoreItemIfAbsent(ctx context.Context, tx *sql.Tx, it domain.StoreItem) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO store_items(id, image_ref, name, description, price, type, created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(image_ref) DO NOTHING`,
		it.ID, it.ImageRef, it.Name, it.Description, it.Price, it.Type, it.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) GetStoreItemByRef(ctx context.Context, tx *sql.Tx, imageRef string) (domain.StoreItem, error) {
	var it domain.StoreItem
	err := r.on(tx).QueryRowContext(ctx, `SELECT id, image_ref, name, description, price, type, created_at FROM store_items WHERE image_ref=?`, imageRef).
		Scan(&it.ID, &it.ImageRef, &it.Name, &it.Description, &it.Price, &it.Type, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListStoreItems(ctx context.Context, tx *sql.Tx) ([]domain.StoreItem, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id, image_ref, name, description, price, type, created_at FROM store_items ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StoreItem{}
	for rows.Next() {
		var it domain.StoreItem
		if err := rows.Scan(&it.ID, &it.ImageRef, &it.Name, &it.Description, &it.Price, &it.Type, &it.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
