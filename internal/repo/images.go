package repo

import (
	"context"
	"database/sql"

	"taskquest/internal/domain"
)

func (r Repo) InsertProofImage(ctx context.Context, tx *sql.Tx, img domain.ProofImage) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO proof_images(id, task_id, storage_handle, filename, description, mime_type, size, uploaded_by, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		img.ID, img.TaskID, img.StorageHandle, img.Filename, img.Description, img.MimeType, img.Size, img.UploadedBy, img.CreatedAt)
	return duplicateOr(err, "insert proof image")
}

func (r Repo) GetProofImage(ctx context.Context, tx *sql.Tx, id string) (domain.ProofImage, error) {
	var img domain.ProofImage
	err := r.on(tx).QueryRowContext(ctx, `SELECT id, task_id, storage_handle, filename, description, mime_type, size, uploaded_by, created_at FROM proof_images WHERE id=?`, id).
		Scan(&img.ID, &img.TaskID, &img.StorageHandle, &img.Filename, &img.Description, &img.MimeType, &img.Size, &img.UploadedBy, &img.CreatedAt)
	if err == sql.ErrNoRows {
		return img, ErrNotFound
	}
	return img, err
}
