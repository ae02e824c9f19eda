package engine

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskquest/internal/domain"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
)

// ErrNoBlobStore is returned by upload paths when storage is not configured.
var ErrNoBlobStore = errors.New("blob storage not configured")

// Upload is the result of storing proof bytes.
type Upload struct {
	StorageHandle string `json:"storage_handle"`
	Size          int64  `json:"size"`
	URL           string `json:"url,omitempty"`
}

// UploadProof stores proof bytes and returns an opaque handle. Any file is
// accepted.
func (e Engine) UploadProof(ctx context.Context, filename, contentType string, r io.Reader) (Upload, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return Upload{}, err
	}
	if e.Blob == nil {
		return Upload{}, ErrNoBlobStore
	}
	handle, size, err := e.Blob.Put(ctx, filename, contentType, r)
	if err != nil {
		return Upload{}, err
	}
	e.logger().Info("proof uploaded", zap.String("handle", handle), zap.Int64("size", size), zap.String("identity", id.ID))
	return Upload{StorageHandle: handle, Size: size, URL: e.blobURL(ctx, handle)}, nil
}

// ProofInput describes an uploaded image to attach to a task.
type ProofInput struct {
	TaskID        string `json:"task_id" validate:"required"`
	StorageHandle string `json:"storage_handle" validate:"required,max=512"`
	Filename      string `json:"filename" validate:"required,max=255"`
	Description   string `json:"description,omitempty" validate:"max=2000"`
	MimeType      string `json:"mime_type" validate:"max=127"`
	Size          int64  `json:"size" validate:"gte=0"`
}

// AttachProofImage records proof metadata for a task. Attachment and
// completion may happen in either order.
func (e Engine) AttachProofImage(ctx context.Context, in ProofInput) (domain.ProofImage, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return domain.ProofImage{}, err
	}
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.StorageHandle = strings.TrimSpace(in.StorageHandle)
	in.Filename = strings.TrimSpace(in.Filename)
	if err := check(in); err != nil {
		return domain.ProofImage{}, err
	}
	if in.MimeType == "" {
		in.MimeType = "application/octet-stream"
	}
	var img domain.ProofImage
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetTask(ctx, tx, in.TaskID); err != nil {
			return notFound(err, "task")
		}
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		img = domain.ProofImage{
			ID:            uuid.NewString(),
			TaskID:        in.TaskID,
			StorageHandle: in.StorageHandle,
			Filename:      in.Filename,
			Description:   in.Description,
			MimeType:      in.MimeType,
			Size:          in.Size,
			UploadedBy:    id.ID,
			CreatedAt:     e.stamp(),
		}
		if err := e.Repo.InsertProofImage(ctx, tx, img); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ProofAttached, "task", in.TaskID, id.ID, events.EventPayload{"image_id": img.ID})
	})
	if err != nil {
		return domain.ProofImage{}, err
	}
	img.URL = e.blobURL(ctx, img.StorageHandle)
	return img, nil
}

// GetProofImage returns image metadata with a retrievable URL.
func (e Engine) GetProofImage(ctx context.Context, imageID string) (domain.ProofImage, error) {
	img, err := e.Repo.GetProofImage(ctx, nil, imageID)
	if err != nil {
		return domain.ProofImage{}, notFound(err, "proof image")
	}
	img.URL = e.blobURL(ctx, img.StorageHandle)
	return img, nil
}
