package image

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"image-transformer/internal/model"
)

var (
	ErrImageNotFound = errors.New("image not found")
	// ErrAlreadyProcessing means the processing gate is held by another
	// transformation of the same image.
	ErrAlreadyProcessing = errors.New("image is already being processed")
)

// Repository provides CRUD operations for images and their
// transformation history in the database.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateImage inserts a new image record.
func (r *Repository) CreateImage(ctx context.Context, img model.Image) error {
	query := `
		INSERT INTO images (id, owner_id, filename, path, format, status)
		VALUES ($1, $2, $3, $4, $5, $6)
   `

	_, err := r.db.ExecContext(
		ctx, query, img.ID, img.OwnerID, img.Filename, img.Path, img.Format, img.Status,
	)
	if err != nil {
		return fmt.Errorf("create: failed to save image: %w", err)
	}

	return nil
}

// GetImage retrieves an image record by ID.
func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	query := `
		SELECT owner_id, filename, path, format, status, error, is_processing,
		       last_transformed_at, created_at, updated_at
		FROM images
		WHERE id = $1
    `

	var (
		img         model.Image
		errMsg      sql.NullString
		transformed sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&img.OwnerID, &img.Filename, &img.Path, &img.Format, &img.Status,
		&errMsg, &img.IsProcessing, &transformed, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Image{}, ErrImageNotFound
		}

		return model.Image{}, fmt.Errorf("get: failed to get image: %w", err)
	}

	img.ID = id
	img.Error = errMsg.String
	if transformed.Valid {
		t := transformed.Time
		img.LastTransformedAt = &t
	}

	return img, nil
}

// UpdateStatus sets the processing status and, for failures, the error
// text. A non-failure status clears any previous error.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, errMsg string) error {
	query := `
		UPDATE images
		SET status = $1, error = $2, updated_at = now()
		WHERE id = $3
    `

	res, err := r.db.ExecContext(ctx, query, status, sql.NullString{String: errMsg, Valid: errMsg != ""}, id)
	if err != nil {
		return fmt.Errorf("update status: failed to update image: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrImageNotFound
	}

	return nil
}

// SetProcessing acquires or releases the per-image processing gate.
// Acquisition is a compare-and-set: the update only matches rows where
// the gate is currently free, so two concurrent requests cannot both
// win. Losing the race returns ErrAlreadyProcessing.
func (r *Repository) SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error {
	if processing {
		query := `
			UPDATE images
			SET is_processing = TRUE, updated_at = now()
			WHERE id = $1 AND is_processing = FALSE
		`

		res, err := r.db.ExecContext(ctx, query, id)
		if err != nil {
			return fmt.Errorf("set processing: failed to acquire gate: %w", err)
		}

		rows, _ := res.RowsAffected()
		if rows == 0 {
			// Either the image is gone or the gate is held; look once
			// to tell the two apart.
			if _, err := r.GetImage(ctx, id); err != nil {
				return err
			}
			return ErrAlreadyProcessing
		}

		return nil
	}

	query := `
		UPDATE images
		SET is_processing = FALSE, updated_at = now()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("set processing: failed to release gate: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrImageNotFound
	}

	return nil
}

// AppendHistory records a completed transformation and stamps the
// image's last_transformed_at in the same transaction.
func (r *Repository) AppendHistory(ctx context.Context, rec model.TransformationRecord) error {
	specJSON, err := json.Marshal(rec.Spec)
	if err != nil {
		return fmt.Errorf("history: failed to marshal spec: %w", err)
	}

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO transformations (id, image_id, spec, output_path, output_format, width, height, size_bytes, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(
		ctx, insert, rec.ID, rec.ImageID, specJSON, rec.OutputPath, rec.OutputFormat,
		rec.Width, rec.Height, rec.SizeBytes, rec.CompletedAt,
	); err != nil {
		return fmt.Errorf("history: failed to insert record: %w", err)
	}

	stamp := `
		UPDATE images SET last_transformed_at = $1, updated_at = now() WHERE id = $2
	`
	if _, err := tx.ExecContext(ctx, stamp, rec.CompletedAt, rec.ImageID); err != nil {
		return fmt.Errorf("history: failed to stamp image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: failed to commit: %w", err)
	}

	return nil
}

// History returns the transformations of an image, newest first.
func (r *Repository) History(ctx context.Context, imageID uuid.UUID) ([]model.TransformationRecord, error) {
	query := `
		SELECT id, spec, output_path, output_format, width, height, size_bytes, completed_at
		FROM transformations
		WHERE image_id = $1
		ORDER BY completed_at DESC
	`

	rows, err := r.db.Master.QueryContext(ctx, query, imageID)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query: %w", err)
	}
	defer rows.Close()

	var records []model.TransformationRecord
	for rows.Next() {
		var (
			rec      model.TransformationRecord
			specJSON []byte
		)
		if err := rows.Scan(
			&rec.ID, &specJSON, &rec.OutputPath, &rec.OutputFormat,
			&rec.Width, &rec.Height, &rec.SizeBytes, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("history: failed to scan record: %w", err)
		}
		if err := json.Unmarshal(specJSON, &rec.Spec); err != nil {
			return nil, fmt.Errorf("history: failed to unmarshal spec: %w", err)
		}
		rec.ImageID = imageID
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: failed to iterate: %w", err)
	}

	return records, nil
}

// DeleteImage deletes an image record by ID. Transformation history
// rows go with it via the foreign key cascade.
func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM images WHERE id = $1
    `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: failed to delete image: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrImageNotFound
	}

	return nil
}
