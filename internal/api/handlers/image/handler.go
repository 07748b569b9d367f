package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/api/respond"
	"image-transformer/internal/cache"
	"image-transformer/internal/infra/rabbitmq"
	"image-transformer/internal/model"
	"image-transformer/internal/processor"
	imagerepo "image-transformer/internal/repository/image"
	imagesvc "image-transformer/internal/service/image"
)

// service defines the interface for image-related operations.
type service interface {
	UploadImage(ctx context.Context, ownerID, filename string, file io.Reader) (model.Image, error)
	Transform(ctx context.Context, id uuid.UUID, spec model.TransformationSpec) (*imagesvc.Output, error)
	RequestTransform(ctx context.Context, id uuid.UUID, spec model.TransformationSpec) (model.Job, error)
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, io.ReadCloser, error)
	GetMeta(ctx context.Context, id uuid.UUID) (model.Image, error)
	History(ctx context.Context, id uuid.UUID) ([]model.TransformationRecord, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error
	CacheStats(ctx context.Context) (cache.Stats, error)
}

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// StatusResponse is the polling shape for asynchronous transformations.
type StatusResponse struct {
	ImageID           string                 `json:"imageId"`
	IsProcessing      bool                   `json:"isProcessing"`
	Status            model.ProcessingStatus `json:"status"`
	Error             string                 `json:"error,omitempty"`
	LastTransformedAt *time.Time             `json:"lastTransformedAt,omitempty"`
}

// Upload handles the HTTP request for uploading an image. It reads the
// multipart form, saves the original via the service and responds with
// the created record.
func (h *Handler) Upload(c *ginext.Context) {
	// Parse the multipart form with a 10MB max memory limit.
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to upload the file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to retrieve the file"))
		return
	}
	defer file.Close()

	// Owner identity is opaque; whatever the caller presents is stored.
	owner := c.GetHeader("X-User-ID")

	img, err := h.service.UploadImage(c.Request.Context(), owner, header.Filename, file)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to save the image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to save the image"))
		return
	}

	zlog.Logger.Info().
		Str("image_id", img.ID.String()).
		Str("filename", img.Filename).
		Int64("size", header.Size).
		Msg("image uploaded")

	respond.Created(c, map[string]interface{}{
		"id":       img.ID,
		"filename": img.Filename,
		"path":     img.Path,
		"status":   img.Status,
	})
}

// Transform applies a transformation spec to an image. By default the
// result is computed in the request and returned as image bytes; with
// ?mode=async the job is queued and a 202 with the job id is returned.
func (h *Handler) Transform(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image id"))
		return
	}

	var spec model.TransformationSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid transformation spec: %v", err))
		return
	}

	ctx := c.Request.Context()

	if c.Query("mode") == "async" {
		job, err := h.service.RequestTransform(ctx, id, spec)
		if err != nil {
			h.failTransform(c, id, err)
			return
		}
		respond.Accepted(c, map[string]interface{}{
			"jobId":   job.JobID,
			"imageId": job.ImageID,
			"status":  model.StatusPending,
		})
		return
	}

	out, err := h.service.Transform(ctx, id, spec)
	if err != nil {
		h.failTransform(c, id, err)
		return
	}

	if out.Cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	respond.Image(c, http.StatusOK, model.ContentTypeFor(out.Format), bytes.NewReader(out.Bytes))
}

// failTransform maps transformation errors onto HTTP statuses.
func (h *Handler) failTransform(c *ginext.Context, id uuid.UUID, err error) {
	var verr *model.ValidationError

	switch {
	case errors.As(err, &verr):
		respond.Fail(c, http.StatusBadRequest, verr)
	case errors.Is(err, imagerepo.ErrImageNotFound):
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
	case errors.Is(err, imagerepo.ErrAlreadyProcessing):
		respond.Fail(c, http.StatusConflict, fmt.Errorf("image is already being processed"))
	case errors.Is(err, processor.ErrSourceUnreadable), errors.Is(err, processor.ErrProcessingFailed):
		respond.Fail(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, rabbitmq.ErrQueueUnavailable):
		respond.Fail(c, http.StatusServiceUnavailable, fmt.Errorf("transformation queue unavailable"))
	default:
		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("transformation failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to transform image"))
	}
}

// Get serves the original image bytes for a given image ID.
func (h *Handler) Get(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image id"))
		return
	}

	img, reader, err := h.service.GetImage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}

		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to get image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get image"))
		return
	}
	defer reader.Close()

	// Disable browser caching to always fetch the latest image.
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	respond.Image(c, http.StatusOK, model.ContentTypeFor(img.Format), reader)
}

// GetMeta returns the image record without serving the file itself.
func (h *Handler) GetMeta(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image id"))
		return
	}

	img, err := h.service.GetMeta(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get image"))
		return
	}

	respond.OK(c, img)
}

// Status reports whether the image is being processed, for polling after
// an asynchronous transform.
func (h *Handler) Status(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image id"))
		return
	}

	img, err := h.service.GetMeta(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get image"))
		return
	}

	respond.OK(c, StatusResponse{
		ImageID:           img.ID.String(),
		IsProcessing:      img.IsProcessing,
		Status:            img.Status,
		Error:             img.Error,
		LastTransformedAt: img.LastTransformedAt,
	})
}

// History lists the completed transformations of an image, newest first.
func (h *Handler) History(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image id"))
		return
	}

	records, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list transformations"))
		return
	}

	respond.OK(c, records)
}

// Delete removes an image by ID together with its outputs and cache entries.
func (h *Handler) Delete(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image id"))
		return
	}

	if err := h.service.DeleteImage(c.Request.Context(), id); err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}

		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to delete the image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to delete image"))
		return
	}

	c.Status(http.StatusNoContent)
}

// CacheStats exposes the result cache counters.
func (h *Handler) CacheStats(c *ginext.Context) {
	stats, err := h.service.CacheStats(c.Request.Context())
	if err != nil {
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to read cache stats"))
		return
	}

	respond.OK(c, stats)
}

// Health reports service liveness.
func (h *Handler) Health(c *ginext.Context) {
	respond.OK(c, map[string]string{"status": "ok"})
}
