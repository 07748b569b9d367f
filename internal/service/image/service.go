package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/cache"
	"image-transformer/internal/model"
	"image-transformer/internal/processor"
	imagerepo "image-transformer/internal/repository/image"
)

// fileStorage defines the interface for storing files (e.g., local filesystem or S3).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// imageRepo defines the image and history persistence the service needs.
type imageRepo interface {
	CreateImage(ctx context.Context, img model.Image) error
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, errMsg string) error
	SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error
	AppendHistory(ctx context.Context, rec model.TransformationRecord) error
	History(ctx context.Context, imageID uuid.UUID) ([]model.TransformationRecord, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error
}

// jobQueue defines the interface for enqueueing transformation jobs.
type jobQueue interface {
	Publish(ctx context.Context, job model.Job) error
}

// resultCache stores produced result paths keyed by image and spec.
type resultCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByImage(ctx context.Context, imageID string) (int, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

// pipeline executes a transformation spec against raw image bytes.
type pipeline interface {
	Process(src []byte, spec model.TransformationSpec) (*processor.Result, error)
}

// Output is the result of a synchronous transformation.
type Output struct {
	Bytes     []byte
	Path      string
	Format    string
	Width     int
	Height    int
	SizeBytes int64
	Cached    bool
}

// Service provides business logic for image operations: uploads, both
// synchronous and queued transformations, history and deletion.
type Service struct {
	storage  fileStorage
	repo     imageRepo
	queue    jobQueue
	cache    resultCache
	pipeline pipeline
	cacheTTL time.Duration

	// sem bounds how many synchronous transformations decode at once.
	sem chan struct{}
}

// NewService creates a new Service.
func NewService(storage fileStorage, repo imageRepo, queue jobQueue, c resultCache, pl pipeline, cacheTTL time.Duration, maxConcurrent int) *Service {
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultTTL
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Service{
		storage:  storage,
		repo:     repo,
		queue:    queue,
		cache:    c,
		pipeline: pl,
		cacheTTL: cacheTTL,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// UploadImage stores the original file and creates its record. The file
// is kept under a generated name; the upload name survives in the record.
func (s *Service) UploadImage(ctx context.Context, ownerID, filename string, file io.Reader) (model.Image, error) {
	id := uuid.New()
	ext := strings.ToLower(filepath.Ext(filename))
	storedName := id.String() + ext

	dst, err := s.storage.Save(ctx, "original", storedName, file)
	if err != nil {
		return model.Image{}, fmt.Errorf("upload: failed to save file: %w", err)
	}

	format, _ := model.NormalizeFormat(ext)
	now := time.Now().UTC()
	img := model.Image{
		ID:        id,
		OwnerID:   ownerID,
		Filename:  filename,
		Path:      dst,
		Format:    format,
		Status:    model.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateImage(ctx, img); err != nil {
		// The blob without a record is unreachable; try not to leak it.
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), dst); delErr != nil {
			zlog.Logger.Warn().Err(delErr).Str("path", dst).Msg("failed to clean up orphaned upload")
		}
		return model.Image{}, fmt.Errorf("upload: failed to save record: %w", err)
	}

	return img, nil
}

// Transform runs the spec against the image in the calling request and
// returns the produced bytes. The per-image gate is held for the
// duration, so a concurrent request gets ErrAlreadyProcessing instead
// of a duplicate computation.
func (s *Service) Transform(ctx context.Context, id uuid.UUID, spec model.TransformationSpec) (*Output, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}

	key, err := cache.KeyFor(id.String(), spec)
	if err != nil {
		return nil, fmt.Errorf("transform: failed to derive cache key: %w", err)
	}

	if out, ok := s.fromCache(ctx, key); ok {
		return out, nil
	}

	if err := s.repo.SetProcessing(ctx, id, true); err != nil {
		return nil, err
	}
	defer func() {
		// Release must survive a canceled request context.
		if err := s.repo.SetProcessing(context.WithoutCancel(ctx), id, false); err != nil {
			zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to release processing gate")
		}
	}()

	if err := s.repo.UpdateStatus(ctx, id, model.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("transform: failed to mark processing: %w", err)
	}

	src, err := s.loadSource(ctx, img.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.markFailed(ctx, id, "source file missing")
			return nil, fmt.Errorf("transform: source file missing: %w", imagerepo.ErrImageNotFound)
		}
		return nil, fmt.Errorf("transform: %w", err)
	}

	// Decoding and filtering are the expensive part; keep the number of
	// concurrent pipelines bounded.
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	result, perr := s.pipeline.Process(src, spec)
	<-s.sem

	if perr != nil {
		s.markFailed(ctx, id, perr.Error())
		return nil, perr
	}

	outName := fmt.Sprintf("%s_%s.%s", id, uuid.New().String()[:8], model.ExtensionFor(result.Format))
	outPath, err := s.storage.Save(ctx, "transformed", outName, bytes.NewReader(result.Bytes))
	if err != nil {
		s.markFailed(ctx, id, "failed to store result")
		return nil, fmt.Errorf("transform: failed to save result: %w", err)
	}

	rec := model.TransformationRecord{
		ID:           uuid.New(),
		ImageID:      id,
		Spec:         spec,
		OutputPath:   outPath,
		OutputFormat: result.Format,
		Width:        result.Width,
		Height:       result.Height,
		SizeBytes:    result.SizeBytes,
		CompletedAt:  time.Now().UTC(),
	}
	if err := s.repo.AppendHistory(ctx, rec); err != nil {
		// The client already has a result on the way; history is not
		// worth failing the request over.
		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to append history")
	}
	if err := s.repo.UpdateStatus(ctx, id, model.StatusCompleted, ""); err != nil {
		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to mark completed")
	}
	if err := s.cache.Set(ctx, key, outPath, s.cacheTTL); err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("failed to cache result")
	}

	return &Output{
		Bytes:     result.Bytes,
		Path:      outPath,
		Format:    result.Format,
		Width:     result.Width,
		Height:    result.Height,
		SizeBytes: result.SizeBytes,
	}, nil
}

// RequestTransform validates the spec, acquires the processing gate and
// enqueues a job. If the publish fails the gate is rolled back, so the
// image never sticks in processing with no job behind it.
func (s *Service) RequestTransform(ctx context.Context, id uuid.UUID, spec model.TransformationSpec) (model.Job, error) {
	if err := spec.Validate(); err != nil {
		return model.Job{}, err
	}

	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return model.Job{}, err
	}

	if err := s.repo.SetProcessing(ctx, id, true); err != nil {
		return model.Job{}, err
	}

	job := model.NewJob(img, spec)
	if err := s.queue.Publish(ctx, job); err != nil {
		if relErr := s.repo.SetProcessing(context.WithoutCancel(ctx), id, false); relErr != nil {
			zlog.Logger.Err(relErr).Str("image_id", id.String()).Msg("failed to roll back processing gate")
		}
		return model.Job{}, fmt.Errorf("transform: failed to enqueue job: %w", err)
	}

	if err := s.repo.UpdateStatus(ctx, id, model.StatusPending, ""); err != nil {
		// The job is already on its way; the status catches up when the
		// worker picks it up.
		zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("failed to mark pending")
	}

	return job, nil
}

// GetImage returns the image record together with a reader over the
// original file.
func (s *Service) GetImage(ctx context.Context, id uuid.UUID) (model.Image, io.ReadCloser, error) {
	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return model.Image{}, nil, err
	}

	rc, err := s.storage.Load(ctx, img.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Image{}, nil, fmt.Errorf("get: source file missing: %w", imagerepo.ErrImageNotFound)
		}
		return model.Image{}, nil, fmt.Errorf("get: failed to load file: %w", err)
	}

	return img, rc, nil
}

// GetMeta returns the image record only.
func (s *Service) GetMeta(ctx context.Context, id uuid.UUID) (model.Image, error) {
	return s.repo.GetImage(ctx, id)
}

// History lists the completed transformations of an image, newest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]model.TransformationRecord, error) {
	if _, err := s.repo.GetImage(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// DeleteImage removes the record, the original file, the derived
// outputs and any cached results. Blob cleanup is best-effort; the
// record deletion is what makes the image gone.
func (s *Service) DeleteImage(ctx context.Context, id uuid.UUID) error {
	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return err
	}

	records, err := s.repo.History(ctx, id)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("failed to list outputs for cleanup")
	}
	for _, rec := range records {
		if err := s.storage.Delete(ctx, rec.OutputPath); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", rec.OutputPath).Msg("failed to delete output")
		}
	}
	if err := s.storage.Delete(ctx, img.Path); err != nil {
		zlog.Logger.Warn().Err(err).Str("path", img.Path).Msg("failed to delete original")
	}
	if _, err := s.cache.DeleteByImage(ctx, id.String()); err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("failed to purge cache")
	}

	return s.repo.DeleteImage(ctx, id)
}

// CacheStats reports the result cache counters.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}

// fromCache serves a transformation from a previously produced output.
// Every failure along the way degrades to a miss.
func (s *Service) fromCache(ctx context.Context, key string) (*Output, bool) {
	path, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("cache lookup failed, recomputing")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	rc, err := s.storage.Load(ctx, path)
	if err != nil {
		// The cached output vanished from storage; drop the stale entry.
		zlog.Logger.Warn().Err(err).Str("path", path).Msg("cached result unreadable, recomputing")
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			zlog.Logger.Warn().Err(delErr).Msg("failed to drop stale cache entry")
		}
		return nil, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("path", path).Msg("cached result unreadable, recomputing")
		return nil, false
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("path", path).Msg("cached result not an image, recomputing")
		return nil, false
	}
	normalized, _ := model.NormalizeFormat(format)

	return &Output{
		Bytes:     data,
		Path:      path,
		Format:    normalized,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: int64(len(data)),
		Cached:    true,
	}, true
}

func (s *Service) loadSource(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.storage.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return data, nil
}

func (s *Service) markFailed(ctx context.Context, id uuid.UUID, reason string) {
	if err := s.repo.UpdateStatus(context.WithoutCancel(ctx), id, model.StatusFailed, reason); err != nil {
		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to record failure")
	}
}
