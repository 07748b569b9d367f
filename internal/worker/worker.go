package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/cache"
	"image-transformer/internal/infra/rabbitmq"
	"image-transformer/internal/model"
	"image-transformer/internal/processor"
	imagerepo "image-transformer/internal/repository/image"
)

// fileStorage defines the blob backend operations the worker needs.
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
}

// imageRepo defines the image record operations the worker needs.
type imageRepo interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, errMsg string) error
	SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error
	AppendHistory(ctx context.Context, rec model.TransformationRecord) error
}

// resultCache is the subset of the cache the worker uses. Cache errors
// only cost a recomputation, never a job failure.
type resultCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// pipeline executes a transformation spec against raw image bytes.
type pipeline interface {
	Process(src []byte, spec model.TransformationSpec) (*processor.Result, error)
}

// eventProducer publishes terminal job events.
type eventProducer interface {
	Produce(ctx context.Context, evt model.TransformEvent) error
}

// Worker executes transformation jobs delivered from the queue. The
// processing gate is already held when a job arrives: the producer
// acquires it before publishing, and the worker releases it when the
// job reaches a terminal state.
type Worker struct {
	storage  fileStorage
	repo     imageRepo
	cache    resultCache
	pipeline pipeline
	events   eventProducer
	cacheTTL time.Duration
}

// New creates a Worker.
func New(storage fileStorage, repo imageRepo, cache resultCache, pipeline pipeline, events eventProducer, cacheTTL time.Duration) *Worker {
	return &Worker{
		storage:  storage,
		repo:     repo,
		cache:    cache,
		pipeline: pipeline,
		events:   events,
		cacheTTL: cacheTTL,
	}
}

// Handle runs one job to a terminal state. Errors wrapped as permanent
// tell the consumer not to retry; for retryable errors the image stays
// in processing with the gate held until the retry or the final failure.
func (w *Worker) Handle(ctx context.Context, job model.Job, lastAttempt bool) error {
	imageID, err := uuid.Parse(job.ImageID)
	if err != nil {
		// Without a valid image ID there is no record to fail; the
		// message itself is the problem.
		return rabbitmq.Permanent(fmt.Errorf("malformed image id %q: %v", job.ImageID, err))
	}

	if err := job.Transformations.Validate(); err != nil {
		cause := fmt.Errorf("invalid spec in job: %w", err)
		w.finalizeFailure(ctx, job, imageID, cause)
		return rabbitmq.Permanent(cause)
	}

	key, err := cache.KeyFor(job.ImageID, job.Transformations)
	if err != nil {
		cause := fmt.Errorf("derive cache key: %w", err)
		w.finalizeFailure(ctx, job, imageID, cause)
		return rabbitmq.Permanent(cause)
	}

	// Redelivery after a crash can arrive for a job whose result was
	// already produced. A cache hit means only the record finalization
	// needs to be repeated.
	if cached, ok, cerr := w.cache.Get(ctx, key); cerr != nil {
		zlog.Logger.Warn().Err(cerr).Str("job_id", job.JobID).Msg("cache lookup failed, recomputing")
	} else if ok {
		zlog.Logger.Info().
			Str("job_id", job.JobID).
			Str("image_id", job.ImageID).
			Msg("result already cached, finalizing")
		return w.finalizeSuccess(ctx, job, imageID, cached)
	}

	if err := w.repo.UpdateStatus(ctx, imageID, model.StatusProcessing, ""); err != nil {
		// A vanished record is permanent; a flaky database is not.
		return w.classify(ctx, job, imageID, lastAttempt,
			fmt.Errorf("mark processing: %w", err), errors.Is(err, imagerepo.ErrImageNotFound))
	}

	src, err := w.loadSource(ctx, job.SourcePath)
	if err != nil {
		permanent := errors.Is(err, fs.ErrNotExist)
		return w.classify(ctx, job, imageID, lastAttempt, err, permanent)
	}

	result, err := w.pipeline.Process(src, job.Transformations)
	if err != nil {
		// The pipeline is deterministic: the same input fails the same
		// way every time, so retrying is pointless.
		w.finalizeFailure(ctx, job, imageID, err)
		return rabbitmq.Permanent(err)
	}

	outName := fmt.Sprintf("%s_%s.%s", job.ImageID, uuid.New().String()[:8], model.ExtensionFor(result.Format))
	outPath, err := w.storage.Save(ctx, "transformed", outName, bytes.NewReader(result.Bytes))
	if err != nil {
		return w.classify(ctx, job, imageID, lastAttempt, fmt.Errorf("save result: %w", err), false)
	}

	rec := model.TransformationRecord{
		ID:           uuid.New(),
		ImageID:      imageID,
		Spec:         job.Transformations,
		OutputPath:   outPath,
		OutputFormat: result.Format,
		Width:        result.Width,
		Height:       result.Height,
		SizeBytes:    result.SizeBytes,
		CompletedAt:  time.Now().UTC(),
	}
	if err := w.repo.AppendHistory(ctx, rec); err != nil {
		return w.classify(ctx, job, imageID, lastAttempt, fmt.Errorf("append history: %w", err), false)
	}

	if err := w.repo.UpdateStatus(ctx, imageID, model.StatusCompleted, ""); err != nil {
		return w.classify(ctx, job, imageID, lastAttempt, fmt.Errorf("mark completed: %w", err), false)
	}
	if err := w.repo.SetProcessing(ctx, imageID, false); err != nil {
		return w.classify(ctx, job, imageID, lastAttempt, fmt.Errorf("release gate: %w", err), false)
	}

	if err := w.cache.Set(ctx, key, outPath, w.cacheTTL); err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to cache result")
	}

	w.publishEvent(ctx, job, model.StatusCompleted, outPath, "")

	zlog.Logger.Info().
		Str("job_id", job.JobID).
		Str("image_id", job.ImageID).
		Str("output", outPath).
		Int64("size", result.SizeBytes).
		Msg("job completed")

	return nil
}

// loadSource reads the original image bytes from storage.
func (w *Worker) loadSource(ctx context.Context, path string) ([]byte, error) {
	rc, err := w.storage.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return data, nil
}

// classify settles a failed step: permanent failures and exhausted
// budgets are finalized, anything else is left for the retry.
func (w *Worker) classify(ctx context.Context, job model.Job, imageID uuid.UUID, lastAttempt bool, cause error, permanent bool) error {
	if permanent {
		w.finalizeFailure(ctx, job, imageID, cause)
		return rabbitmq.Permanent(cause)
	}
	if lastAttempt {
		w.finalizeFailure(ctx, job, imageID, cause)
		return cause
	}
	return cause
}

// finalizeSuccess repeats the completion bookkeeping for an
// already-produced result.
func (w *Worker) finalizeSuccess(ctx context.Context, job model.Job, imageID uuid.UUID, outPath string) error {
	if err := w.repo.UpdateStatus(ctx, imageID, model.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := w.repo.SetProcessing(ctx, imageID, false); err != nil {
		return fmt.Errorf("release gate: %w", err)
	}
	w.publishEvent(ctx, job, model.StatusCompleted, outPath, "")
	return nil
}

// finalizeFailure records a terminal failure and releases the gate.
// Both writes are best-effort: the job is failing anyway, and the
// consumer will dead-letter it.
func (w *Worker) finalizeFailure(ctx context.Context, job model.Job, imageID uuid.UUID, cause error) {
	// The bookkeeping must land even when the job died to a canceled
	// context.
	ctx = context.WithoutCancel(ctx)
	if err := w.repo.UpdateStatus(ctx, imageID, model.StatusFailed, cause.Error()); err != nil {
		zlog.Logger.Err(err).Str("job_id", job.JobID).Msg("failed to record job failure")
	}
	if err := w.repo.SetProcessing(ctx, imageID, false); err != nil {
		zlog.Logger.Err(err).Str("job_id", job.JobID).Msg("failed to release processing gate")
	}
	w.publishEvent(ctx, job, model.StatusFailed, "", cause.Error())
}

// publishEvent emits a terminal job event. Delivery is at-least-once
// and failures only cost observability, so errors are logged and
// swallowed.
func (w *Worker) publishEvent(ctx context.Context, job model.Job, status model.ProcessingStatus, outputPath, errMsg string) {
	evt := model.TransformEvent{
		JobID:      job.JobID,
		ImageID:    job.ImageID,
		OwnerID:    job.OwnerID,
		Status:     status,
		OutputPath: outputPath,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}
	if err := w.events.Produce(ctx, evt); err != nil {
		zlog.Logger.Err(err).Str("job_id", job.JobID).Msg("failed to publish transform event")
	}
}
