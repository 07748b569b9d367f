package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"image-transformer/internal/cache"
	"image-transformer/internal/infra/rabbitmq"
	"image-transformer/internal/model"
	"image-transformer/internal/processor"
)

type fakeStorage struct {
	files   map[string][]byte
	saveErr error
	loadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: map[string][]byte{}}
}

func (f *fakeStorage) Save(_ context.Context, subdir, filename string, src io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	path := subdir + "/" + filename
	f.files[path] = data
	return path, nil
}

func (f *fakeStorage) Load(_ context.Context, path string) (io.ReadCloser, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeRepo struct {
	statuses   []model.ProcessingStatus
	errMsgs    []string
	processing bool
	history    []model.TransformationRecord
	historyErr error
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ uuid.UUID, status model.ProcessingStatus, errMsg string) error {
	f.statuses = append(f.statuses, status)
	f.errMsgs = append(f.errMsgs, errMsg)
	return nil
}

func (f *fakeRepo) SetProcessing(_ context.Context, _ uuid.UUID, processing bool) error {
	f.processing = processing
	return nil
}

func (f *fakeRepo) AppendHistory(_ context.Context, rec model.TransformationRecord) error {
	if f.historyErr != nil {
		return f.historyErr
	}
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeRepo) lastStatus() model.ProcessingStatus {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakePipeline struct {
	calls  int
	result *processor.Result
	err    error
}

func (f *fakePipeline) Process(_ []byte, _ model.TransformationSpec) (*processor.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeEvents struct {
	events []model.TransformEvent
}

func (f *fakeEvents) Produce(_ context.Context, evt model.TransformEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type fixture struct {
	worker   *Worker
	storage  *fakeStorage
	repo     *fakeRepo
	cache    *cache.Memory
	pipeline *fakePipeline
	events   *fakeEvents
	job      model.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	storage := newFakeStorage()
	storage.files["original/src.png"] = []byte("source-bytes")

	repo := &fakeRepo{processing: true} // the producer acquired the gate
	mem := cache.NewMemory(100, time.Minute)
	pl := &fakePipeline{result: &processor.Result{
		Bytes:     []byte("result-bytes"),
		Format:    model.FormatPNG,
		Width:     100,
		Height:    80,
		SizeBytes: 12,
	}}
	events := &fakeEvents{}

	return &fixture{
		worker:   New(storage, repo, mem, pl, events, time.Minute),
		storage:  storage,
		repo:     repo,
		cache:    mem,
		pipeline: pl,
		events:   events,
		job: model.Job{
			JobID:            uuid.New().String(),
			ImageID:          uuid.New().String(),
			OwnerID:          "owner-1",
			SourcePath:       "original/src.png",
			OriginalFilename: "src.png",
			Transformations:  model.TransformationSpec{Rotate: 90},
			CreatedAt:        time.Now().UTC(),
		},
	}
}

func TestHandleSuccess(t *testing.T) {
	fx := newFixture(t)

	if err := fx.worker.Handle(context.Background(), fx.job, false); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	wantStatuses := []model.ProcessingStatus{model.StatusProcessing, model.StatusCompleted}
	if len(fx.repo.statuses) != 2 || fx.repo.statuses[0] != wantStatuses[0] || fx.repo.statuses[1] != wantStatuses[1] {
		t.Errorf("status sequence = %v, want %v", fx.repo.statuses, wantStatuses)
	}
	if fx.repo.processing {
		t.Error("processing gate still held after completion")
	}

	if len(fx.repo.history) != 1 {
		t.Fatalf("history records = %d, want 1", len(fx.repo.history))
	}
	rec := fx.repo.history[0]
	if rec.OutputFormat != model.FormatPNG || rec.Width != 100 || rec.Height != 80 {
		t.Errorf("history record = %+v", rec)
	}
	if !strings.HasPrefix(rec.OutputPath, "transformed/") {
		t.Errorf("output path = %q, want transformed/ subdir", rec.OutputPath)
	}
	if _, ok := fx.storage.files[rec.OutputPath]; !ok {
		t.Errorf("output %q not written to storage", rec.OutputPath)
	}

	key, _ := cache.KeyFor(fx.job.ImageID, fx.job.Transformations)
	if cached, ok, _ := fx.cache.Get(context.Background(), key); !ok || cached != rec.OutputPath {
		t.Errorf("cache entry = (%q, %v), want the output path", cached, ok)
	}

	if len(fx.events.events) != 1 || fx.events.events[0].Status != model.StatusCompleted {
		t.Errorf("events = %+v, want one completed event", fx.events.events)
	}
}

func TestHandlePipelineFailureIsPermanent(t *testing.T) {
	fx := newFixture(t)
	fx.pipeline.err = fmt.Errorf("%w: crop exceeds bounds", processor.ErrProcessingFailed)

	err := fx.worker.Handle(context.Background(), fx.job, false)
	if err == nil {
		t.Fatal("Handle succeeded, want error")
	}
	if !rabbitmq.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}

	if got := fx.repo.lastStatus(); got != model.StatusFailed {
		t.Errorf("last status = %s, want failed", got)
	}
	if last := fx.repo.errMsgs[len(fx.repo.errMsgs)-1]; !strings.Contains(last, "crop exceeds bounds") {
		t.Errorf("recorded error = %q, want the failure reason", last)
	}
	if fx.repo.processing {
		t.Error("gate must be released on a permanent failure")
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Status != model.StatusFailed {
		t.Errorf("events = %+v, want one failed event", fx.events.events)
	}
}

func TestHandleMissingSourceIsPermanent(t *testing.T) {
	fx := newFixture(t)
	fx.job.SourcePath = "original/gone.png"

	err := fx.worker.Handle(context.Background(), fx.job, false)
	if !rabbitmq.IsPermanent(err) {
		t.Errorf("err = %v, want permanent for a missing source", err)
	}
	if got := fx.repo.lastStatus(); got != model.StatusFailed {
		t.Errorf("last status = %s, want failed", got)
	}
}

func TestHandleTransientFailureLeavesJobOpen(t *testing.T) {
	fx := newFixture(t)
	fx.storage.saveErr = errors.New("connection reset")

	err := fx.worker.Handle(context.Background(), fx.job, false)
	if err == nil {
		t.Fatal("Handle succeeded, want error")
	}
	if rabbitmq.IsPermanent(err) {
		t.Errorf("err = %v, must stay retryable", err)
	}

	// The retry owns the terminal bookkeeping: status stays processing
	// and the gate stays held.
	if got := fx.repo.lastStatus(); got != model.StatusProcessing {
		t.Errorf("last status = %s, want processing", got)
	}
	if !fx.repo.processing {
		t.Error("gate must stay held for the retry")
	}
	if len(fx.events.events) != 0 {
		t.Errorf("events = %+v, want none before the final attempt", fx.events.events)
	}
}

func TestHandleTransientFailureOnLastAttemptFinalizes(t *testing.T) {
	fx := newFixture(t)
	fx.storage.saveErr = errors.New("connection reset")

	err := fx.worker.Handle(context.Background(), fx.job, true)
	if err == nil {
		t.Fatal("Handle succeeded, want error")
	}
	if rabbitmq.IsPermanent(err) {
		t.Errorf("err = %v, the consumer dead-letters via lastAttempt, not the mark", err)
	}

	if got := fx.repo.lastStatus(); got != model.StatusFailed {
		t.Errorf("last status = %s, want failed", got)
	}
	if fx.repo.processing {
		t.Error("gate must be released after the final attempt")
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Status != model.StatusFailed {
		t.Errorf("events = %+v, want one failed event", fx.events.events)
	}
}

func TestHandleInvalidSpecIsPermanent(t *testing.T) {
	fx := newFixture(t)
	fx.job.Transformations = model.TransformationSpec{Quality: 400}

	err := fx.worker.Handle(context.Background(), fx.job, false)
	if !rabbitmq.IsPermanent(err) {
		t.Errorf("err = %v, want permanent for an invalid spec", err)
	}
	if got := fx.repo.lastStatus(); got != model.StatusFailed {
		t.Errorf("last status = %s, want failed", got)
	}
	if fx.pipeline.calls != 0 {
		t.Error("pipeline must not run for an invalid spec")
	}
}

func TestHandleRedeliveryAfterCompletionShortCircuits(t *testing.T) {
	fx := newFixture(t)

	key, err := cache.KeyFor(fx.job.ImageID, fx.job.Transformations)
	if err != nil {
		t.Fatalf("KeyFor: %v", err)
	}
	if err := fx.cache.Set(context.Background(), key, "transformed/earlier.png", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := fx.worker.Handle(context.Background(), fx.job, false); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if fx.pipeline.calls != 0 {
		t.Errorf("pipeline ran %d times, want short-circuit on the cached result", fx.pipeline.calls)
	}
	if got := fx.repo.lastStatus(); got != model.StatusCompleted {
		t.Errorf("last status = %s, want completed", got)
	}
	if fx.repo.processing {
		t.Error("gate must be released on redelivery finalization")
	}
	if len(fx.events.events) != 1 || fx.events.events[0].OutputPath != "transformed/earlier.png" {
		t.Errorf("events = %+v, want completed event with the cached path", fx.events.events)
	}
}

func TestHandleMalformedImageID(t *testing.T) {
	fx := newFixture(t)
	fx.job.ImageID = "not-a-uuid"

	err := fx.worker.Handle(context.Background(), fx.job, false)
	if !rabbitmq.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
	if len(fx.repo.statuses) != 0 {
		t.Errorf("statuses = %v, no record to touch without a valid id", fx.repo.statuses)
	}
}
