package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus tracks where an image is in its transformation lifecycle.
type ProcessingStatus string

const (
	StatusUploaded   ProcessingStatus = "uploaded" // stored, never transformed
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether the status ends a transformation job.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job status may move to the given one.
// Job statuses only move forward: pending to processing, processing to a
// terminal state. Terminal states never change; a new job starts over
// from pending.
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Image is the stored record of an uploaded image.
type Image struct {
	ID                uuid.UUID        `json:"id"`
	OwnerID           string           `json:"owner_id"`
	Filename          string           `json:"filename"` // name as uploaded
	Path              string           `json:"file_path"`
	Format            string           `json:"format,omitempty"`
	Status            ProcessingStatus `json:"status"`
	Error             string           `json:"error,omitempty"` // last failure reason
	IsProcessing      bool             `json:"is_processing"`
	LastTransformedAt *time.Time       `json:"last_transformed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TransformationRecord is one completed transformation of an image,
// kept as history alongside the produced file.
type TransformationRecord struct {
	ID           uuid.UUID          `json:"id"`
	ImageID      uuid.UUID          `json:"image_id"`
	Spec         TransformationSpec `json:"spec"`
	OutputPath   string             `json:"output_path"`
	OutputFormat string             `json:"output_format"`
	Width        int                `json:"width"`
	Height       int                `json:"height"`
	SizeBytes    int64              `json:"size_bytes"`
	CompletedAt  time.Time          `json:"completed_at"`
}
