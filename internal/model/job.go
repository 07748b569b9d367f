package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is the message published to the transformation queue. It is
// self-contained: the worker can process it without reading the image
// record first.
type Job struct {
	JobID            string             `json:"jobId"`
	ImageID          string             `json:"imageId"`
	OwnerID          string             `json:"ownerId,omitempty"`
	SourcePath       string             `json:"sourcePath"`
	OriginalFilename string             `json:"originalFilename"`
	Transformations  TransformationSpec `json:"transformations"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// NewJob builds a queue message for transforming the given image.
func NewJob(img Image, spec TransformationSpec) Job {
	return Job{
		JobID:            uuid.New().String(),
		ImageID:          img.ID.String(),
		OwnerID:          img.OwnerID,
		SourcePath:       img.Path,
		OriginalFilename: img.Filename,
		Transformations:  spec,
		CreatedAt:        time.Now().UTC(),
	}
}
