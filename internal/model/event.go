package model

import "time"

// TransformEvent is published to Kafka when a job reaches a terminal
// state, so downstream consumers can react without polling the API.
type TransformEvent struct {
	JobID      string           `json:"job_id"`
	ImageID    string           `json:"image_id"`
	OwnerID    string           `json:"owner_id,omitempty"`
	Status     ProcessingStatus `json:"status"`
	OutputPath string           `json:"output_path,omitempty"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
