package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType describes what triggered a job.
type JobType string

const (
	JobTypeScheduled      JobType = "scheduled"
	JobTypeManual         JobType = "manual"
	JobTypeClassification JobType = "classification"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Log levels used in job log entries.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// JobLogEntry is one append-only line in a job's log.
type JobLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ScrapeJob is the durable progress record of one run.
type ScrapeJob struct {
	ID                 uuid.UUID     `db:"id" json:"id"`
	Type               JobType       `db:"type" json:"type"`
	Status             JobStatus     `db:"status" json:"status"`
	IsIncremental      bool          `db:"is_incremental" json:"is_incremental"`
	ProgressPercent    int           `db:"progress_percent" json:"progress_percent"`
	TotalItems         int           `db:"total_items" json:"total_items"`
	ProcessedItems     int           `db:"processed_items" json:"processed_items"`
	FailedItems        int           `db:"failed_items" json:"failed_items"`
	VideosAdded        int           `db:"videos_added" json:"videos_added"`
	CurrentChannelName string        `db:"current_channel_name" json:"current_channel_name"`
	ErrorSummary       string        `db:"error_summary" json:"error_summary"`
	StartedAt          *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	LogEntries         []JobLogEntry `db:"log_entries" json:"log_entries"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// NewScrapeJob creates a pending job with a fresh ID.
func NewScrapeJob(jobType JobType, isIncremental bool) *ScrapeJob {
	now := time.Now()
	return &ScrapeJob{
		ID:            uuid.New(),
		Type:          jobType,
		Status:        JobStatusPending,
		IsIncremental: isIncremental,
		LogEntries:    []JobLogEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ProgressPercent returns round(processed/total*100), clamped to [0,100].
func ProgressPercent(processed, total int) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return (processed*200 + total) / (total * 2)
}
