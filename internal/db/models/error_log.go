package models

import "time"

// ErrorLog is a persisted terminal failure recorded for later inspection.
type ErrorLog struct {
	ID        int64          `db:"id" json:"id"`
	Level     string         `db:"level" json:"level"`
	Type      string         `db:"type" json:"type"`
	Message   string         `db:"message" json:"message"`
	Module    string         `db:"module" json:"module"`
	Context   map[string]any `db:"context" json:"context,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
