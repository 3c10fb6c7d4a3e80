package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task types
const (
	TypeClassifyVideos = "classify:videos"
)

// Queue names
const (
	QueueClassification = "classification"
)

// MaxVideosPerTask caps how many IDs one task carries.
const MaxVideosPerTask = 50

// ClassifyVideosPayload is the payload for classification tasks
type ClassifyVideosPayload struct {
	VideoIDs   []int64   `json:"video_ids"`
	Source     string    `json:"source"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewClassifyVideosPayload validates and builds a classification payload
func NewClassifyVideosPayload(videoIDs []int64, source string) (*ClassifyVideosPayload, error) {
	if len(videoIDs) == 0 {
		return nil, errors.New("at least one video ID is required")
	}
	if len(videoIDs) > MaxVideosPerTask {
		return nil, fmt.Errorf("too many video IDs: %d > %d", len(videoIDs), MaxVideosPerTask)
	}
	for _, id := range videoIDs {
		if id <= 0 {
			return nil, fmt.Errorf("invalid video ID %d", id)
		}
	}

	return &ClassifyVideosPayload{
		VideoIDs:   videoIDs,
		Source:     source,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Marshal serializes the payload to JSON
func (p *ClassifyVideosPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalClassifyVideosPayload deserializes JSON to payload
func UnmarshalClassifyVideosPayload(data []byte) (*ClassifyVideosPayload, error) {
	var payload ClassifyVideosPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if len(payload.VideoIDs) == 0 {
		return nil, errors.New("payload has no video IDs")
	}
	return &payload, nil
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
