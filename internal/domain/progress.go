package domain

import (
	"math"
	"time"
)

// Progress event status labels.
const (
	ProgressStatusDownloading = "downloading"
	ProgressStatusCompleted   = "completed"
	ProgressStatusError       = "error"
)

// ProgressEvent is one entry on a resource's download progress stream.
type ProgressEvent struct {
	Seq             int64      `json:"seq"`
	Timestamp       time.Time  `json:"timestamp"`
	Resource        ResourceID `json:"resource"`
	Variant         string     `json:"variant"`
	Progress        float64    `json:"progress"`
	DownloadedBytes int64      `json:"downloadedBytes,omitempty"`
	TotalBytes      int64      `json:"totalBytes,omitempty"`
	SpeedMBps       float64    `json:"speedMbps,omitempty"`
	Status          string     `json:"status,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Terminal reports whether the event ends a successful download.
func (e ProgressEvent) Terminal() bool {
	return e.Status == ProgressStatusCompleted || e.Progress >= 100
}

// Failed reports whether the event carries a download failure.
func (e ProgressEvent) Failed() bool {
	return e.Status == ProgressStatusError
}

// ProgressInfo is the normalized view of one resource's progress for the UI.
type ProgressInfo struct {
	Resource        ResourceID    `json:"resource"`
	Status          TrackerStatus `json:"status"`
	Progress        float64       `json:"progress"`
	Percent         int           `json:"percent"`
	DownloadedBytes int64         `json:"downloadedBytes"`
	TotalBytes      int64         `json:"totalBytes"`
	SpeedMBps       float64       `json:"speedMbps"`
}

// NewProgressInfo derives the UI view from a tracker snapshot.
func NewProgressInfo(state ResourceState) ProgressInfo {
	p := ClampProgress(state.Progress)
	return ProgressInfo{
		Resource:        state.Resource,
		Status:          state.Status,
		Progress:        p,
		Percent:         int(math.Round(p)),
		DownloadedBytes: state.Detail.DownloadedBytes,
		TotalBytes:      state.Detail.TotalBytes,
		SpeedMBps:       state.Detail.SpeedMBps,
	}
}

// ClampProgress bounds p to [0,100]; NaN becomes 0.
func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
