package domain

import "fmt"

// TrackerStatus is the closed set of states a resource tracker moves through.
type TrackerStatus int

const (
	StatusChecking TrackerStatus = iota
	StatusReadyToDownload
	StatusDownloading
	StatusDownloaded
	StatusError
)

// String returns the lower-case label used in logs and runtime events.
func (s TrackerStatus) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusReadyToDownload:
		return "ready_to_download"
	case StatusDownloading:
		return "downloading"
	case StatusDownloaded:
		return "downloaded"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText lets the status travel as a string in JSON payloads.
func (s TrackerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProgressDetail carries byte counters for an in-flight download.
type ProgressDetail struct {
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	SpeedMBps       float64 `json:"speedMbps"`
}

// ResourceState is a snapshot of one tracker.
type ResourceState struct {
	Resource         ResourceID     `json:"resource"`
	Variant          string         `json:"variant"`
	Status           TrackerStatus  `json:"status"`
	Progress         float64        `json:"progress"`
	Detail           ProgressDetail `json:"detail"`
	LastError        string         `json:"lastError,omitempty"`
	VerifiedNotReady bool           `json:"verifiedNotReady"`
	RetryCount       int            `json:"retryCount"`
}

// Ready reports whether the tracker reached its terminal success state.
func (s ResourceState) Ready() bool {
	return s.Status == StatusDownloaded
}
