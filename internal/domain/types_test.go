package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

// TestClampStep verifies steps never leave the wizard range.
func TestClampStep(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 4: 4, 6: 6, 7: 6, 100: 6}
	for in, want := range cases {
		if got := ClampStep(in); got != want {
			t.Fatalf("ClampStep(%d) = %d, want %d", in, got, want)
		}
	}
}

// TestStepFor maps resources to their download steps.
func TestStepFor(t *testing.T) {
	if got := StepFor(ResourceTranscription); got != StepTranscription {
		t.Fatalf("transcription step = %d, want %d", got, StepTranscription)
	}
	if got := StepFor(ResourceSummary); got != StepSummary {
		t.Fatalf("summary step = %d, want %d", got, StepSummary)
	}
}

// TestClampProgress bounds odd inputs.
func TestClampProgress(t *testing.T) {
	if got := ClampProgress(-5); got != 0 {
		t.Fatalf("ClampProgress(-5) = %v, want 0", got)
	}
	if got := ClampProgress(140); got != 100 {
		t.Fatalf("ClampProgress(140) = %v, want 100", got)
	}
	if got := ClampProgress(math.NaN()); got != 0 {
		t.Fatalf("ClampProgress(NaN) = %v, want 0", got)
	}
}

// TestProgressEventTerminal covers both completion signals.
func TestProgressEventTerminal(t *testing.T) {
	if !(ProgressEvent{Progress: 100}).Terminal() {
		t.Fatal("progress 100 should be terminal")
	}
	if !(ProgressEvent{Progress: 80, Status: ProgressStatusCompleted}).Terminal() {
		t.Fatal("completed status should be terminal")
	}
	if (ProgressEvent{Progress: 99.9}).Terminal() {
		t.Fatal("99.9 should not be terminal")
	}
}

// TestNewProgressInfoRoundsPercent checks the UI view.
func TestNewProgressInfoRoundsPercent(t *testing.T) {
	info := NewProgressInfo(ResourceState{
		Resource: ResourceSummary,
		Status:   StatusDownloading,
		Progress: 41.6,
		Detail:   ProgressDetail{DownloadedBytes: 10, TotalBytes: 24},
	})
	if info.Percent != 42 {
		t.Fatalf("percent = %d, want 42", info.Percent)
	}
	if info.TotalBytes != 24 {
		t.Fatalf("total = %d, want 24", info.TotalBytes)
	}
}

// TestNotReadyErrorMatchesSentinel keeps errors.Is working through wrapping.
func TestNotReadyErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("complete: %w", &NotReadyError{Resources: []ResourceID{ResourceTranscription, ResourceSummary}})
	if !errors.Is(err, ErrResourceNotReady) {
		t.Fatalf("errors.Is(%v, ErrResourceNotReady) = false", err)
	}
	want := "cannot complete onboarding: transcription and summary model not ready"
	var nre *NotReadyError
	if !errors.As(err, &nre) || nre.Error() != want {
		t.Fatalf("message = %q, want %q", nre.Error(), want)
	}
}

// TestTrackerStatusString covers every enum member.
func TestTrackerStatusString(t *testing.T) {
	want := map[TrackerStatus]string{
		StatusChecking:        "checking",
		StatusReadyToDownload: "ready_to_download",
		StatusDownloading:     "downloading",
		StatusDownloaded:      "downloaded",
		StatusError:           "error",
	}
	for status, label := range want {
		if status.String() != label {
			t.Fatalf("String() = %q, want %q", status.String(), label)
		}
	}
}
