package onboarding

import (
	"testing"

	"setup-wizard/internal/domain"
)

// TestReconcile verifies the startup correction policy against live readiness.
func TestReconcile(t *testing.T) {
	tests := []struct {
		name          string
		step          int
		completed     bool
		transcription bool
		summary       bool
		wantStep      int
		wantCompleted bool
	}{
		{name: "completed, transcription missing", step: 5, completed: true, summary: true, wantStep: 3},
		{name: "completed, summary missing", step: 5, completed: true, transcription: true, wantStep: 4},
		{name: "completed, both missing", step: 5, completed: true, wantStep: 3},
		{name: "completed, both ready", step: 6, completed: true, transcription: true, summary: true, wantStep: 6, wantCompleted: true},
		{name: "early completed, summary missing", step: 2, completed: true, transcription: true, wantStep: 4},
		{name: "early completed, transcription missing", step: 2, completed: true, summary: true, wantStep: 3},
		{name: "summary step, transcription missing", step: 4, wantStep: 3},
		{name: "summary step, summary missing", step: 4, transcription: true, wantStep: 4},
		{name: "transcription step, nothing ready", step: 3, wantStep: 3},
		{name: "step below range", step: 0, wantStep: 1},
		{name: "step above range", step: 9, transcription: true, summary: true, wantStep: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persisted := domain.DefaultPersistedStatus()
			persisted.CurrentStep = tt.step
			persisted.Completed = tt.completed
			// The persisted hint claims everything is present; it must be ignored.
			persisted.ModelStatus[domain.ResourceTranscription] = domain.ReadinessDownloaded
			persisted.ModelStatus[domain.ResourceSummary] = domain.ReadinessDownloaded

			step, completed := Reconcile(persisted, tt.transcription, tt.summary)
			if step != tt.wantStep || completed != tt.wantCompleted {
				t.Fatalf("Reconcile() = (%d, %v), want (%d, %v)", step, completed, tt.wantStep, tt.wantCompleted)
			}
		})
	}
}
