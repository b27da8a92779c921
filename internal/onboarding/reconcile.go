package onboarding

import "setup-wizard/internal/domain"

// Reconcile corrects a persisted wizard position against live readiness.
// The persisted model_status is ignored. Transcription is checked before
// summary at every level.
func Reconcile(persisted domain.PersistedOnboardingStatus, transcriptionReady, summaryReady bool) (step int, completed bool) {
	step = domain.ClampStep(persisted.CurrentStep)
	completed = persisted.Completed

	switch {
	case step > domain.StepTranscription && !transcriptionReady:
		return domain.StepTranscription, false
	case step > domain.StepSummary && !summaryReady:
		return domain.StepSummary, false
	case completed && !transcriptionReady:
		return domain.StepTranscription, false
	case completed && !summaryReady:
		return domain.StepSummary, false
	}
	return step, completed
}
