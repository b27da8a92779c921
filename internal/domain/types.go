package domain

import "time"

// ResourceID names one downloadable model the host application depends on.
type ResourceID string

const (
	ResourceTranscription ResourceID = "transcription"
	ResourceSummary       ResourceID = "summary"
)

// Resources lists tracked resources in dependency order.
var Resources = []ResourceID{ResourceTranscription, ResourceSummary}

// Wizard steps. Step numbers are part of the persisted record.
const (
	StepWelcome       = 1
	StepOverview      = 2
	StepTranscription = 3
	StepSummary       = 4
	StepPermissions   = 5
	StepComplete      = 6

	FirstStep = StepWelcome
	LastStep  = StepComplete
)

// StepFor returns the wizard step that downloads the given resource.
func StepFor(id ResourceID) int {
	switch id {
	case ResourceTranscription:
		return StepTranscription
	case ResourceSummary:
		return StepSummary
	default:
		return FirstStep
	}
}

// ClampStep bounds n to the wizard step range.
func ClampStep(n int) int {
	if n < FirstStep {
		return FirstStep
	}
	if n > LastStep {
		return LastStep
	}
	return n
}

// Readiness labels stored in PersistedOnboardingStatus.ModelStatus.
const (
	ReadinessDownloaded    = "downloaded"
	ReadinessNotDownloaded = "not_downloaded"
)

// StatusVersion is written into every persisted record.
const StatusVersion = "1.0"

// PersistedOnboardingStatus is the coarse wizard snapshot kept across restarts.
// ModelStatus is a UI hint only and is never trusted as readiness.
type PersistedOnboardingStatus struct {
	Version     string                `json:"version" yaml:"version"`
	Completed   bool                  `json:"completed" yaml:"completed"`
	CurrentStep int                   `json:"current_step" yaml:"current_step"`
	ModelStatus map[ResourceID]string `json:"model_status" yaml:"model_status"`
	LastUpdated time.Time             `json:"last_updated" yaml:"last_updated"`
}

// DefaultPersistedStatus is used when nothing was stored yet.
func DefaultPersistedStatus() PersistedOnboardingStatus {
	return PersistedOnboardingStatus{
		Version:     StatusVersion,
		CurrentStep: FirstStep,
		ModelStatus: map[ResourceID]string{
			ResourceTranscription: ReadinessNotDownloaded,
			ResourceSummary:       ReadinessNotDownloaded,
		},
	}
}

// ReadinessLabel maps a readiness flag to its persisted label.
func ReadinessLabel(ready bool) string {
	if ready {
		return ReadinessDownloaded
	}
	return ReadinessNotDownloaded
}

// PermissionKind identifies an OS permission the wizard asks for.
type PermissionKind string

const (
	PermissionMicrophone  PermissionKind = "microphone"
	PermissionSystemAudio PermissionKind = "system_audio"
)

// PermissionStatus is the last known answer for one permission.
type PermissionStatus string

const (
	PermissionNotDetermined PermissionStatus = "not_determined"
	PermissionAuthorized    PermissionStatus = "authorized"
	PermissionDenied        PermissionStatus = "denied"
)
