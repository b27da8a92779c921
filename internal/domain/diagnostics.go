package domain

import "time"

// DiagnosticStatus indicates whether a single readiness check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// DiagnosticItem is one readiness check result with optional hint.
type DiagnosticItem struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Resource ResourceID       `json:"resource,omitempty"`
	Status   DiagnosticStatus `json:"status"`
	Message  string           `json:"message"`
	Hint     string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates readiness checks for the CLI and the desktop UI.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}
