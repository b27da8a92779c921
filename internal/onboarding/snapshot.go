package onboarding

import "setup-wizard/internal/domain"

// Snapshot is a point-in-time copy of the controller for views.
type Snapshot struct {
	SessionID            string                                            `json:"sessionId"`
	CurrentStep          int                                               `json:"currentStep"`
	Completed            bool                                              `json:"completed"`
	DatabaseExists       bool                                              `json:"databaseExists"`
	SelectedSummaryModel string                                            `json:"selectedSummaryModel"`
	Permissions          map[domain.PermissionKind]domain.PermissionStatus `json:"permissions"`
	PermissionsSkipped   bool                                              `json:"permissionsSkipped"`
	Resources            map[domain.ResourceID]domain.ResourceState        `json:"resources"`
	Progress             map[domain.ResourceID]domain.ProgressInfo         `json:"progress"`
}

// Ready reports whether every tracked resource shows Downloaded.
func (s Snapshot) Ready() bool {
	for _, r := range domain.Resources {
		if !s.Resources[r].Ready() {
			return false
		}
	}
	return true
}
