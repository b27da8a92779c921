package bootstrap

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"setup-wizard/internal/domain"
	"setup-wizard/internal/onboarding"
)

// GetModels returns the model catalog with downloaded markers.
func (a *App) GetModels() []domain.ModelOption {
	return a.Engine.Models()
}

// GetSummaryModels returns only the summary variants the user can pick from.
func (a *App) GetSummaryModels() []domain.ModelOption {
	return lo.Filter(a.Engine.Models(), func(m domain.ModelOption, _ int) bool {
		return m.Group == domain.GroupSummary
	})
}

// SelectSummaryModel pins the summary variant and refreshes diagnostics.
func (a *App) SelectSummaryModel(modelID string) (onboarding.Snapshot, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return a.Onboarding.State(), fmt.Errorf("model id is required")
	}

	if err := a.Onboarding.SelectSummaryModel(a.opContext(), id); err != nil {
		return a.Onboarding.State(), err
	}
	a.RefreshDiagnostics()
	return a.Onboarding.State(), nil
}
