package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"setup-wizard/internal/domain"
)

// InstallOrFixDiagnostic applies the remediation for one failed diagnostic item.
// Missing models are fixed by sending the wizard back to that model's step.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	var fixErr error
	switch id {
	case "models_dir":
		fixErr = ensureDir(a.Settings.ModelsDir)
	case "data_dir":
		fixErr = ensureDir(a.Settings.DataDir)
	case "model_transcription":
		fixErr = a.fixModel(domain.ResourceTranscription)
	case "model_summary":
		fixErr = a.fixModel(domain.ResourceSummary)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := a.RefreshDiagnostics()
	if fixErr != nil {
		a.Logger.Warn("fix diagnostic", zap.String("item", id), zap.Error(fixErr))
		return report, fixErr
	}
	return report, nil
}

func (a *App) fixModel(resource domain.ResourceID) error {
	ctx := a.opContext()
	if err := a.Onboarding.GoBackToFix(ctx, resource); err != nil {
		return err
	}
	if a.Settings.AutoDownload {
		return nil
	}
	return a.Onboarding.StartDownload(ctx, resource)
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}
