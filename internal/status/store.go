// Package status persists the onboarding wizard record between sessions.
package status

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"setup-wizard/internal/domain"
)

// Store loads, saves and finalizes the persisted onboarding record.
// Load returns (nil, nil) when nothing was stored yet.
type Store interface {
	Load(ctx context.Context) (*domain.PersistedOnboardingStatus, error)
	Save(ctx context.Context, status domain.PersistedOnboardingStatus) error
	Finalize(ctx context.Context, summaryModel string) error
	SummaryModel(ctx context.Context) (string, error)
	Reset(ctx context.Context) error
	Close() error
}

// PathFor returns the file a backend keeps its data in.
func PathFor(backend, dataDir string) (string, error) {
	switch backend {
	case "sqlite", "":
		return filepath.Join(dataDir, "onboarding.sqlite"), nil
	case "json":
		return filepath.Join(dataDir, "onboarding-status.json"), nil
	default:
		return "", fmt.Errorf("unknown status backend: %s", backend)
	}
}

// Open returns the store for a backend name rooted at dataDir.
func Open(backend, dataDir string) (Store, error) {
	path, err := PathFor(backend, dataDir)
	if err != nil {
		return nil, err
	}
	if backend == "json" {
		return NewFileStore(path), nil
	}
	return OpenSQLite(path)
}

// finalRecord is the record written by Finalize.
func finalRecord(now time.Time) domain.PersistedOnboardingStatus {
	return domain.PersistedOnboardingStatus{
		Version:     domain.StatusVersion,
		Completed:   true,
		CurrentStep: domain.StepComplete,
		ModelStatus: map[domain.ResourceID]string{
			domain.ResourceTranscription: domain.ReadinessDownloaded,
			domain.ResourceSummary:       domain.ReadinessDownloaded,
		},
		LastUpdated: now.UTC(),
	}
}

func normalizeRecord(s domain.PersistedOnboardingStatus) domain.PersistedOnboardingStatus {
	if s.Version == "" {
		s.Version = domain.StatusVersion
	}
	if s.ModelStatus == nil {
		s.ModelStatus = map[domain.ResourceID]string{}
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = time.Now().UTC()
	}
	return s
}
