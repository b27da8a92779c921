package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"setup-wizard/internal/domain"
)

type fileRecord struct {
	domain.PersistedOnboardingStatus
	SummaryModel string `json:"summary_model,omitempty"`
}

// FileStore persists the onboarding record in a single JSON file.
// Writes go to a temp file that is renamed into place.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a JSON-backed status store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the record from disk or returns nil when missing.
func (s *FileStore) Load(ctx context.Context) (*domain.PersistedOnboardingStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLocked()
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.PersistedOnboardingStatus, nil
}

// Save overwrites the record, keeping any finalized summary model.
func (s *FileStore) Save(ctx context.Context, status domain.PersistedOnboardingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := fileRecord{PersistedOnboardingStatus: normalizeRecord(status)}
	if existing, err := s.readLocked(); err == nil && existing != nil {
		rec.SummaryModel = existing.SummaryModel
	}
	return s.writeLocked(rec)
}

// Finalize writes the completed record with the chosen summary model.
func (s *FileStore) Finalize(ctx context.Context, summaryModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(fileRecord{
		PersistedOnboardingStatus: finalRecord(time.Now()),
		SummaryModel:              summaryModel,
	})
}

// SummaryModel returns the finalized summary model, or "".
func (s *FileStore) SummaryModel(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLocked()
	if err != nil || rec == nil {
		return "", err
	}
	return rec.SummaryModel, nil
}

// Reset removes the file.
func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove status file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readLocked() (*fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}
	return &rec, nil
}

func (s *FileStore) writeLocked(rec fileRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".status-*.json")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write status file: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close status file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move status file into place: %w", err)
	}
	return nil
}
