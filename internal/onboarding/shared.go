package onboarding

import (
	"sync"

	"setup-wizard/internal/domain"
)

// sharedState holds the per-resource flags trackers propagate into.
// onDownloaded runs outside the lock whenever a downloaded flag changes.
type sharedState struct {
	mu           sync.RWMutex
	downloaded   map[domain.ResourceID]bool
	progress     map[domain.ResourceID]float64
	onDownloaded func()
}

func newSharedState() *sharedState {
	return &sharedState{
		downloaded: make(map[domain.ResourceID]bool),
		progress:   make(map[domain.ResourceID]float64),
	}
}

func (s *sharedState) Downloaded(resource domain.ResourceID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.downloaded[resource]
}

func (s *sharedState) SetDownloaded(resource domain.ResourceID, downloaded bool) {
	s.mu.Lock()
	changed := s.downloaded[resource] != downloaded
	s.downloaded[resource] = downloaded
	hook := s.onDownloaded
	s.mu.Unlock()

	if changed && hook != nil {
		hook()
	}
}

func (s *sharedState) Progress(resource domain.ResourceID) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress[resource]
}

func (s *sharedState) SetProgress(resource domain.ResourceID, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[resource] = domain.ClampProgress(progress)
}

func (s *sharedState) modelStatus() map[domain.ResourceID]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.ResourceID]string, len(domain.Resources))
	for _, r := range domain.Resources {
		out[r] = domain.ReadinessLabel(s.downloaded[r])
	}
	return out
}
