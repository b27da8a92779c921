package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setup-wizard/internal/domain"
)

type fakeEngine struct {
	mu        sync.Mutex
	ready     bool
	verifyErr error
	beginErr  error
	verifies  int
	begins    int
}

func (e *fakeEngine) VerifyReady(ctx context.Context, variant string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifies++
	return e.ready, e.verifyErr
}

func (e *fakeEngine) BeginDownload(ctx context.Context, resource domain.ResourceID, variant string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.begins++
	return e.beginErr
}

func (e *fakeEngine) counts() (verifies, begins int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verifies, e.begins
}

type fakeShared struct {
	mu         sync.Mutex
	downloaded map[domain.ResourceID]bool
	progress   map[domain.ResourceID]float64
	onSet      func(resource domain.ResourceID, downloaded bool)
}

func newFakeShared() *fakeShared {
	return &fakeShared{
		downloaded: map[domain.ResourceID]bool{},
		progress:   map[domain.ResourceID]float64{},
	}
}

func (s *fakeShared) Downloaded(r domain.ResourceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloaded[r]
}

func (s *fakeShared) SetDownloaded(r domain.ResourceID, v bool) {
	s.mu.Lock()
	s.downloaded[r] = v
	hook := s.onSet
	s.mu.Unlock()
	if hook != nil {
		hook(r, v)
	}
}

func (s *fakeShared) Progress(r domain.ResourceID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[r]
}

func (s *fakeShared) SetProgress(r domain.ResourceID, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[r] = p
}

func newTracker(engine *fakeEngine, shared *fakeShared, autoStart bool) *Tracker {
	return New(Config{
		Resource:  domain.ResourceTranscription,
		Engine:    engine,
		Shared:    shared,
		Variant:   func() string { return "parakeet" },
		AutoStart: autoStart,
	})
}

func TestReinitializeReadyNeverDownloads(t *testing.T) {
	engine := &fakeEngine{ready: true}
	shared := newFakeShared()
	tr := newTracker(engine, shared, true)

	require.NoError(t, tr.Reinitialize(context.Background()))

	state := tr.State()
	assert.Equal(t, domain.StatusDownloaded, state.Status)
	assert.Equal(t, float64(100), state.Progress)
	assert.True(t, shared.Downloaded(domain.ResourceTranscription))
	_, begins := engine.counts()
	assert.Zero(t, begins)
}

func TestReinitializeMissingEngagesGuardBeforePropagation(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	shared.downloaded[domain.ResourceTranscription] = true

	tr := newTracker(engine, shared, false)
	var guardAtPropagation *bool
	shared.onSet = func(r domain.ResourceID, v bool) {
		if !v {
			g := tr.VerifiedNotReady()
			guardAtPropagation = &g
		}
	}

	require.NoError(t, tr.Reinitialize(context.Background()))

	require.NotNil(t, guardAtPropagation, "downloaded=false was never propagated")
	assert.True(t, *guardAtPropagation, "guard must be engaged before downloaded=false is visible")
	assert.Equal(t, domain.StatusReadyToDownload, tr.State().Status)
	assert.False(t, shared.Downloaded(domain.ResourceTranscription))
}

func TestGuardSuppressesStaleSharedReady(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	tr := newTracker(engine, shared, false)

	require.NoError(t, tr.Reinitialize(context.Background()))
	require.True(t, tr.VerifiedNotReady())

	// A stale writer flips the shared flag back on.
	shared.SetDownloaded(domain.ResourceTranscription, true)
	tr.Sync()

	assert.Equal(t, domain.StatusReadyToDownload, tr.State().Status)
	assert.False(t, tr.Ready())
	assert.True(t, tr.VerifiedNotReady())

	// Only a local completion clears it.
	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Status: domain.ProgressStatusCompleted})
	assert.False(t, tr.VerifiedNotReady())
	assert.True(t, tr.Ready())
}

func TestSyncAdoptsSharedReadyWithoutGuard(t *testing.T) {
	shared := newFakeShared()
	shared.downloaded[domain.ResourceTranscription] = true
	tr := newTracker(&fakeEngine{}, shared, false)

	tr.Sync()

	assert.Equal(t, domain.StatusDownloaded, tr.State().Status)
}

func TestSyncSendsDownloadedBackToChecking(t *testing.T) {
	shared := newFakeShared()
	tr := newTracker(&fakeEngine{ready: true}, shared, false)
	require.NoError(t, tr.Reinitialize(context.Background()))

	shared.SetDownloaded(domain.ResourceTranscription, false)
	tr.Sync()

	assert.Equal(t, domain.StatusChecking, tr.State().Status)
}

func TestAutoStartTriggersDownloadExactlyOnce(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	tr := newTracker(engine, shared, true)

	require.NoError(t, tr.Reinitialize(context.Background()))
	assert.Equal(t, domain.StatusDownloading, tr.State().Status)

	require.NoError(t, tr.StartDownload(context.Background()))
	// Re-entering before any progress arrived resumes the in-flight download.
	require.NoError(t, tr.Reinitialize(context.Background()))

	verifies, begins := engine.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, verifies)
	assert.Equal(t, domain.StatusDownloading, tr.State().Status)
}

func TestProgressIsMonotonicWithinCycle(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	tr := newTracker(engine, shared, true)
	require.NoError(t, tr.Reinitialize(context.Background()))

	seen := []float64{}
	for _, p := range []float64{5, 12, 12, 30, 25, 61} {
		tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Progress: p, DownloadedBytes: int64(p) * 10, TotalBytes: 1000})
		seen = append(seen, tr.State().Progress)
	}

	assert.Equal(t, []float64{5, 12, 12, 30, 30, 61}, seen)
	assert.Equal(t, float64(61), shared.Progress(domain.ResourceTranscription))
	assert.Equal(t, int64(1000), tr.State().Detail.TotalBytes)
}

func TestProgressResetsOnFreshCheckingCycle(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	tr := newTracker(engine, shared, true)
	require.NoError(t, tr.Reinitialize(context.Background()))
	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Progress: 70})
	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Status: domain.ProgressStatusError, Error: "disk full"})
	require.Equal(t, domain.StatusError, tr.State().Status)

	require.NoError(t, tr.Reinitialize(context.Background()))

	assert.Zero(t, tr.State().Progress)
}

func TestTerminalProgressCompletes(t *testing.T) {
	shared := newFakeShared()
	tr := newTracker(&fakeEngine{}, shared, true)
	require.NoError(t, tr.Reinitialize(context.Background()))

	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Progress: 100})

	assert.Equal(t, domain.StatusDownloaded, tr.State().Status)
	assert.True(t, shared.Downloaded(domain.ResourceTranscription))
	assert.False(t, tr.VerifiedNotReady())
}

func TestResumeInFlightSkipsVerification(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	shared.progress[domain.ResourceTranscription] = 42
	tr := newTracker(engine, shared, true)

	require.NoError(t, tr.Reinitialize(context.Background()))

	state := tr.State()
	assert.Equal(t, domain.StatusDownloading, state.Status)
	assert.Equal(t, float64(42), state.Progress)
	verifies, begins := engine.counts()
	assert.Zero(t, verifies)
	assert.Zero(t, begins)
}

func TestVerificationFailureIsNeverReady(t *testing.T) {
	engine := &fakeEngine{ready: true, verifyErr: errors.New("engine unreachable")}
	shared := newFakeShared()
	shared.downloaded[domain.ResourceTranscription] = true
	tr := newTracker(engine, shared, true)

	require.NoError(t, tr.Reinitialize(context.Background()))

	state := tr.State()
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, "engine unreachable", state.LastError)
	assert.True(t, state.VerifiedNotReady)
	assert.False(t, shared.Downloaded(domain.ResourceTranscription))
	_, begins := engine.counts()
	assert.Zero(t, begins)
}

func TestBeginDownloadFailureKeepsMessageAndRetryRecovers(t *testing.T) {
	engine := &fakeEngine{ready: false, beginErr: errors.New("HTTP 503 from mirror")}
	shared := newFakeShared()
	tr := newTracker(engine, shared, true)

	err := tr.Reinitialize(context.Background())
	require.EqualError(t, err, "HTTP 503 from mirror")
	state := tr.State()
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, "HTTP 503 from mirror", state.LastError)

	engine.mu.Lock()
	engine.beginErr = nil
	engine.mu.Unlock()

	require.NoError(t, tr.Retry(context.Background()))
	state = tr.State()
	assert.Equal(t, domain.StatusDownloading, state.Status)
	assert.Equal(t, 1, state.RetryCount)
	assert.Empty(t, state.LastError)
	_, begins := engine.counts()
	assert.Equal(t, 2, begins)
}

func TestRetryOutsideErrorIsRejected(t *testing.T) {
	tr := newTracker(&fakeEngine{ready: true}, newFakeShared(), false)
	require.NoError(t, tr.Reinitialize(context.Background()))

	err := tr.Retry(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStreamFailureMovesToError(t *testing.T) {
	shared := newFakeShared()
	tr := newTracker(&fakeEngine{}, shared, true)
	require.NoError(t, tr.Reinitialize(context.Background()))
	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Progress: 40})

	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceTranscription, Status: domain.ProgressStatusError, Error: "checksum mismatch"})

	state := tr.State()
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, "checksum mismatch", state.LastError)
	assert.Zero(t, shared.Progress(domain.ResourceTranscription))
}

func TestEventsForOtherResourcesAreIgnored(t *testing.T) {
	tr := newTracker(&fakeEngine{}, newFakeShared(), true)
	require.NoError(t, tr.Reinitialize(context.Background()))

	tr.HandleEvent(domain.ProgressEvent{Resource: domain.ResourceSummary, Progress: 100})

	assert.Equal(t, domain.StatusDownloading, tr.State().Status)
}

func TestDiscoverAdoptsPresentVariant(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	var adopted string
	tr := New(Config{
		Resource: domain.ResourceSummary,
		Engine:   engine,
		Shared:   shared,
		Variant:  func() string { return "gemma3:1b" },
		Discover: func(ctx context.Context) (string, bool, error) {
			return "gemma3:4b", true, nil
		},
		OnVariant: func(v string) { adopted = v },
		AutoStart: true,
	})

	require.NoError(t, tr.Reinitialize(context.Background()))

	assert.Equal(t, "gemma3:4b", adopted)
	state := tr.State()
	assert.Equal(t, domain.StatusDownloaded, state.Status)
	assert.Equal(t, "gemma3:4b", state.Variant)
	verifies, _ := engine.counts()
	assert.Zero(t, verifies)
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	shared := newFakeShared()
	tr := newTracker(&fakeEngine{}, shared, true)
	require.NoError(t, tr.Reinitialize(context.Background()))

	events := make(chan domain.ProgressEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx, events)
	}()

	events <- domain.ProgressEvent{Resource: domain.ResourceTranscription, Progress: 55}
	require.Eventually(t, func() bool { return tr.State().Progress == 55 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIsValidTransition(t *testing.T) {
	assert.True(t, isValidTransition(domain.StatusDownloaded, domain.StatusChecking))
	assert.False(t, isValidTransition(domain.StatusDownloaded, domain.StatusDownloading))
	assert.True(t, isValidTransition(domain.StatusError, domain.StatusReadyToDownload))
	assert.False(t, isValidTransition(domain.StatusDownloading, domain.StatusReadyToDownload))
}

func TestVerifyReadyClearsGuard(t *testing.T) {
	engine := &fakeEngine{ready: false}
	shared := newFakeShared()
	tr := newTracker(engine, shared, false)
	require.NoError(t, tr.Reinitialize(context.Background()))
	require.True(t, tr.VerifiedNotReady())

	ready, err := tr.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, domain.StatusReadyToDownload, tr.State().Status, "negative verify leaves tracker alone")

	engine.mu.Lock()
	engine.ready = true
	engine.mu.Unlock()

	ready, err = tr.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, tr.Ready())
	assert.True(t, shared.Downloaded(domain.ResourceTranscription))
	assert.Equal(t, float64(100), shared.Progress(domain.ResourceTranscription))
}

func TestVerifyErrorIsNotReady(t *testing.T) {
	engine := &fakeEngine{ready: true, verifyErr: errors.New("engine offline")}
	tr := newTracker(engine, newFakeShared(), false)

	ready, err := tr.Verify(context.Background())
	assert.EqualError(t, err, "engine offline")
	assert.False(t, ready)
	assert.Equal(t, domain.StatusChecking, tr.State().Status)
}
