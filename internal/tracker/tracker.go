// Package tracker drives one downloadable model through its readiness states.
//
// A Tracker reconciles three signals that can disagree: the shared
// "downloaded" flag owned by the onboarding controller, its own verification
// calls, and the resource's progress event stream. Once the tracker has
// verified the resource missing it engages a sticky guard so that a stale
// shared "downloaded" claim cannot override that result; only a completion
// observed by this tracker clears it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"setup-wizard/internal/domain"
	"setup-wizard/internal/logging"
)

// Engine is the subset of the model engine a tracker drives.
type Engine interface {
	VerifyReady(ctx context.Context, variant string) (bool, error)
	BeginDownload(ctx context.Context, resource domain.ResourceID, variant string) error
}

// Shared is the controller-owned state every tracker propagates into.
type Shared interface {
	Downloaded(resource domain.ResourceID) bool
	SetDownloaded(resource domain.ResourceID, downloaded bool)
	Progress(resource domain.ResourceID) float64
	SetProgress(resource domain.ResourceID, progress float64)
}

// DiscoverFunc looks for an already-present variant that satisfies the resource.
type DiscoverFunc func(ctx context.Context) (variant string, found bool, err error)

// Config wires a tracker to its collaborators.
type Config struct {
	Resource domain.ResourceID
	Engine   Engine
	Shared   Shared

	// Variant returns the model variant to verify and download.
	Variant func() string

	// Discover is optional. When set it runs before verification and a found
	// variant is adopted through OnVariant.
	Discover  DiscoverFunc
	OnVariant func(variant string)

	// AutoStart triggers the download as soon as the tracker reaches ReadyToDownload.
	AutoStart bool

	OnChange func(domain.ResourceState)
	Logger   *zap.Logger
}

// Tracker is safe for concurrent use.
type Tracker struct {
	resource  domain.ResourceID
	engine    Engine
	shared    Shared
	variant   func() string
	discover  DiscoverFunc
	onVariant func(string)
	autoStart bool
	onChange  func(domain.ResourceState)
	logger    *zap.Logger

	mu              sync.Mutex
	state           domain.ResourceState
	cycle           uint64
	downloadStarted bool
}

// New creates a tracker in the Checking state.
func New(cfg Config) *Tracker {
	variant := cfg.Variant
	if variant == nil {
		variant = func() string { return "" }
	}
	return &Tracker{
		resource:  cfg.Resource,
		engine:    cfg.Engine,
		shared:    cfg.Shared,
		variant:   variant,
		discover:  cfg.Discover,
		onVariant: cfg.OnVariant,
		autoStart: cfg.AutoStart,
		onChange:  cfg.OnChange,
		logger:    logging.OrNop(cfg.Logger).Named("tracker").With(zap.String("resource", string(cfg.Resource))),
		state: domain.ResourceState{
			Resource: cfg.Resource,
			Status:   domain.StatusChecking,
		},
	}
}

// Resource returns the tracked resource id.
func (t *Tracker) Resource() domain.ResourceID {
	return t.resource
}

// State returns a snapshot of the tracker.
func (t *Tracker) State() domain.ResourceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// VerifiedNotReady reports whether the guard is engaged.
func (t *Tracker) VerifiedNotReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.VerifiedNotReady
}

// Ready reports whether the tracker itself considers the resource downloaded.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Status == domain.StatusDownloaded && !t.state.VerifiedNotReady
}

// Reinitialize starts a fresh Checking cycle.
//
// A download already in flight is resumed in Downloading without verifying.
// Otherwise the resource is verified: present resources go to Downloaded,
// missing ones engage the guard, propagate downloaded=false and go to
// ReadyToDownload, starting the download when AutoStart is set.
func (t *Tracker) Reinitialize(ctx context.Context) error {
	t.mu.Lock()
	t.cycle++
	cycle := t.cycle

	shared := t.shared.Progress(t.resource)
	inFlight := (shared > 0 && shared < 100) ||
		(t.state.Status == domain.StatusDownloading && t.downloadStarted)
	if inFlight {
		if shared > t.state.Progress || t.state.Status != domain.StatusDownloading {
			t.state.Progress = domain.ClampProgress(shared)
		}
		t.state.LastError = ""
		t.downloadStarted = true
		t.moveLocked(domain.StatusDownloading)
		state := t.snapshotLocked()
		t.mu.Unlock()

		t.logger.Debug("resuming in-flight download", zap.Float64("progress", state.Progress))
		t.emit(state)
		return nil
	}

	t.state.Progress = 0
	t.state.Detail = domain.ProgressDetail{}
	t.state.LastError = ""
	t.downloadStarted = false
	t.moveLocked(domain.StatusChecking)
	state := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(state)

	if t.discover != nil {
		variant, found, err := t.discover(ctx)
		if err != nil {
			t.logger.Warn("discover available variant", zap.Error(err))
		} else if found {
			if t.onVariant != nil {
				t.onVariant(variant)
			}
			t.mu.Lock()
			t.state.Variant = variant
			t.mu.Unlock()
			t.markVerified(cycle, true, nil)
			return nil
		}
	}

	ready, err := t.engine.VerifyReady(ctx, t.variant())
	if err != nil {
		t.logger.Warn("verify resource", zap.Error(err))
	}
	if !t.markVerified(cycle, ready && err == nil, err) {
		return nil
	}

	if err == nil && !ready && t.autoStart {
		return t.StartDownload(ctx)
	}
	return nil
}

// Verify runs a live verification outside the Checking cycle. A positive
// result completes the tracker and clears the guard; a negative one leaves
// the tracker untouched.
func (t *Tracker) Verify(ctx context.Context) (bool, error) {
	ready, err := t.engine.VerifyReady(ctx, t.variant())
	if err != nil || !ready {
		return false, err
	}

	t.mu.Lock()
	if t.state.Status == domain.StatusDownloaded && !t.state.VerifiedNotReady {
		t.mu.Unlock()
		t.shared.SetDownloaded(t.resource, true)
		return true, nil
	}
	t.cycle++
	t.completeLocked()
	state := t.snapshotLocked()
	t.mu.Unlock()

	t.shared.SetProgress(t.resource, 100)
	t.shared.SetDownloaded(t.resource, true)
	t.emit(state)
	return true, nil
}

// markVerified applies a verification result to the cycle that asked for it.
// It reports false when the cycle was superseded or the state moved on.
func (t *Tracker) markVerified(cycle uint64, ready bool, verifyErr error) bool {
	t.mu.Lock()
	if cycle != t.cycle || t.state.Status != domain.StatusChecking {
		t.mu.Unlock()
		return false
	}

	if ready {
		t.completeLocked()
		state := t.snapshotLocked()
		t.mu.Unlock()

		t.shared.SetProgress(t.resource, 100)
		t.shared.SetDownloaded(t.resource, true)
		t.emit(state)
		return true
	}

	// The guard must be up before anyone can observe the downloaded=false
	// propagation below.
	t.state.VerifiedNotReady = true
	if verifyErr != nil {
		t.state.LastError = verifyErr.Error()
		t.moveLocked(domain.StatusError)
	} else {
		t.moveLocked(domain.StatusReadyToDownload)
	}
	state := t.snapshotLocked()
	t.mu.Unlock()

	t.shared.SetProgress(t.resource, 0)
	t.shared.SetDownloaded(t.resource, false)
	t.emit(state)
	return true
}

// StartDownload triggers the download from ReadyToDownload. It is a no-op
// in any other state and never triggers twice within one cycle.
func (t *Tracker) StartDownload(ctx context.Context) error {
	t.mu.Lock()
	if t.state.Status != domain.StatusReadyToDownload || t.downloadStarted {
		t.mu.Unlock()
		return nil
	}
	t.downloadStarted = true
	cycle := t.cycle
	variant := t.variant()
	t.state.Variant = variant
	t.moveLocked(domain.StatusDownloading)
	state := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(state)

	t.logger.Info("starting download", zap.String("variant", variant))
	err := t.engine.BeginDownload(ctx, t.resource, variant)
	if err == nil || errors.Is(err, domain.ErrDownloadInProgress) {
		return nil
	}

	t.mu.Lock()
	if cycle != t.cycle || t.state.Status != domain.StatusDownloading {
		t.mu.Unlock()
		return err
	}
	t.state.LastError = err.Error()
	t.downloadStarted = false
	t.moveLocked(domain.StatusError)
	state = t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Warn("begin download", zap.Error(err))
	t.shared.SetProgress(t.resource, 0)
	t.emit(state)
	return err
}

// Retry clears a failure and re-enters the download attempt.
func (t *Tracker) Retry(ctx context.Context) error {
	t.mu.Lock()
	if t.state.Status != domain.StatusError {
		status := t.state.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", domain.ErrInvalidTransition, status)
	}
	t.cycle++
	t.state.RetryCount++
	t.state.LastError = ""
	t.state.Progress = 0
	t.state.Detail = domain.ProgressDetail{}
	t.downloadStarted = false
	t.moveLocked(domain.StatusReadyToDownload)
	state := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Info("retrying download", zap.Int("retry", state.RetryCount))
	t.emit(state)
	return t.StartDownload(ctx)
}

// HandleEvent applies one progress stream entry.
func (t *Tracker) HandleEvent(ev domain.ProgressEvent) {
	if ev.Resource != "" && ev.Resource != t.resource {
		return
	}

	t.mu.Lock()
	switch {
	case ev.Failed():
		if t.state.Status == domain.StatusDownloaded || t.state.Status == domain.StatusError {
			t.mu.Unlock()
			return
		}
		msg := ev.Error
		if msg == "" {
			msg = "download failed"
		}
		t.state.LastError = msg
		t.downloadStarted = false
		t.moveLocked(domain.StatusError)
		state := t.snapshotLocked()
		t.mu.Unlock()

		t.logger.Warn("download failed", zap.String("error", msg))
		t.shared.SetProgress(t.resource, 0)
		t.emit(state)

	case ev.Terminal():
		if t.state.Status == domain.StatusDownloaded && !t.state.VerifiedNotReady {
			t.mu.Unlock()
			return
		}
		if ev.Variant != "" {
			t.state.Variant = ev.Variant
		}
		t.applyDetailLocked(ev)
		t.completeLocked()
		state := t.snapshotLocked()
		t.mu.Unlock()

		t.logger.Info("download completed", zap.String("variant", state.Variant))
		t.shared.SetProgress(t.resource, 100)
		t.shared.SetDownloaded(t.resource, true)
		t.emit(state)

	default:
		switch t.state.Status {
		case domain.StatusDownloaded, domain.StatusError:
			t.mu.Unlock()
			return
		case domain.StatusChecking, domain.StatusReadyToDownload:
			t.downloadStarted = true
			t.moveLocked(domain.StatusDownloading)
		}
		if p := domain.ClampProgress(ev.Progress); p > t.state.Progress {
			t.state.Progress = p
		}
		if ev.Variant != "" {
			t.state.Variant = ev.Variant
		}
		t.applyDetailLocked(ev)
		progress := t.state.Progress
		state := t.snapshotLocked()
		t.mu.Unlock()

		t.shared.SetProgress(t.resource, progress)
		t.emit(state)
	}
}

// Run consumes a progress stream until ctx is done.
func (t *Tracker) Run(ctx context.Context, events <-chan domain.ProgressEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			t.HandleEvent(ev)
		}
	}
}

// Sync is the reconciliation pass from shared state into the tracker's
// display. A shared downloaded=true is ignored while the guard is engaged.
// A shared downloaded=false sends a settled Downloaded tracker back to
// Checking so the next Reinitialize verifies again.
func (t *Tracker) Sync() {
	downloaded := t.shared.Downloaded(t.resource)

	t.mu.Lock()
	switch {
	case downloaded && !t.state.VerifiedNotReady &&
		(t.state.Status == domain.StatusChecking || t.state.Status == domain.StatusReadyToDownload):
		t.completeLocked()
	case !downloaded && t.state.Status == domain.StatusDownloaded:
		t.state.Progress = 0
		t.moveLocked(domain.StatusChecking)
	default:
		t.mu.Unlock()
		return
	}
	state := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(state)
}

func (t *Tracker) completeLocked() {
	t.state.Progress = 100
	t.state.LastError = ""
	t.state.VerifiedNotReady = false
	t.downloadStarted = false
	t.moveLocked(domain.StatusDownloaded)
}

func (t *Tracker) applyDetailLocked(ev domain.ProgressEvent) {
	if ev.DownloadedBytes > t.state.Detail.DownloadedBytes {
		t.state.Detail.DownloadedBytes = ev.DownloadedBytes
	}
	if ev.TotalBytes > 0 {
		t.state.Detail.TotalBytes = ev.TotalBytes
	}
	if ev.SpeedMBps > 0 {
		t.state.Detail.SpeedMBps = ev.SpeedMBps
	}
}

// moveLocked applies a validated transition; invalid edges are logged and dropped.
func (t *Tracker) moveLocked(to domain.TrackerStatus) {
	from := t.state.Status
	if from == to {
		return
	}
	if !isValidTransition(from, to) {
		t.logger.Warn("dropping invalid transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return
	}
	t.logger.Debug("status transition", zap.Stringer("from", from), zap.Stringer("to", to))
	t.state.Status = to
}

func (t *Tracker) snapshotLocked() domain.ResourceState {
	state := t.state
	if state.Variant == "" {
		state.Variant = t.variant()
	}
	return state
}

func (t *Tracker) emit(state domain.ResourceState) {
	if t.onChange != nil {
		t.onChange(state)
	}
}

// isValidTransition enforces the tracker state machine edges. Every state may
// restart at Checking.
func isValidTransition(from, to domain.TrackerStatus) bool {
	if to == domain.StatusChecking {
		return true
	}
	switch from {
	case domain.StatusChecking:
		return to == domain.StatusReadyToDownload || to == domain.StatusDownloading ||
			to == domain.StatusDownloaded || to == domain.StatusError
	case domain.StatusReadyToDownload:
		return to == domain.StatusDownloading || to == domain.StatusDownloaded || to == domain.StatusError
	case domain.StatusDownloading:
		return to == domain.StatusDownloaded || to == domain.StatusError
	case domain.StatusDownloaded:
		return false
	case domain.StatusError:
		return to == domain.StatusReadyToDownload || to == domain.StatusDownloaded
	default:
		return false
	}
}
