// Package onboarding owns the setup wizard: navigation, startup
// reconciliation of the persisted record against live verification, the
// per-resource trackers, debounced persistence and finalization.
package onboarding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"setup-wizard/internal/domain"
	"setup-wizard/internal/logging"
	"setup-wizard/internal/tracker"
)

// Engine is the model collaborator the controller drives.
type Engine interface {
	tracker.Engine
	Lookup(variant string) (domain.ModelOption, bool)
	AvailableVariant(ctx context.Context, group domain.ModelGroup) (string, bool, error)
	RecommendedVariant(ctx context.Context) (string, error)
	Subscribe(resource domain.ResourceID) (<-chan domain.ProgressEvent, func())
}

// StatusStore persists the wizard record. Load returns nil when nothing is stored.
type StatusStore interface {
	Load(ctx context.Context) (*domain.PersistedOnboardingStatus, error)
	Save(ctx context.Context, status domain.PersistedOnboardingStatus) error
	Finalize(ctx context.Context, summaryModel string) error
}

// Options configures a Controller.
type Options struct {
	TranscriptionModel  string
	DefaultSummaryModel string
	// SummaryModel pins the summary variant and disables discovery.
	SummaryModel string
	AutoDownload bool
	SaveDelay    time.Duration
	Logger       *zap.Logger
}

// Controller is created once per wizard session. Call Start before use and
// Close on teardown.
type Controller struct {
	engine    Engine
	store     StatusStore
	opts      Options
	logger    *zap.Logger
	sessionID string

	shared   *sharedState
	trackers map[domain.ResourceID]*tracker.Tracker

	summaryModel    atomic.Pointer[string]
	summaryExplicit atomic.Bool

	debounced func(func())
	saveMu    sync.Mutex
	wg        sync.WaitGroup

	mu                 sync.Mutex
	step               int
	completed          bool
	databaseExists     bool
	permissions        map[domain.PermissionKind]domain.PermissionStatus
	permissionsSkipped bool
	listeners          []func(Snapshot)
	started            bool
	live               bool
	closed             bool
	dirty              bool
	cancel             context.CancelFunc
}

// New builds a controller with one tracker per resource.
func New(engine Engine, store StatusStore, opts Options) *Controller {
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = time.Second
	}

	c := &Controller{
		engine:    engine,
		store:     store,
		opts:      opts,
		sessionID: uuid.NewString(),
		shared:    newSharedState(),
		trackers:  make(map[domain.ResourceID]*tracker.Tracker, len(domain.Resources)),
		debounced: debounce.New(opts.SaveDelay),
		step:      domain.FirstStep,
		permissions: map[domain.PermissionKind]domain.PermissionStatus{
			domain.PermissionMicrophone:  domain.PermissionNotDetermined,
			domain.PermissionSystemAudio: domain.PermissionNotDetermined,
		},
	}
	c.logger = logging.OrNop(opts.Logger).Named("onboarding").With(zap.String("session", c.sessionID))
	c.shared.onDownloaded = c.scheduleSave

	if opts.SummaryModel != "" {
		variant := opts.SummaryModel
		c.summaryModel.Store(&variant)
		c.summaryExplicit.Store(true)
	}

	c.trackers[domain.ResourceTranscription] = tracker.New(tracker.Config{
		Resource:  domain.ResourceTranscription,
		Engine:    engine,
		Shared:    c.shared,
		Variant:   func() string { return opts.TranscriptionModel },
		AutoStart: opts.AutoDownload,
		OnChange:  c.trackerChanged,
		Logger:    c.logger,
	})
	c.trackers[domain.ResourceSummary] = tracker.New(tracker.Config{
		Resource:  domain.ResourceSummary,
		Engine:    engine,
		Shared:    c.shared,
		Variant:   c.SummaryModel,
		Discover:  c.discoverSummary,
		OnVariant: c.adoptSummary,
		AutoStart: opts.AutoDownload,
		OnChange:  c.trackerChanged,
		Logger:    c.logger,
	})
	return c
}

// SessionID identifies this wizard session in logs.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Start loads the persisted record, verifies both resources, reconciles and
// subscribes the trackers to their progress streams. It runs once.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrControllerClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	persisted := c.loadPersisted(ctx)
	c.resolveSummaryModel(ctx)

	readiness := c.verifyAll(ctx, "verify resource at startup")
	step, completed := Reconcile(persisted, readiness[0], readiness[1])

	corrected := step != domain.ClampStep(persisted.CurrentStep) || completed != persisted.Completed
	if corrected {
		c.logger.Info("corrected persisted onboarding status",
			zap.Int("persisted_step", persisted.CurrentStep),
			zap.Bool("persisted_completed", persisted.Completed),
			zap.Int("step", step),
			zap.Bool("completed", completed),
		)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return domain.ErrControllerClosed
	}
	c.step = step
	c.completed = completed
	c.cancel = cancel
	c.live = true
	c.mu.Unlock()

	for _, r := range domain.Resources {
		c.watch(runCtx, r)
	}
	if corrected {
		c.scheduleSave()
	}
	c.notify()

	c.logger.Info("onboarding started",
		zap.Int("step", step),
		zap.Bool("completed", completed),
		zap.String("summary_model", c.SummaryModel()),
	)
	return c.enterStep(ctx, step)
}

// Close stops progress consumption, writes any pending change and disables
// further saves. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.debounced(func() {})
	c.flush()

	c.mu.Lock()
	c.closed = true
	c.live = false
	c.mu.Unlock()

	// Wait out a save that raced the final flush.
	c.saveMu.Lock()
	c.saveMu.Unlock()
	return nil
}

// State returns a snapshot of the controller and its trackers.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		SessionID:          c.sessionID,
		CurrentStep:        c.step,
		Completed:          c.completed,
		DatabaseExists:     c.databaseExists,
		Permissions:        make(map[domain.PermissionKind]domain.PermissionStatus, len(c.permissions)),
		PermissionsSkipped: c.permissionsSkipped,
	}
	for kind, status := range c.permissions {
		snap.Permissions[kind] = status
	}
	c.mu.Unlock()

	snap.SelectedSummaryModel = c.SummaryModel()
	snap.Resources = make(map[domain.ResourceID]domain.ResourceState, len(c.trackers))
	snap.Progress = make(map[domain.ResourceID]domain.ProgressInfo, len(c.trackers))
	for r, tr := range c.trackers {
		state := tr.State()
		snap.Resources[r] = state
		snap.Progress[r] = domain.NewProgressInfo(state)
	}
	return snap
}

// CurrentStep returns the wizard step.
func (c *Controller) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Completed reports whether onboarding was finalized.
func (c *Controller) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// ResourceReady reports the shared readiness of a resource, unless its
// tracker has since verified it missing.
func (c *Controller) ResourceReady(resource domain.ResourceID) bool {
	tr, ok := c.trackers[resource]
	if !ok {
		return false
	}
	return c.shared.Downloaded(resource) && !tr.VerifiedNotReady()
}

// OnChange registers a listener called after every state change.
// Listeners run outside the controller's locks.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// GoToStep moves to step n, clamped to the wizard range. Entering a model
// step re-drives that resource's tracker.
func (c *Controller) GoToStep(ctx context.Context, n int) error {
	return c.navigate(ctx, func(int) int { return n })
}

// GoNext advances one step.
func (c *Controller) GoNext(ctx context.Context) error {
	return c.navigate(ctx, func(current int) int { return current + 1 })
}

// GoPrevious goes back one step.
func (c *Controller) GoPrevious(ctx context.Context) error {
	return c.navigate(ctx, func(current int) int { return current - 1 })
}

// GoBackToFix returns to the step of a resource. The resource's shared
// downloaded flag is cleared before the step changes so the tracker
// re-verifies on entry.
func (c *Controller) GoBackToFix(ctx context.Context, resource domain.ResourceID) error {
	tr, ok := c.trackers[resource]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownResource, resource)
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.shared.SetDownloaded(resource, false)
	tr.Sync()

	step := domain.StepFor(resource)
	c.setStep(step)
	return c.enterStep(ctx, step)
}

// Reinitialize re-drives one resource's tracker from Checking.
func (c *Controller) Reinitialize(ctx context.Context, resource domain.ResourceID) error {
	tr, err := c.lookupTracker(resource)
	if err != nil {
		return err
	}
	return tr.Reinitialize(ctx)
}

// StartDownload triggers a download for a resource waiting in ReadyToDownload.
func (c *Controller) StartDownload(ctx context.Context, resource domain.ResourceID) error {
	tr, err := c.lookupTracker(resource)
	if err != nil {
		return err
	}
	return tr.StartDownload(ctx)
}

// Retry re-enters the download attempt of a failed resource.
func (c *Controller) Retry(ctx context.Context, resource domain.ResourceID) error {
	tr, err := c.lookupTracker(resource)
	if err != nil {
		return err
	}
	return tr.Retry(ctx)
}

// SummaryModel returns the selected summary variant.
func (c *Controller) SummaryModel() string {
	if p := c.summaryModel.Load(); p != nil {
		return *p
	}
	return c.opts.DefaultSummaryModel
}

// SelectSummaryModel pins a summary variant. A change re-verifies the
// summary resource; it is rejected while a summary download runs.
func (c *Controller) SelectSummaryModel(ctx context.Context, variant string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	model, ok := c.engine.Lookup(variant)
	if !ok || model.Group != domain.GroupSummary {
		return fmt.Errorf("%w: %s", domain.ErrUnknownVariant, variant)
	}

	tr := c.trackers[domain.ResourceSummary]
	if tr.State().Status == domain.StatusDownloading {
		return domain.ErrDownloadInProgress
	}

	previous := c.SummaryModel()
	c.summaryModel.Store(&variant)
	c.summaryExplicit.Store(true)
	if previous == variant {
		c.notify()
		return nil
	}

	c.logger.Info("summary model selected", zap.String("previous", previous), zap.String("variant", variant))
	c.shared.SetDownloaded(domain.ResourceSummary, false)
	tr.Sync()
	c.notify()

	if c.CurrentStep() == domain.StepSummary {
		return tr.Reinitialize(ctx)
	}
	return nil
}

// SetPermission records the last known answer for a permission.
func (c *Controller) SetPermission(kind domain.PermissionKind, status domain.PermissionStatus) error {
	switch kind {
	case domain.PermissionMicrophone, domain.PermissionSystemAudio:
	default:
		return fmt.Errorf("unknown permission: %s", kind)
	}
	switch status {
	case domain.PermissionNotDetermined, domain.PermissionAuthorized, domain.PermissionDenied:
	default:
		return fmt.Errorf("unknown permission status: %s", status)
	}

	c.mu.Lock()
	c.permissions[kind] = status
	c.mu.Unlock()
	c.notify()
	return nil
}

// SkipPermissions marks the permissions step as skipped.
func (c *Controller) SkipPermissions() {
	c.mu.Lock()
	c.permissionsSkipped = true
	c.mu.Unlock()
	c.notify()
}

// SetDatabaseExists records whether the host application's database exists.
func (c *Controller) SetDatabaseExists(exists bool) {
	c.mu.Lock()
	c.databaseExists = exists
	c.mu.Unlock()
	c.notify()
}

// CompleteOnboarding re-verifies both resources live, finalizes through the
// store and only then marks the wizard completed. A store error is returned
// as is and leaves the controller unchanged.
func (c *Controller) CompleteOnboarding(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	readiness := c.verifyAll(ctx, "verify resource before completing")
	var missing []domain.ResourceID
	for i, r := range domain.Resources {
		if !readiness[i] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &domain.NotReadyError{Resources: missing}
	}

	// Finalize must be the last write: drop the pending save and wait out a running one.
	c.debounced(func() {})
	c.saveMu.Lock()
	summaryModel := c.SummaryModel()
	if err := c.store.Finalize(ctx, summaryModel); err != nil {
		c.saveMu.Unlock()
		c.logger.Warn("finalize onboarding", zap.Error(err))
		c.mu.Lock()
		dirty := c.dirty
		c.mu.Unlock()
		if dirty {
			c.debounced(c.flush)
		}
		return err
	}

	c.mu.Lock()
	c.completed = true
	c.step = domain.LastStep
	c.dirty = false
	c.mu.Unlock()
	c.saveMu.Unlock()

	c.logger.Info("onboarding completed", zap.String("summary_model", summaryModel))
	c.notify()
	return nil
}

func (c *Controller) lookupTracker(resource domain.ResourceID) (*tracker.Tracker, error) {
	tr, ok := c.trackers[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownResource, resource)
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return tr, nil
}

func (c *Controller) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrControllerClosed
	}
	return nil
}

func (c *Controller) navigate(ctx context.Context, next func(current int) int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrControllerClosed
	}
	step := domain.ClampStep(next(c.step))
	changed := step != c.step
	c.step = step
	c.mu.Unlock()

	if !changed {
		return nil
	}
	c.scheduleSave()
	c.notify()
	return c.enterStep(ctx, step)
}

func (c *Controller) setStep(step int) {
	c.mu.Lock()
	changed := step != c.step
	c.step = step
	c.mu.Unlock()

	if changed {
		c.scheduleSave()
	}
	c.notify()
}

// enterStep mirrors a step view mounting: model steps re-drive their tracker.
func (c *Controller) enterStep(ctx context.Context, step int) error {
	for _, r := range domain.Resources {
		if domain.StepFor(r) == step {
			return c.trackers[r].Reinitialize(ctx)
		}
	}
	return nil
}

func (c *Controller) verifyAll(ctx context.Context, msg string) []bool {
	readiness := make([]bool, len(domain.Resources))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range domain.Resources {
		tr := c.trackers[r]
		g.Go(func() error {
			ready, err := tr.Verify(gctx)
			if err != nil {
				c.logger.Warn(msg, zap.String("resource", string(r)), zap.Error(err))
			}
			readiness[i] = ready
			return nil
		})
	}
	_ = g.Wait()
	return readiness
}

func (c *Controller) loadPersisted(ctx context.Context) domain.PersistedOnboardingStatus {
	rec, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("load onboarding status, using defaults", zap.Error(err))
		return domain.DefaultPersistedStatus()
	}
	if rec == nil {
		c.logger.Debug("no persisted onboarding status")
		return domain.DefaultPersistedStatus()
	}
	return *rec
}

// resolveSummaryModel picks the summary variant when none was pinned: an
// already-present variant first, then the engine's recommendation, then the
// configured default.
func (c *Controller) resolveSummaryModel(ctx context.Context) {
	if c.summaryExplicit.Load() {
		return
	}

	variant, found, err := c.engine.AvailableVariant(ctx, domain.GroupSummary)
	if err != nil {
		c.logger.Warn("discover summary model", zap.Error(err))
	}
	if found {
		c.adoptSummary(variant)
		return
	}

	variant, err = c.engine.RecommendedVariant(ctx)
	if err != nil || variant == "" {
		c.logger.Warn("recommend summary model, using default",
			zap.String("default", c.opts.DefaultSummaryModel), zap.Error(err))
		return
	}
	c.adoptSummary(variant)
}

func (c *Controller) discoverSummary(ctx context.Context) (string, bool, error) {
	if c.summaryExplicit.Load() {
		return "", false, nil
	}
	return c.engine.AvailableVariant(ctx, domain.GroupSummary)
}

func (c *Controller) adoptSummary(variant string) {
	c.summaryModel.Store(&variant)
}

func (c *Controller) watch(ctx context.Context, resource domain.ResourceID) {
	events, unsubscribe := c.engine.Subscribe(resource)
	tr := c.trackers[resource]

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsubscribe()
		tr.Run(ctx, events)
	}()
}

func (c *Controller) trackerChanged(domain.ResourceState) {
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	snap := c.State()
	for _, fn := range listeners {
		fn(snap)
	}
}

// scheduleSave queues a debounced save. Nothing is queued before Start
// finishes reconciling, after Close, or once onboarding is completed.
func (c *Controller) scheduleSave() {
	c.mu.Lock()
	if !c.live || c.closed || c.completed {
		c.mu.Unlock()
		return
	}
	c.dirty = true
	c.mu.Unlock()

	c.debounced(c.flush)
}

func (c *Controller) flush() {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if !c.dirty || c.closed || c.completed {
		c.dirty = false
		c.mu.Unlock()
		return
	}
	rec := domain.PersistedOnboardingStatus{
		Version:     domain.StatusVersion,
		Completed:   c.completed,
		CurrentStep: c.step,
		ModelStatus: c.shared.modelStatus(),
		LastUpdated: time.Now().UTC(),
	}
	c.dirty = false
	c.mu.Unlock()

	if err := c.store.Save(context.Background(), rec); err != nil {
		c.logger.Warn("save onboarding status", zap.Error(err))
		return
	}
	c.logger.Debug("saved onboarding status", zap.Int("step", rec.CurrentStep))
}
