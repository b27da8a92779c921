package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"

	"setup-wizard/internal/config"
	"setup-wizard/internal/diagnostics"
	"setup-wizard/internal/domain"
	"setup-wizard/internal/engine"
	"setup-wizard/internal/logging"
	"setup-wizard/internal/onboarding"
	"setup-wizard/internal/progress"
	"setup-wizard/internal/status"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Runtime event names pushed to the frontend.
const (
	EventState    = "onboarding:state"
	EventProgress = "onboarding:progress"
)

// App wires configuration, the model engine, the onboarding controller and UI runtime callbacks.
type App struct {
	Settings    config.Settings
	Store       config.Store
	Status      status.Store
	Engine      *engine.Engine
	Hub         *progress.Hub
	Onboarding  *onboarding.Controller
	Diagnostics domain.DiagnosticReport
	Logger      *zap.Logger
	assets      fs.FS
	checker     *diagnostics.Checker

	mu         sync.Mutex
	runtimeCtx context.Context
	emit       func(ctx context.Context, name string, data ...interface{})
	closeOnce  sync.Once
}

// New builds the application from the default config file.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	store := config.NewYAMLStore(config.ConfigPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger, err := logging.New(settings.LogLevel)
	if err != nil {
		return nil, err
	}

	app, err := NewFromSettings(store, settings, logger)
	if err != nil {
		return nil, err
	}
	app.assets = assets
	return app, nil
}

// NewFromSettings builds every component for the given settings without
// starting the onboarding controller.
func NewFromSettings(store config.Store, settings config.Settings, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	statusPath, err := status.PathFor(settings.StatusBackend, settings.DataDir)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(statusPath)
	databaseExists := statErr == nil

	statusStore, err := status.Open(settings.StatusBackend, settings.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}

	hub := progress.NewHub(1000)
	eng := engine.New(settings.ModelsDir, hub, engine.WithLogger(logger))
	ctrl := onboarding.New(eng, statusStore, onboarding.Options{
		TranscriptionModel:  settings.TranscriptionModel,
		DefaultSummaryModel: settings.DefaultSummaryModel,
		AutoDownload:        settings.AutoDownload,
		SaveDelay:           settings.SaveDelay(),
		Logger:              logger,
	})
	ctrl.SetDatabaseExists(databaseExists)

	a := &App{
		Settings:   settings,
		Store:      store,
		Status:     statusStore,
		Engine:     eng,
		Hub:        hub,
		Onboarding: ctrl,
		Logger:     logger,
		checker:    diagnostics.NewChecker(),
		emit:       wailsruntime.EventsEmit,
	}
	a.Diagnostics = a.checker.Run(a.diagnosticsInput())
	ctrl.OnChange(a.pushState)
	return a, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Setup",
		Width:       960,
		Height:      680,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and starts the onboarding session.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	if err := a.Onboarding.Start(ctx); err != nil {
		a.Logger.Error("start onboarding", zap.Error(err))
	}
}

// Shutdown drops the runtime context and releases every component.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	if err := a.Close(); err != nil {
		a.Logger.Warn("close app", zap.Error(err))
	}
}

// Close stops the controller and engine and closes the status store.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = errors.Join(a.Onboarding.Close(), func() error {
			a.Engine.Close()
			a.Hub.Close()
			return a.Status.Close()
		}())
		_ = a.Logger.Sync()
	})
	return err
}

// GetOnboardingState returns the current wizard snapshot.
func (a *App) GetOnboardingState() onboarding.Snapshot {
	return a.Onboarding.State()
}

// GoToStep navigates to step n (clamped).
func (a *App) GoToStep(n int) (onboarding.Snapshot, error) {
	err := a.Onboarding.GoToStep(a.opContext(), n)
	return a.Onboarding.State(), err
}

// GoNext advances one step.
func (a *App) GoNext() (onboarding.Snapshot, error) {
	err := a.Onboarding.GoNext(a.opContext())
	return a.Onboarding.State(), err
}

// GoPrevious goes back one step.
func (a *App) GoPrevious() (onboarding.Snapshot, error) {
	err := a.Onboarding.GoPrevious(a.opContext())
	return a.Onboarding.State(), err
}

// GoBackToFix returns to the step of one resource and re-verifies it.
func (a *App) GoBackToFix(resource string) (onboarding.Snapshot, error) {
	err := a.Onboarding.GoBackToFix(a.opContext(), domain.ResourceID(strings.TrimSpace(resource)))
	return a.Onboarding.State(), err
}

// StartDownload starts a resource download when auto download is off.
func (a *App) StartDownload(resource string) (onboarding.Snapshot, error) {
	err := a.Onboarding.StartDownload(a.opContext(), domain.ResourceID(strings.TrimSpace(resource)))
	return a.Onboarding.State(), err
}

// RetryDownload retries a failed resource.
func (a *App) RetryDownload(resource string) (onboarding.Snapshot, error) {
	err := a.Onboarding.Retry(a.opContext(), domain.ResourceID(strings.TrimSpace(resource)))
	return a.Onboarding.State(), err
}

// SetPermission records a permission answer reported by the frontend.
func (a *App) SetPermission(kind, permissionStatus string) (onboarding.Snapshot, error) {
	err := a.Onboarding.SetPermission(domain.PermissionKind(kind), domain.PermissionStatus(permissionStatus))
	return a.Onboarding.State(), err
}

// SkipPermissions skips the permissions step.
func (a *App) SkipPermissions() onboarding.Snapshot {
	a.Onboarding.SkipPermissions()
	return a.Onboarding.State()
}

// CompleteOnboarding finalizes the wizard.
func (a *App) CompleteOnboarding() (onboarding.Snapshot, error) {
	err := a.Onboarding.CompleteOnboarding(a.opContext())
	return a.Onboarding.State(), err
}

// ProgressEvents returns progress events with sequence greater than sinceSeq.
func (a *App) ProgressEvents(sinceSeq int64) []domain.ProgressEvent {
	return a.Hub.Since(sinceSeq)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reruns the readiness checks.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	report := a.checker.Run(a.diagnosticsInput())

	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (config.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// SaveSettings normalizes and persists settings. Directory and model changes apply on next launch.
func (a *App) SaveSettings(settings config.Settings) (config.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return config.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return normalized, nil
}

// pushState forwards controller changes to the frontend.
func (a *App) pushState(snap onboarding.Snapshot) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	emit := a.emit
	a.mu.Unlock()
	if ctx == nil || emit == nil {
		return
	}

	emit(ctx, EventState, snap)
	emit(ctx, EventProgress, snap.Progress)
}

func (a *App) diagnosticsInput() diagnostics.Input {
	in := diagnostics.Input{
		ModelsDir: a.Settings.ModelsDir,
		DataDir:   a.Settings.DataDir,
		Models:    map[domain.ResourceID]domain.ModelOption{},
	}
	if m, ok := a.Engine.Lookup(a.Settings.TranscriptionModel); ok {
		in.Models[domain.ResourceTranscription] = m
	}
	if m, ok := a.Engine.Lookup(a.Onboarding.SummaryModel()); ok {
		in.Models[domain.ResourceSummary] = m
	}
	return in
}

// opContext returns the Wails runtime context, or Background outside the desktop app.
func (a *App) opContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return context.Background()
	}
	return a.runtimeCtx
}
