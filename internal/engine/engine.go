// Package engine is the local model collaborator: it verifies model files on
// disk and downloads missing ones, publishing progress to a hub.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"setup-wizard/internal/domain"
	"setup-wizard/internal/logging"
	"setup-wizard/internal/progress"
)

const (
	downloadTimeout  = 2 * time.Hour
	publishInterval  = 250 * time.Millisecond
	maxInterimPct    = 99.9
	bytesPerMegabyte = 1_000_000
)

// Option customizes an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) { e.client = client }
}

// WithCatalog replaces the built-in catalog.
func WithCatalog(models []domain.ModelOption) Option {
	return func(e *Engine) { e.catalog = models }
}

// WithNumCPU overrides CPU detection for variant recommendation.
func WithNumCPU(fn func() int) Option {
	return func(e *Engine) { e.numCPU = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine downloads and verifies catalog models under one directory.
type Engine struct {
	modelsDir string
	catalog   []domain.ModelOption
	hub       *progress.Hub
	client    *http.Client
	numCPU    func() int
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[domain.ResourceID]string
}

// New creates an engine rooted at modelsDir.
func New(modelsDir string, hub *progress.Hub, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		modelsDir: modelsDir,
		catalog:   DefaultCatalog(),
		hub:       hub,
		client:    http.DefaultClient,
		numCPU:    runtime.NumCPU,
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[domain.ResourceID]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).Named("engine")
	return e
}

// ModelsDir returns the directory models are stored in.
func (e *Engine) ModelsDir() string {
	return e.modelsDir
}

// Models returns the catalog with downloaded markers.
func (e *Engine) Models() []domain.ModelOption {
	models := make([]domain.ModelOption, len(e.catalog))
	copy(models, e.catalog)
	markDownloadedModels(models, e.modelsDir)
	return models
}

// Lookup returns the catalog entry for a variant id.
func (e *Engine) Lookup(variant string) (domain.ModelOption, bool) {
	return lo.Find(e.catalog, func(m domain.ModelOption) bool {
		return m.ID == variant
	})
}

// ModelPath returns where a variant is stored on disk.
func (e *Engine) ModelPath(model domain.ModelOption) string {
	return filepath.Join(e.modelsDir, model.FileName)
}

// VerifyReady reports whether the variant's model file is present and non-empty.
func (e *Engine) VerifyReady(ctx context.Context, variant string) (bool, error) {
	model, ok := e.Lookup(variant)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrUnknownVariant, variant)
	}

	info, err := os.Stat(e.ModelPath(model))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("check model file: %w", err)
	}
	return !info.IsDir() && info.Size() > 0, nil
}

// AvailableVariant returns the first downloaded variant of a group.
func (e *Engine) AvailableVariant(ctx context.Context, group domain.ModelGroup) (string, bool, error) {
	if _, err := os.Stat(e.modelsDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("check models directory: %w", err)
	}

	found, ok := lo.Find(inGroup(e.Models(), group), func(m domain.ModelOption) bool {
		return m.Downloaded
	})
	return found.ID, ok, nil
}

// RecommendedVariant picks the largest summary model this machine can run.
func (e *Engine) RecommendedVariant(ctx context.Context) (string, error) {
	cpus := e.numCPU()
	fits := lo.Filter(inGroup(e.catalog, domain.GroupSummary), func(m domain.ModelOption, _ int) bool {
		return m.MinCPUs <= cpus
	})
	if len(fits) == 0 {
		return "", fmt.Errorf("no summary model fits %d CPUs", cpus)
	}

	best := lo.MaxBy(fits, func(a, b domain.ModelOption) bool {
		return a.SizeBytes > b.SizeBytes
	})
	return best.ID, nil
}

// Subscribe streams progress events for a resource.
func (e *Engine) Subscribe(resource domain.ResourceID) (<-chan domain.ProgressEvent, func()) {
	return e.hub.Subscribe(resource)
}

// BeginDownload starts a background download and returns immediately.
// Completion and failure arrive on the progress stream. A resource that is
// already downloading is left alone.
func (e *Engine) BeginDownload(ctx context.Context, resource domain.ResourceID, variant string) error {
	model, ok := e.Lookup(variant)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownVariant, variant)
	}
	if model.Group != domain.GroupFor(resource) {
		return fmt.Errorf("%w: %s does not satisfy %s", domain.ErrUnknownVariant, variant, resource)
	}
	if err := e.ctx.Err(); err != nil {
		return fmt.Errorf("engine closed: %w", err)
	}

	e.mu.Lock()
	if _, busy := e.active[resource]; busy {
		e.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	e.active[resource] = id
	e.wg.Add(1)
	e.mu.Unlock()

	logger := e.logger.With(
		zap.String("resource", string(resource)),
		zap.String("variant", variant),
		zap.String("download_id", id),
	)
	logger.Info("download started", zap.String("url", model.URL))

	go func() {
		defer e.wg.Done()

		err := e.download(resource, model)
		// Release the slot before the error event so a retry can start a new transfer.
		e.mu.Lock()
		delete(e.active, resource)
		e.mu.Unlock()
		if err != nil {
			logger.Warn("download failed", zap.Error(err))
			e.hub.Publish(domain.ProgressEvent{
				Resource: resource,
				Variant:  model.ID,
				Status:   domain.ProgressStatusError,
				Error:    err.Error(),
			})
			return
		}
		logger.Info("download completed")
	}()
	return nil
}

// Downloading reports whether a download is running for a resource.
func (e *Engine) Downloading(resource domain.ResourceID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.active[resource]
	return busy
}

// Close aborts running downloads and waits for them to exit.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) download(resource domain.ResourceID, model domain.ModelOption) error {
	destinationPath := e.ModelPath(model)
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(e.ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "setup-wizard")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = model.SizeBytes
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	reporter := &progressWriter{
		hub:      e.hub,
		resource: resource,
		variant:  model.ID,
		total:    total,
		started:  time.Now(),
	}
	_, copyErr := io.Copy(io.MultiWriter(file, reporter), resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}

	e.hub.Publish(reporter.event(100, domain.ProgressStatusCompleted))
	return nil
}

// progressWriter publishes throttled progress events as bytes flow through it.
// Interim events stay below 100 so only the final rename completes a download.
type progressWriter struct {
	hub      *progress.Hub
	resource domain.ResourceID
	variant  string
	total    int64
	started  time.Time

	written     int64
	lastPublish time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))

	now := time.Now()
	if now.Sub(w.lastPublish) >= publishInterval {
		w.lastPublish = now
		pct := 0.0
		if w.total > 0 {
			pct = min(float64(w.written)*100/float64(w.total), maxInterimPct)
		}
		w.hub.Publish(w.event(pct, domain.ProgressStatusDownloading))
	}
	return len(p), nil
}

func (w *progressWriter) event(pct float64, status string) domain.ProgressEvent {
	speed := 0.0
	if elapsed := time.Since(w.started).Seconds(); elapsed > 0 {
		speed = float64(w.written) / bytesPerMegabyte / elapsed
	}
	total := w.total
	if status == domain.ProgressStatusCompleted {
		total = w.written
	}
	return domain.ProgressEvent{
		Resource:        w.resource,
		Variant:         w.variant,
		Progress:        pct,
		DownloadedBytes: w.written,
		TotalBytes:      total,
		SpeedMBps:       speed,
		Status:          status,
	}
}
