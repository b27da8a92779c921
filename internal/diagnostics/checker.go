package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"setup-wizard/internal/domain"
)

// Input names the directories and model variants to check.
type Input struct {
	ModelsDir string
	DataDir   string
	Models    map[domain.ResourceID]domain.ModelOption
}

// Checker validates model files and required writable directories.
type Checker struct {
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all checks and returns a combined report. Resources are
// checked in wizard order.
func (c *Checker) Run(in Input) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkWritableDir("models_dir", "Models directory", in.ModelsDir),
		c.checkWritableDir("data_dir", "Data directory", in.DataDir),
	}
	for _, r := range domain.Resources {
		model, ok := in.Models[r]
		if !ok {
			continue
		}
		items = append(items, c.checkModel(r, model, in.ModelsDir))
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
			return item.Status == domain.DiagnosticStatusFail
		}),
		Items: items,
	}
}

// checkModel verifies one resource's model file is present.
func (c *Checker) checkModel(resource domain.ResourceID, model domain.ModelOption, modelsDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:       "model_" + string(resource),
		Name:     model.Name,
		Resource: resource,
	}
	if item.Name == "" {
		item.Name = model.ID
	}

	path := filepath.Join(modelsDir, model.FileName)
	info, err := c.stat(path)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model not downloaded: %s", model.ID)
			item.Hint = "Open the setup wizard or run `setupctl run` to download it."
		} else {
			item.Message = fmt.Sprintf("Cannot access model file: %s", path)
			item.Hint = "Check permissions for the models directory."
		}
		return item
	}

	if info.IsDir() || info.Size() == 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model file is empty or invalid: %s", path)
		item.Hint = "Delete it and download the model again."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model file found: %s", path)
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set it in config.yaml."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
