package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"setup-wizard/internal/config"
	"setup-wizard/internal/engine"
)

func writeConfig(t *testing.T) (string, config.Settings) {
	t.Helper()
	root := t.TempDir()
	settings := config.DefaultSettings()
	settings.ModelsDir = filepath.Join(root, "models")
	settings.DataDir = filepath.Join(root, "data")
	settings.StatusBackend = config.BackendJSON
	settings.AutoDownload = false
	settings.SaveDebounce = "10ms"
	settings.LogLevel = "error"

	data, err := yaml.Marshal(settings)
	require.NoError(t, err)
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, settings
}

func installModels(t *testing.T, settings config.Settings, ids ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(settings.ModelsDir, 0o755))
	catalog := engine.DefaultCatalog()
	for _, id := range ids {
		for _, m := range catalog {
			if m.ID == id {
				require.NoError(t, os.WriteFile(filepath.Join(settings.ModelsDir, m.FileName), []byte("model"), 0o644))
			}
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	summaryModel = ""
	verbose = false
	err := rootCmd.Execute()
	return out.String(), err
}

func TestModelsListsCatalog(t *testing.T) {
	path, settings := writeConfig(t)
	installModels(t, settings, config.DefaultTranscriptionModel)

	out, err := execute(t, "--config", path, "models")
	require.NoError(t, err)

	assert.Contains(t, out, "gemma3:1b")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, config.DefaultTranscriptionModel) {
			assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "yes"), line)
		}
	}
}

func TestRunCompletesWhenModelsPresent(t *testing.T) {
	path, settings := writeConfig(t)
	installModels(t, settings, config.DefaultTranscriptionModel, "gemma3:4b")

	out, err := execute(t, "--config", path, "run", "--summary-model", "gemma3:4b")
	require.NoError(t, err)
	assert.Contains(t, out, "Onboarding completed with summary model gemma3:4b.")

	out, err = execute(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "completed=true")
	assert.Contains(t, out, "Summary model: gemma3:4b")

	out, err = execute(t, "--config", path, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Onboarding already completed.")
}

func TestResetClearsStatus(t *testing.T) {
	path, settings := writeConfig(t)
	installModels(t, settings, config.DefaultTranscriptionModel, config.DefaultSummaryModel)

	_, err := execute(t, "--config", path, "run")
	require.NoError(t, err)

	out, err := execute(t, "--config", path, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Onboarding status reset.")

	out, err = execute(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Onboarding: not started")
}

func TestRunRejectsUnknownSummaryModel(t *testing.T) {
	path, _ := writeConfig(t)

	_, err := execute(t, "--config", path, "run", "--summary-model", "llama")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model variant")
}

func TestLogLevelFromFlagOrConfig(t *testing.T) {
	path, _ := writeConfig(t)

	_, err := execute(t, "--config", path, "models")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel), "config log_level error should hide info")

	_, err = execute(t, "--config", path, "-v", "models")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel), "--verbose should enable debug")
}
