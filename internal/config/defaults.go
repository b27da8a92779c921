package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"

	DefaultTranscriptionModel = "parakeet-tdt-0.6b-v3-int8"
	DefaultSummaryModel       = "gemma3:1b"
	DefaultSaveDebounce       = "1s"
	DefaultLogLevel           = "info"
)

// Environment overrides applied by Normalize.
const (
	EnvModelsDir = "SETUP_WIZARD_MODELS_DIR"
	EnvLogLevel  = "SETUP_WIZARD_LOG_LEVEL"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelsDir           string `yaml:"models_dir"`
	DataDir             string `yaml:"data_dir"`
	StatusBackend       string `yaml:"status_backend"`
	SaveDebounce        string `yaml:"save_debounce"`
	TranscriptionModel  string `yaml:"transcription_model"`
	DefaultSummaryModel string `yaml:"default_summary_model"`
	AutoDownload        bool   `yaml:"auto_download"`
	LogLevel            string `yaml:"log_level"`
}

// AppDir returns ~/.setup-wizard, or a relative fallback without a home directory.
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".setup-wizard"
	}
	return filepath.Join(homeDir, ".setup-wizard")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(AppDir(), "config.yaml")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() Settings {
	return Settings{
		ModelsDir:           filepath.Join(AppDir(), "models"),
		DataDir:             filepath.Join(AppDir(), "data"),
		StatusBackend:       BackendSQLite,
		SaveDebounce:        DefaultSaveDebounce,
		TranscriptionModel:  DefaultTranscriptionModel,
		DefaultSummaryModel: DefaultSummaryModel,
		AutoDownload:        true,
		LogLevel:            DefaultLogLevel,
	}
}

// Normalize trims user input, applies env overrides and fills empty fields with defaults.
func Normalize(s Settings) Settings {
	defaults := DefaultSettings()

	if v := strings.TrimSpace(os.Getenv(EnvModelsDir)); v != "" {
		s.ModelsDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		s.LogLevel = v
	}

	s.ModelsDir = orDefault(s.ModelsDir, defaults.ModelsDir)
	s.DataDir = orDefault(s.DataDir, defaults.DataDir)
	s.TranscriptionModel = orDefault(s.TranscriptionModel, defaults.TranscriptionModel)
	s.DefaultSummaryModel = orDefault(s.DefaultSummaryModel, defaults.DefaultSummaryModel)
	s.LogLevel = strings.ToLower(orDefault(s.LogLevel, defaults.LogLevel))
	s.SaveDebounce = orDefault(s.SaveDebounce, defaults.SaveDebounce)

	switch backend := strings.ToLower(strings.TrimSpace(s.StatusBackend)); backend {
	case BackendSQLite, BackendJSON:
		s.StatusBackend = backend
	default:
		s.StatusBackend = defaults.StatusBackend
	}
	return s
}

// SaveDelay parses SaveDebounce, falling back to one second on bad input.
func (s Settings) SaveDelay() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s.SaveDebounce))
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
