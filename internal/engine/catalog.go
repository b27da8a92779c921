package engine

import (
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"setup-wizard/internal/domain"
)

var modelCatalog = []domain.ModelOption{
	{
		ID:          "parakeet-tdt-0.6b-v3-int8",
		Group:       domain.GroupTranscription,
		Name:        "Parakeet TDT 0.6B v3 (int8)",
		FileName:    "parakeet-tdt-0.6b-v3-int8.onnx",
		URL:         "https://huggingface.co/istupakov/parakeet-tdt-0.6b-v3-onnx/resolve/main/encoder-model.int8.onnx",
		SizeBytes:   652_000_000,
		SizeLabel:   "~650 MB",
		Description: "Multilingual speech recognition, quantized for CPU.",
	},
	{
		ID:          "parakeet-tdt-0.6b-v2-int8",
		Group:       domain.GroupTranscription,
		Name:        "Parakeet TDT 0.6B v2 (int8)",
		FileName:    "parakeet-tdt-0.6b-v2-int8.onnx",
		URL:         "https://huggingface.co/istupakov/parakeet-tdt-0.6b-v2-onnx/resolve/main/encoder-model.int8.onnx",
		SizeBytes:   622_000_000,
		SizeLabel:   "~620 MB",
		Description: "English-only predecessor of v3.",
	},
	{
		ID:          "gemma3:1b",
		Group:       domain.GroupSummary,
		Name:        "Gemma 3 1B",
		FileName:    "gemma-3-1b-it-Q4_K_M.gguf",
		URL:         "https://huggingface.co/ggml-org/gemma-3-1b-it-GGUF/resolve/main/gemma-3-1b-it-Q4_K_M.gguf",
		SizeBytes:   806_000_000,
		SizeLabel:   "~800 MB",
		Description: "Small summary model for any machine.",
		MinCPUs:     1,
	},
	{
		ID:          "gemma3:4b",
		Group:       domain.GroupSummary,
		Name:        "Gemma 3 4B",
		FileName:    "gemma-3-4b-it-Q4_K_M.gguf",
		URL:         "https://huggingface.co/ggml-org/gemma-3-4b-it-GGUF/resolve/main/gemma-3-4b-it-Q4_K_M.gguf",
		SizeBytes:   2_490_000_000,
		SizeLabel:   "~2.5 GB",
		Description: "Better summaries, needs a faster machine.",
		MinCPUs:     8,
	},
}

// DefaultCatalog returns a copy of the built-in model presets.
func DefaultCatalog() []domain.ModelOption {
	models := make([]domain.ModelOption, len(modelCatalog))
	copy(models, modelCatalog)
	return models
}

// markDownloadedModels flags catalog entries whose file exists in modelsDir.
func markDownloadedModels(models []domain.ModelOption, modelsDir string) {
	for i := range models {
		candidate := filepath.Join(modelsDir, models[i].FileName)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		models[i].Downloaded = true
		models[i].LocalPath = candidate
	}
}

func inGroup(models []domain.ModelOption, group domain.ModelGroup) []domain.ModelOption {
	return lo.Filter(models, func(m domain.ModelOption, _ int) bool {
		return m.Group == group
	})
}
