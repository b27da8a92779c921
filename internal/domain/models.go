package domain

// ModelGroup ties catalog variants to the resource they satisfy.
type ModelGroup string

const (
	GroupTranscription ModelGroup = "transcription"
	GroupSummary       ModelGroup = "summary"
)

// ModelOption describes one downloadable model variant.
type ModelOption struct {
	ID          string     `json:"id"`
	Group       ModelGroup `json:"group"`
	Name        string     `json:"name"`
	FileName    string     `json:"fileName"`
	URL         string     `json:"url"`
	SizeBytes   int64      `json:"sizeBytes"`
	SizeLabel   string     `json:"sizeLabel,omitempty"`
	Description string     `json:"description,omitempty"`
	MinCPUs     int        `json:"minCpus,omitempty"`
	Downloaded  bool       `json:"downloaded"`
	LocalPath   string     `json:"localPath,omitempty"`
}

// GroupFor returns the catalog group that satisfies a resource.
func GroupFor(id ResourceID) ModelGroup {
	if id == ResourceSummary {
		return GroupSummary
	}
	return GroupTranscription
}
