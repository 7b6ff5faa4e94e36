package types

import "time"

// ItemStatus is the outcome of one batch item.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemSkipped ItemStatus = "skipped"
	ItemError   ItemStatus = "error"
)

// ItemResult records what happened to a single input image.
type ItemResult struct {
	// Path of the source image.
	// example: /data/images/cat.jpg
	Input string `json:"input" example:"/data/images/cat.jpg"`
	// Path of the caption file that was (or would have been) written.
	// example: /data/captions/cat.txt
	Output string `json:"output" example:"/data/captions/cat.txt"`
	// Outcome of the item.
	// example: success
	Status ItemStatus `json:"status" example:"success"`
	// Error kind for failed items: load, generation, io or interrupted.
	// example: generation
	Kind string `json:"kind,omitempty" example:"generation"`
	// Error message for failed items.
	Error string `json:"error,omitempty"`
}

// RunSummary aggregates the item results of one batch run.
// Processed + Skipped + Errored always equals Total.
type RunSummary struct {
	// Unique identifier of the run, also attached to every log line.
	RunID string `json:"run_id"`
	// example: /data/images
	InputDir string `json:"input_dir" example:"/data/images"`
	// example: /data/captions
	OutputDir string `json:"output_dir" example:"/data/captions"`
	// Number of supported image files found in the input directory.
	// example: 3
	Discovered int `json:"discovered" example:"3"`
	// Number of items visited. Equals Discovered unless the run was interrupted.
	// example: 3
	Total int `json:"total" example:"3"`
	// example: 2
	Processed int `json:"processed" example:"2"`
	// example: 1
	Skipped int `json:"skipped" example:"1"`
	// example: 0
	Errored int `json:"errored" example:"0"`
	// True when the run stopped before visiting every discovered item.
	Interrupted bool `json:"interrupted,omitempty"`
	// Wall-clock start of the run.
	StartedAt time.Time `json:"started_at"`
	// example: 15234
	DurationMS int64 `json:"duration_ms" example:"15234"`
	// Per-item outcomes in visiting order.
	Items []ItemResult `json:"items,omitempty"`
}

// Add folds one item result into the summary.
func (s *RunSummary) Add(r ItemResult) {
	s.Total++
	switch r.Status {
	case ItemSuccess:
		s.Processed++
	case ItemSkipped:
		s.Skipped++
	default:
		s.Errored++
	}
	s.Items = append(s.Items, r)
}

// Consistent reports whether the counters satisfy the summary invariant.
func (s RunSummary) Consistent() bool {
	return s.Processed+s.Skipped+s.Errored == s.Total
}
