package types

import "time"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: not found
	Error string `json:"error" example:"not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// RunProgress describes the batch currently being processed.
type RunProgress struct {
	// example: 2b1c0f0e-7a55-4c1e-9f11-3f0c7e0e5a10
	RunID string `json:"run_id"`
	// Number of discovered items.
	// example: 120
	Total int `json:"total" example:"120"`
	// 1-based index of the item in progress (0 before the first item).
	// example: 17
	Current int `json:"current" example:"17"`
	// File name of the item in progress.
	// example: cat.jpg
	CurrentFile string `json:"current_file,omitempty" example:"cat.jpg"`
	// example: 15
	Processed int `json:"processed" example:"15"`
	// example: 1
	Skipped int `json:"skipped" example:"1"`
	// example: 0
	Errored int `json:"errored" example:"0"`
	// True once the run has finished and cleanup ran.
	Done bool `json:"done"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state of the captioning resource (unloaded, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Whether the resource is currently resident.
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Compute device the resource is bound to.
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Last time the resource served a request (unix seconds, 0 if never).
	// example: 1700000000
	LastActivityUnix int64 `json:"last_activity_unix" example:"1700000000"`
	// Idle window after which the resource is evicted.
	// example: 300
	IdleTimeoutSeconds int64 `json:"idle_timeout_seconds" example:"300"`
	// Whether an idle eviction is currently scheduled.
	// example: true
	EvictionPending bool `json:"eviction_pending" example:"true"`
	// Total number of successful loads.
	// example: 2
	LoadsTotal uint64 `json:"loads_total" example:"2"`
	// Total number of failed loads.
	// example: 0
	LoadFailuresTotal uint64 `json:"load_failures_total" example:"0"`
	// Total number of evictions (idle, explicit or shutdown).
	// example: 1
	EvictionsTotal uint64 `json:"evictions_total" example:"1"`
	// Total number of generation calls.
	// example: 17
	GenerationsTotal uint64 `json:"generations_total" example:"17"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Progress of the running batch, if any.
	Run *RunProgress `json:"run,omitempty"`
}

// EventRecord is one lifecycle event returned by GET /events.
type EventRecord struct {
	// example: load_ready
	Name string `json:"name" example:"load_ready"`
	// When the event was published.
	Time time.Time `json:"time"`
	// Event specific details (device, pid, reason, error, dur_ms).
	Fields map[string]any `json:"fields,omitempty"`
}
