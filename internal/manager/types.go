package manager

import "time"

// State represents the lifecycle state of the captioning resource.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateError    State = "error"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	Loaded       bool
	Device       Device
	LastActivity time.Time
	Err          string
}
