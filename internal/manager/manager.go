package manager

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Manager owns at most one captioning Handle. Load and evict transitions happen
// only while mu is held exclusively.
type Manager struct {
	mu     sync.RWMutex
	handle Handle

	// stateMu guards the reported lifecycle; readers never wait on mu, so the
	// state stays observable while a load holds mu.
	stateMu sync.Mutex
	state   State
	loaded  bool
	err     string

	device       Device
	loader       Loader
	idleTimeout  time.Duration
	systemPrompt string
	params       GenParams

	// actMu guards lastActivity; it is taken without mu so Touch works under a read lock.
	actMu        sync.Mutex
	lastActivity time.Time

	idle      *IdleTimer
	clock     clock.Clock
	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	loadsTotal        atomic.Uint64
	loadFailuresTotal atomic.Uint64
	evictionsTotal    atomic.Uint64
	generationsTotal  atomic.Uint64
}

// New builds a Manager around loader with the given idle timeout and defaults
// for everything else.
func New(loader Loader, idleTimeout time.Duration) *Manager {
	// Delegate to NewWithConfig to centralize defaults
	return NewWithConfig(ManagerConfig{
		Loader:      loader,
		IdleTimeout: idleTimeout,
	})
}

// Ready reports whether the resource is loaded and usable.
func (m *Manager) Ready() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.loaded && m.state == StateReady
}

// Loaded reports whether a Handle is currently resident.
func (m *Manager) Loaded() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.loaded
}

// setState records a lifecycle transition. errMsg replaces the last error
// unless keepErr is set.
func (m *Manager) setState(s State, loaded bool, errMsg string, keepErr bool) {
	m.stateMu.Lock()
	m.state = s
	m.loaded = loaded
	if !keepErr {
		m.err = errMsg
	}
	m.stateMu.Unlock()
}

// Device returns the compute device the resource binds to.
func (m *Manager) Device() Device { return m.device }

// IdleTimeout returns the configured idle window.
func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

// EvictionPending reports whether an idle eviction is scheduled.
func (m *Manager) EvictionPending() bool { return m.idle.Pending() }

func (m *Manager) publish(e Event) {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	if e.Time.IsZero() {
		e.Time = m.clock.Now()
	}
	m.publisher.Publish(e)
}
