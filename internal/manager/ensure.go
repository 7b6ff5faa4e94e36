package manager

import (
	"context"
	"time"
)

// EnsureLoaded constructs the resource if it is absent. The exclusive lock is
// held for the whole construction, so concurrent callers observe exactly one
// load: later callers block and then find the handle present. On failure no
// partial handle is kept and a *LoadFailure is returned.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return nil
	}
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) error {
	start := m.clock.Now()
	m.setState(StateLoading, false, "", false)
	m.log.Info().Str("event", "load_start").Str("device", string(m.device)).Msg("loading caption model")
	m.publish(Event{Name: "load_start", Fields: map[string]any{"device": string(m.device)}})

	h, err := m.loader.Load(ctx, m.device)
	dur := m.clock.Since(start)
	if err == nil && h == nil {
		err = ErrDependencyUnavailable("loader returned no handle")
	}
	if err != nil {
		if h != nil {
			_ = h.Close()
		}
		m.handle = nil
		m.setState(StateError, false, err.Error(), false)
		m.loadFailuresTotal.Inc()
		loadFailuresTotal.Inc()
		m.log.Error().Str("event", "load_error").Dur("dur", dur).Err(err).Msg("failed to load caption model")
		m.publish(Event{Name: "load_error", Fields: map[string]any{"error": err.Error()}})
		return &LoadFailure{Device: m.device, Err: err}
	}

	m.handle = h
	m.setState(StateReady, true, "", false)
	m.loadsTotal.Inc()
	loadsTotal.Inc()
	loadDuration.Observe(dur.Seconds())
	resourceLoaded.Set(1)
	m.log.Info().Str("event", "load_ready").Str("device", string(m.device)).Int64("dur_ms", int64(dur/time.Millisecond)).Msg("caption model loaded")
	m.publish(Event{Name: "load_ready", Fields: map[string]any{"dur_ms": int(dur / time.Millisecond)}})
	return nil
}
