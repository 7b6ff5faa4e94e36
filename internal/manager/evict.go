package manager

// Eviction reasons, used as the Prometheus label and in events.
const (
	EvictIdle     = "idle"
	EvictExplicit = "explicit"
	EvictShutdown = "shutdown"
)

// Evict releases the resource if one is loaded and reports whether it did.
// It is idempotent: evicting an unloaded manager is a no-op.
func (m *Manager) Evict() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, _ := m.evictLocked(EvictExplicit)
	return ok
}

// evictIdle is the IdleTimer callback. It waits for any in-flight Generate
// (which holds mu shared) and only evicts if the idle window has really
// elapsed since the last Touch.
func (m *Manager) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return
	}
	if idle := m.clock.Since(m.LastActivity()); idle < m.idleTimeout {
		m.log.Debug().Str("event", "idle_evict_skipped").Dur("idle", idle).Msg("activity since timer was armed")
		return
	}
	if _, err := m.evictLocked(EvictIdle); err != nil {
		m.log.Warn().Err(err).Msg("idle eviction: close failed")
	}
}

// Shutdown cancels any pending idle eviction and evicts unconditionally.
// It returns the error from closing the resource, if any.
func (m *Manager) Shutdown() error {
	m.idle.Cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.evictLocked(EvictShutdown)
	return err
}

func (m *Manager) evictLocked(reason string) (bool, error) {
	if m.handle == nil {
		return false, nil
	}
	m.log.Info().Str("event", "evict_start").Str("reason", reason).Msg("unloading caption model")
	h := m.handle
	m.handle = nil
	err := h.Close()
	m.evictionsTotal.Inc()
	evictionsTotal.WithLabelValues(reason).Inc()
	resourceLoaded.Set(0)
	fields := map[string]any{"reason": reason}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.publish(Event{Name: "evict", Fields: fields})
	if err != nil {
		m.setState(StateUnloaded, false, err.Error(), false)
	} else {
		m.setState(StateUnloaded, false, "", true)
	}
	m.log.Info().Str("event", "evict_done").Str("reason", reason).Msg("caption model unloaded")
	return true, err
}
