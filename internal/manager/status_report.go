package manager

import (
	"imgcap/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return Snapshot{
		State:        m.state,
		Loaded:       m.loaded,
		Device:       m.device,
		LastActivity: m.LastActivity(),
		Err:          m.err,
	}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	snap := m.Snapshot()
	now := m.clock.Now()
	resp := types.StatusResponse{
		State:              string(snap.State),
		Loaded:             snap.Loaded,
		Device:             string(snap.Device),
		IdleTimeoutSeconds: int64(m.idleTimeout.Seconds()),
		EvictionPending:    m.idle.Pending(),
		LoadsTotal:         m.loadsTotal.Load(),
		LoadFailuresTotal:  m.loadFailuresTotal.Load(),
		EvictionsTotal:     m.evictionsTotal.Load(),
		GenerationsTotal:   m.generationsTotal.Load(),
		LastError:          snap.Err,
		UptimeSeconds:      int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:     now.Unix(),
	}
	if !snap.LastActivity.IsZero() {
		resp.LastActivityUnix = snap.LastActivity.Unix()
	}
	return resp
}
