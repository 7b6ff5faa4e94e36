package pipeline

import (
	"imgcap/internal/manager"
	"imgcap/pkg/types"
)

func (r *Runner) setManager(m *manager.Manager) {
	r.mu.Lock()
	r.mgr = m
	r.mu.Unlock()
}

func (r *Runner) setProgress(p *types.RunProgress) {
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
}

func (r *Runner) updateProgress(fn func(*types.RunProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		fn(r.progress)
	}
}

func (r *Runner) finishProgress(s types.RunSummary) {
	r.updateProgress(func(p *types.RunProgress) {
		p.Processed, p.Skipped, p.Errored = s.Processed, s.Skipped, s.Errored
		p.CurrentFile = ""
		p.Done = true
	})
}

// Status reports the manager state together with the progress of the
// current (or last) run.
func (r *Runner) Status() types.StatusResponse {
	r.mu.Lock()
	m := r.mgr
	var prog *types.RunProgress
	if r.progress != nil {
		p := *r.progress
		prog = &p
	}
	r.mu.Unlock()

	var st types.StatusResponse
	if m != nil {
		st = m.Status()
	} else {
		st = types.StatusResponse{
			State:          string(manager.StateUnloaded),
			Device:         string(r.cfg.Device),
			ServerTimeUnix: r.clock.Now().Unix(),
		}
	}
	st.Run = prog
	return st
}

// eventRecorder is implemented by publishers that keep history, such as
// manager.MemoryPublisher.
type eventRecorder interface {
	Events() []manager.Event
}

// Events returns the lifecycle history kept by the configured publisher,
// oldest first. It is empty when the publisher keeps none.
func (r *Runner) Events() []types.EventRecord {
	out := []types.EventRecord{}
	rec, ok := r.cfg.Publisher.(eventRecorder)
	if !ok {
		return out
	}
	for _, e := range rec.Events() {
		out = append(out, types.EventRecord{Name: e.Name, Time: e.Time, Fields: e.Fields})
	}
	return out
}

// Ready reports whether the caption model is loaded and serving.
func (r *Runner) Ready() bool {
	r.mu.Lock()
	m := r.mgr
	r.mu.Unlock()
	return m != nil && m.Ready()
}
