package manager

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Generate captions img with prompt. It loads the resource if needed, touches
// the idle timer, normalizes the image to opaque RGB and calls the resource.
// The resource is held shared for the duration of the call, so idle eviction
// cannot tear it down mid-inference.
func (m *Manager) Generate(ctx context.Context, img image.Image, prompt string) (string, error) {
	if img == nil {
		return "", &GenerationFailure{Err: errors.New("nil image")}
	}
	payload, mime, err := EncodeRGB(img)
	if err != nil {
		return "", &GenerationFailure{Err: errors.Wrap(err, "encode image")}
	}

	text, err := m.generateShared(ctx, payload, mime, prompt)
	if m.idleTimeout == 0 {
		// Zero idle window: release the resource before the caller moves on.
		m.evictIdle()
	}
	return text, err
}

func (m *Manager) generateShared(ctx context.Context, payload []byte, mime, prompt string) (string, error) {
	m.mu.RLock()
	for m.handle == nil {
		m.mu.RUnlock()
		if err := m.EnsureLoaded(ctx); err != nil {
			return "", err
		}
		// An idle firing armed by an earlier call may slip in before RLock; loop reloads.
		m.mu.RLock()
	}
	defer m.mu.RUnlock()
	h := m.handle
	m.Touch()

	m.generationsTotal.Inc()
	start := m.clock.Now()
	m.log.Debug().Str("event", "generate_start").Int("image_bytes", len(payload)).Msg("generating caption")
	m.publish(Event{Name: "generate_start", Fields: map[string]any{}})

	text, err := h.Caption(ctx, CaptionRequest{
		Image:        payload,
		MIMEType:     mime,
		SystemPrompt: m.systemPrompt,
		Prompt:       strings.TrimSpace(prompt),
		Params:       m.params,
	})
	dur := m.clock.Since(start)
	generateDuration.Observe(dur.Seconds())
	if err != nil {
		generationFailuresTotal.Inc()
		m.log.Error().Str("event", "generate_error").Dur("dur", dur).Err(err).Msg("caption generation failed")
		m.publish(Event{Name: "generate_error", Fields: map[string]any{"error": err.Error()}})
		return "", &GenerationFailure{Err: err}
	}
	text = strings.TrimSpace(text)
	m.log.Info().Str("event", "generate_done").Int64("dur_ms", int64(dur/time.Millisecond)).Str("caption", text).Msg("caption generated")
	m.publish(Event{Name: "generate_done", Fields: map[string]any{"dur_ms": int(dur / time.Millisecond)}})
	return text, nil
}
