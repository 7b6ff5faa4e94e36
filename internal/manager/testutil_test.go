package manager

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
)

// waitFor polls cond until it holds; idle firings run on their own goroutine.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeLoader is an in-memory Loader that counts loads and can fail on demand.
type fakeLoader struct {
	mu       sync.Mutex
	attempts int
	failNext int
	failErr  error
	delay    time.Duration
	caption  string
	genErr   error
	block    chan struct{}
	started  chan struct{}
	handles  []*fakeHandle
}

func (f *fakeLoader) Load(ctx context.Context, dev Device) (Handle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failNext > 0 {
		f.failNext--
		err := f.failErr
		if err == nil {
			err = errors.New("out of device memory")
		}
		return nil, err
	}
	h := &fakeHandle{loader: f, caption: f.caption}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeLoader) loadAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeLoader) loaded() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

type fakeHandle struct {
	loader  *fakeLoader
	caption string
	calls   atomic.Int64
	closed  atomic.Bool
	// usedAfterClose is set if Caption ran on a closed handle.
	usedAfterClose atomic.Bool

	mu      sync.Mutex
	lastReq CaptionRequest
}

func (h *fakeHandle) last() CaptionRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReq
}

func (h *fakeHandle) Caption(ctx context.Context, req CaptionRequest) (string, error) {
	h.calls.Inc()
	h.mu.Lock()
	h.lastReq = req
	h.mu.Unlock()
	if h.loader.started != nil {
		h.loader.started <- struct{}{}
	}
	if h.loader.block != nil {
		select {
		case <-h.loader.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if h.closed.Load() {
		h.usedAfterClose.Store(true)
	}
	if h.loader.genErr != nil {
		return "", h.loader.genErr
	}
	if h.caption == "" {
		return "  a caption  ", nil
	}
	return h.caption, nil
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// testImage returns a small image with one fully transparent pixel.
func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 200, B: 10, A: 128})
	img.SetNRGBA(0, 1, color.NRGBA{R: 10, G: 10, B: 200, A: 0})
	img.SetNRGBA(1, 1, color.NRGBA{R: 50, G: 60, B: 70, A: 255})
	return img
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
