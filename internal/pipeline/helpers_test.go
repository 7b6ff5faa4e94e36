package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"imgcap/internal/manager"
)

// stubLoader hands out stubHandles; loads fail while failLoads > 0 (or always when failAll).
type stubLoader struct {
	mu        sync.Mutex
	loads     int
	failLoads int
	failAll   bool
	captionFn func(ctx context.Context, call int) (string, error)
	calls     int
	live      int
}

func (l *stubLoader) Load(ctx context.Context, dev manager.Device) (manager.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.failAll || l.failLoads > 0 {
		if l.failLoads > 0 {
			l.failLoads--
		}
		return nil, errors.New("cuda: out of memory")
	}
	l.live++
	return &stubHandle{l: l}, nil
}

func (l *stubLoader) stats() (loads, calls, live int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads, l.calls, l.live
}

type stubHandle struct {
	l *stubLoader
}

func (h *stubHandle) Caption(ctx context.Context, req manager.CaptionRequest) (string, error) {
	h.l.mu.Lock()
	h.l.calls++
	n := h.l.calls
	fn := h.l.captionFn
	h.l.mu.Unlock()
	if fn != nil {
		return fn(ctx, n)
	}
	return "a cat.", nil
}

func (h *stubHandle) Close() error {
	h.l.mu.Lock()
	h.l.live--
	h.l.mu.Unlock()
	return nil
}

// writeImages creates small PNG files with the given names in dir.
func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	for _, n := range names {
		f, err := os.Create(filepath.Join(dir, n))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

func readCaption(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func newTestRunner(l manager.Loader, pub manager.EventPublisher) *Runner {
	return NewRunner(RunnerConfig{Loader: l, Device: manager.DeviceCPU, Clock: clock.NewMock(), Publisher: pub})
}
