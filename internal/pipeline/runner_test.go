package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"imgcap/internal/manager"
	"imgcap/pkg/types"
)

func requireCleanEnd(t *testing.T, r *Runner, l *stubLoader) {
	t.Helper()
	st := r.Status()
	require.False(t, st.Loaded, "resource must be released after Run")
	require.False(t, st.EvictionPending, "no idle eviction may be pending after Run")
	require.NotNil(t, st.Run)
	require.True(t, st.Run.Done)
	_, _, live := l.stats()
	require.Zero(t, live, "every handle must be closed")
}

func TestRunProcessesAllImages(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "b.png", "a.png", "c.png")
	l := &stubLoader{}
	r := newTestRunner(l, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: true, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 3, sum.Discovered)
	require.Equal(t, 3, sum.Processed)
	require.Zero(t, sum.Skipped)
	require.Zero(t, sum.Errored)
	require.True(t, sum.Consistent())
	require.NotEmpty(t, sum.RunID)

	var order []string
	for _, it := range sum.Items {
		order = append(order, filepath.Base(it.Input))
		require.Equal(t, "a cat.", readCaption(t, it.Output))
	}
	require.Equal(t, []string{"a.png", "b.png", "c.png"}, order)
	loads, calls, _ := l.stats()
	require.Equal(t, 1, loads)
	require.Equal(t, 3, calls)
	requireCleanEnd(t, r, l)
}

func TestRunSkipsExistingOutputs(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("keep me"), 0o644))
	l := &stubLoader{}
	r := newTestRunner(l, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: true, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, sum.Errored)
	require.Equal(t, "keep me", readCaption(t, filepath.Join(dir, "b.txt")))
	_, calls, _ := l.stats()
	require.Equal(t, 2, calls, "a skipped item never reaches inference")
}

func TestRunOverwritesWhenSkipDisabled(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png")
	out := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(out, []byte("old caption that is longer"), 0o644))
	r := newTestRunner(&stubLoader{}, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: false, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Processed)
	require.Equal(t, "a cat.", readCaption(t, out))
}

func TestRunSkipOnlyNeverLoads(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	l := &stubLoader{}
	r := newTestRunner(l, nil)
	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: true})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	loads, _, _ := l.stats()
	require.Zero(t, loads)
}

func TestRunPrependsTriggerWord(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "captions")
	writeImages(t, in, "cat.jpg")
	r := newTestRunner(&stubLoader{}, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: in, OutputDir: out, TriggerWord: "sks", IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Processed)
	require.Equal(t, "sks, a cat.", readCaption(t, filepath.Join(out, "cat.txt")))
	require.Equal(t, out, sum.OutputDir)
}

func TestRunIsolatesGenerationFailure(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png", "d.png")
	l := &stubLoader{captionFn: func(ctx context.Context, call int) (string, error) {
		if call == 2 {
			return "", errors.New("inference crashed")
		}
		return "fine", nil
	}}
	r := newTestRunner(l, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: true, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Processed)
	require.Equal(t, 1, sum.Errored)
	require.True(t, sum.Consistent())

	failed := sum.Items[1]
	require.Equal(t, types.ItemError, failed.Status)
	require.Equal(t, KindGeneration, failed.Kind)
	require.Contains(t, failed.Error, "inference crashed")
	require.NoFileExists(t, failed.Output)
	for _, name := range []string{"a.txt", "c.txt", "d.txt"} {
		require.FileExists(t, filepath.Join(dir, name))
	}
}

func TestRunZeroTimeoutReloadsPerItem(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png")
	pub := manager.NewMemoryPublisher()
	l := &stubLoader{}
	r := newTestRunner(l, pub)

	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: true, IdleTimeout: 0})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	loads, _, _ := l.stats()
	require.Equal(t, 2, loads, "item 2 must reload after the zero-timeout eviction")

	names := strings.Join(pub.Names(), ",")
	require.Equal(t, "load_start,load_ready,generate_start,generate_done,evict,"+
		"load_start,load_ready,generate_start,generate_done,evict", names)
	requireCleanEnd(t, r, l)
}

func TestRunRetriesLoadOnNextItem(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png")
	l := &stubLoader{failLoads: 1}
	r := newTestRunner(l, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: dir, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Errored)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, KindLoad, sum.Items[0].Kind)
	loads, _, _ := l.stats()
	require.Equal(t, 2, loads)
	requireCleanEnd(t, r, l)
}

func TestRunPersistentLoadFailure(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png", "d.png")

	t.Run("unlimited retries", func(t *testing.T) {
		l := &stubLoader{failAll: true}
		sum, err := newTestRunner(l, nil).Run(context.Background(), Options{InputDir: dir})
		require.NoError(t, err)
		require.Equal(t, 4, sum.Errored)
		loads, _, _ := l.stats()
		require.Equal(t, 4, loads)
	})

	t.Run("capped", func(t *testing.T) {
		l := &stubLoader{failAll: true}
		sum, err := newTestRunner(l, nil).Run(context.Background(), Options{InputDir: dir, MaxLoadFailures: 2})
		require.NoError(t, err)
		require.Equal(t, 4, sum.Errored)
		require.True(t, sum.Consistent())
		loads, _, _ := l.stats()
		require.Equal(t, 2, loads)
		for _, it := range sum.Items {
			require.Equal(t, KindLoad, it.Kind)
		}
	})
}

func TestRunRecordsDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "c.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("definitely not a jpeg"), 0o644))
	l := &stubLoader{}
	sum, err := newTestRunner(l, nil).Run(context.Background(), Options{InputDir: dir, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, 1, sum.Errored)
	require.Equal(t, KindIO, sum.Items[1].Kind)
	_, calls, _ := l.stats()
	require.Equal(t, 2, calls)
}

func TestRunIgnoresSubdirectoriesAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png")
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeImages(t, sub, "deep.png")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))

	sum, err := newTestRunner(&stubLoader{}, nil).Run(context.Background(), Options{InputDir: dir, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Total)
	require.NoFileExists(t, filepath.Join(sub, "deep.txt"))
}

func TestRunEmptyDirectory(t *testing.T) {
	l := &stubLoader{}
	r := newTestRunner(l, nil)
	sum, err := r.Run(context.Background(), Options{InputDir: t.TempDir()})
	require.NoError(t, err)
	require.Zero(t, sum.Total)
	require.Zero(t, sum.Discovered)
	loads, _, _ := l.stats()
	require.Zero(t, loads)
	require.True(t, r.Status().Run.Done)
}

func TestRunConfigErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestRunner(&stubLoader{}, nil).Run(context.Background(), Options{InputDir: filepath.Join(dir, "missing")})
	require.True(t, IsConfigError(err), "got %v", err)

	_, err = newTestRunner(&stubLoader{}, nil).Run(context.Background(), Options{})
	require.True(t, IsConfigError(err), "got %v", err)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = newTestRunner(&stubLoader{}, nil).Run(context.Background(), Options{InputDir: dir, OutputDir: filepath.Join(file, "out")})
	require.True(t, IsConfigError(err), "got %v", err)
}

func TestRunInterrupted(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &stubLoader{captionFn: func(_ context.Context, call int) (string, error) {
		if call == 1 {
			cancel()
		}
		return "first", nil
	}}
	r := newTestRunner(l, nil)

	sum, err := r.Run(ctx, Options{InputDir: dir, IdleTimeout: time.Minute})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, sum.Interrupted)
	require.Equal(t, 3, sum.Discovered)
	require.Equal(t, 1, sum.Total)
	require.Equal(t, 1, sum.Processed)
	require.True(t, sum.Consistent())
	requireCleanEnd(t, r, l)
}

func TestRunnerStatusBeforeRun(t *testing.T) {
	r := newTestRunner(&stubLoader{}, nil)
	st := r.Status()
	require.Equal(t, string(manager.StateUnloaded), st.State)
	require.Nil(t, st.Run)
	require.False(t, r.Ready())
}

func TestOutputPath(t *testing.T) {
	require.Equal(t, filepath.Join("out", "cat.txt"), OutputPath("out", "/in/cat.jpeg"))
	require.Equal(t, filepath.Join("out", "archive.tar.txt"), OutputPath("out", "/in/archive.tar.png"))
}

func TestRunIdleTimeoutFiresBetweenItems(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png")
	mock := clock.NewMock()
	pub := manager.NewMemoryPublisher()
	l := &stubLoader{}
	r := NewRunner(RunnerConfig{Loader: l, Device: manager.DeviceCPU, Clock: mock, Publisher: pub})

	items := 0
	afterItem = func(types.ItemResult) {
		items++
		if items != 1 {
			return
		}
		// Let the idle window elapse between the first and second item.
		mock.Add(time.Minute)
		deadline := time.Now().Add(5 * time.Second)
		for r.Status().Loaded {
			if time.Now().After(deadline) {
				t.Errorf("idle eviction did not happen between items")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
	t.Cleanup(func() { afterItem = func(types.ItemResult) {} })

	sum, err := r.Run(context.Background(), Options{InputDir: dir, SkipExisting: true, IdleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Processed)
	loads, calls, _ := l.stats()
	require.Equal(t, 2, loads, "item 2 must reload after the idle eviction")
	require.Equal(t, 3, calls)

	var reasons []any
	for _, e := range pub.Events() {
		if e.Name == "evict" {
			reasons = append(reasons, e.Fields["reason"])
		}
	}
	require.Equal(t, []any{manager.EvictIdle, manager.EvictShutdown}, reasons)

	recs := r.Events()
	require.Len(t, recs, len(pub.Events()))
	require.Equal(t, "load_start", recs[0].Name)
	requireCleanEnd(t, r, l)
}

func TestRunRecordsWriteFailure(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImages(t, in, "a.png", "b.png")
	// A directory where the caption file should go makes the rename fail.
	require.NoError(t, os.Mkdir(filepath.Join(out, "a.txt"), 0o755))
	l := &stubLoader{}
	r := newTestRunner(l, nil)

	sum, err := r.Run(context.Background(), Options{InputDir: in, OutputDir: out, SkipExisting: false})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Total)
	require.Equal(t, 1, sum.Errored)
	require.Equal(t, 1, sum.Processed)

	first := sum.Items[0]
	require.Equal(t, types.ItemError, first.Status)
	require.Equal(t, KindIO, first.Kind)
	require.True(t, strings.HasPrefix(first.Error, "write "), first.Error)
	require.Equal(t, types.ItemSuccess, sum.Items[1].Status)
	require.Equal(t, "a cat.", readCaption(t, filepath.Join(out, "b.txt")))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
	requireCleanEnd(t, r, l)
}

func TestRunnerEventsWithoutHistory(t *testing.T) {
	r := newTestRunner(&stubLoader{}, nil)
	require.Empty(t, r.Events())
	require.NotNil(t, r.Events())
}
