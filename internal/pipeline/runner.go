// Package pipeline runs a captioning batch: it discovers the images of one
// directory, captions them in order through a lazily loaded manager and
// writes one caption file per image.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"imgcap/internal/common/fsutil"
	"imgcap/internal/imageset"
	"imgcap/internal/manager"
	"imgcap/pkg/types"
)

// DefaultPrompt is the user prompt sent with every image unless overridden.
const DefaultPrompt = "Write a detailed description for this image in 50 words or less. Do NOT mention any text that is in the image."

// afterItem runs on the pipeline goroutine once an item is recorded. Hook for tests.
var afterItem = func(types.ItemResult) {}

// Options describe one batch run.
type Options struct {
	InputDir string
	// OutputDir defaults to InputDir.
	OutputDir    string
	Prompt       string
	SkipExisting bool
	// IdleTimeout of the manager; zero evicts after every item, negative uses the default.
	IdleTimeout time.Duration
	TriggerWord string
	// MaxLoadFailures stops load attempts after that many consecutive load
	// failures; zero retries on every item.
	MaxLoadFailures int
}

// RunnerConfig configures the manager a Runner builds for each run.
type RunnerConfig struct {
	Loader       manager.Loader
	Device       manager.Device
	SystemPrompt string
	Params       manager.GenParams
	Clock        clock.Clock
	Logger       *zerolog.Logger
	Publisher    manager.EventPublisher
}

// Runner executes batch runs and exposes the progress of the current one.
type Runner struct {
	cfg   RunnerConfig
	clock clock.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	mgr      *manager.Manager
	progress *types.RunProgress
}

// NewRunner returns a Runner; nil fields of cfg get defaults.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{cfg: cfg, clock: cfg.Clock}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if cfg.Logger != nil {
		r.log = cfg.Logger.With().Str("component", "pipeline").Logger()
	} else {
		r.log = zerolog.Nop()
	}
	return r
}

// OutputPath is the caption file for input inside outputDir.
func OutputPath(outputDir, input string) string {
	return filepath.Join(outputDir, imageset.Stem(input)+".txt")
}

// Run captions every supported image directly inside opts.InputDir.
//
// Per-item failures are recorded in the summary and never abort the run. Run
// returns an error only for a *ConfigError, for context cancellation (with
// the partial summary marked Interrupted) or when releasing the resource at
// the end fails. The manager is shut down on every path once it exists.
func (r *Runner) Run(ctx context.Context, opts Options) (sum types.RunSummary, err error) {
	start := r.clock.Now()
	sum = types.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: start,
		Items:     []types.ItemResult{},
	}
	log := r.log.With().Str("run_id", sum.RunID).Logger()
	defer func() {
		sum.DurationMS = r.clock.Since(start).Milliseconds()
		r.recordRun(sum, err)
	}()

	in, out, err := prepareDirs(opts)
	sum.InputDir, sum.OutputDir = in, out
	if err != nil {
		log.Error().Err(err).Msg("invalid run configuration")
		return sum, err
	}
	paths, err := imageset.LoadDir(in)
	if err != nil {
		err = &ConfigError{Field: "input_dir", Path: in, Err: err}
		log.Error().Err(err).Msg("cannot list input directory")
		return sum, err
	}
	sum.Discovered = len(paths)
	r.setProgress(&types.RunProgress{RunID: sum.RunID, Total: len(paths)})
	if len(paths) == 0 {
		log.Warn().Str("input_dir", in).Msg("no supported images found")
		r.finishProgress(sum)
		return sum, nil
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	log.Info().Str("input_dir", in).Str("output_dir", out).Int("images", len(paths)).
		Bool("skip_existing", opts.SkipExisting).Dur("idle_timeout", opts.IdleTimeout).Msg("starting run")

	m := manager.NewWithConfig(manager.ManagerConfig{
		Loader:       r.cfg.Loader,
		Device:       r.cfg.Device,
		IdleTimeout:  opts.IdleTimeout,
		SystemPrompt: r.cfg.SystemPrompt,
		Params:       r.cfg.Params,
		Clock:        r.clock,
		Logger:       &log,
		Publisher:    r.cfg.Publisher,
	})
	r.setManager(m)
	defer func() {
		if serr := m.Shutdown(); serr != nil {
			log.Error().Err(serr).Msg("failed to release caption model")
			if err == nil {
				err = errors.Wrap(serr, "shutdown")
			}
		}
		r.finishProgress(sum)
	}()

	loadFailures := 0
	for i, p := range paths {
		if cerr := ctx.Err(); cerr != nil {
			sum.Interrupted = true
			err = cerr
			log.Warn().Int("remaining", len(paths)-i).Msg("run interrupted")
			break
		}
		r.updateProgress(func(pr *types.RunProgress) {
			pr.Current = i + 1
			pr.CurrentFile = filepath.Base(p)
		})
		itemStart := r.clock.Now()
		res := r.processItem(ctx, m, p, out, prompt, opts, &loadFailures)
		itemDuration.Observe(r.clock.Since(itemStart).Seconds())
		itemsTotal.WithLabelValues(string(res.Status), res.Kind).Inc()
		sum.Add(res)
		r.updateProgress(func(pr *types.RunProgress) {
			pr.Processed, pr.Skipped, pr.Errored = sum.Processed, sum.Skipped, sum.Errored
		})
		logItem(log, i+1, len(paths), res)
		afterItem(res)
	}
	if err == nil && ctx.Err() != nil {
		sum.Interrupted = true
		err = ctx.Err()
	}
	logSummary(log, sum)
	return sum, err
}

func (r *Runner) processItem(ctx context.Context, m *manager.Manager, path, outDir, prompt string, opts Options, loadFailures *int) types.ItemResult {
	res := types.ItemResult{Input: path, Output: OutputPath(outDir, path)}
	if opts.SkipExisting && fsutil.PathExists(res.Output) {
		res.Status = types.ItemSkipped
		return res
	}
	if opts.MaxLoadFailures > 0 && *loadFailures >= opts.MaxLoadFailures {
		res.Status = types.ItemError
		res.Kind = KindLoad
		res.Error = "not attempted: caption model failed to load too many times"
		return res
	}
	fail := func(err error) types.ItemResult {
		res.Status = types.ItemError
		res.Kind = errorKind(ctx, err)
		res.Error = err.Error()
		return res
	}

	img, _, err := manager.DecodeFile(path)
	if err != nil {
		return fail(&IOFailure{Op: "decode", Path: path, Err: errors.Cause(err)})
	}
	text, err := m.Generate(ctx, img, prompt)
	if err != nil {
		if manager.IsLoadFailure(err) {
			*loadFailures++
		}
		return fail(err)
	}
	*loadFailures = 0
	caption := text
	if opts.TriggerWord != "" {
		caption = opts.TriggerWord + ", " + text
	}
	if err := fsutil.WriteFileAtomic(res.Output, []byte(caption), 0o644); err != nil {
		return fail(&IOFailure{Op: "write", Path: res.Output, Err: err})
	}
	res.Status = types.ItemSuccess
	return res
}

// prepareDirs validates the input directory and creates the output directory.
func prepareDirs(opts Options) (string, string, error) {
	in, err := fsutil.ExpandHome(opts.InputDir)
	if err != nil {
		return opts.InputDir, opts.OutputDir, &ConfigError{Field: "input_dir", Path: opts.InputDir, Err: err}
	}
	if in == "" {
		return in, opts.OutputDir, &ConfigError{Field: "input_dir", Err: errors.New("is required")}
	}
	if !fsutil.IsDir(in) {
		return in, opts.OutputDir, &ConfigError{Field: "input_dir", Path: in, Err: errors.New("does not exist or is not a directory")}
	}
	out := opts.OutputDir
	if out == "" {
		out = in
	}
	if out, err = fsutil.ExpandHome(out); err != nil {
		return in, opts.OutputDir, &ConfigError{Field: "output_dir", Path: opts.OutputDir, Err: err}
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return in, out, &ConfigError{Field: "output_dir", Path: out, Err: err}
	}
	if !fsutil.IsDir(out) {
		return in, out, &ConfigError{Field: "output_dir", Path: out, Err: errors.New("is not a directory")}
	}
	return in, out, nil
}

func logItem(log zerolog.Logger, n, total int, res types.ItemResult) {
	name := filepath.Base(res.Input)
	switch res.Status {
	case types.ItemSuccess:
		log.Info().Int("item", n).Int("total", total).Str("file", name).Str("output", res.Output).Msg("captioned")
	case types.ItemSkipped:
		log.Info().Int("item", n).Int("total", total).Str("file", name).Msg("skipped: caption exists")
	default:
		log.Error().Int("item", n).Int("total", total).Str("file", name).Str("kind", res.Kind).Str("error", res.Error).Msg("item failed")
	}
}

func logSummary(log zerolog.Logger, s types.RunSummary) {
	log.Info().
		Int("total", s.Total).
		Int("discovered", s.Discovered).
		Int("processed", s.Processed).
		Int("skipped", s.Skipped).
		Int("errors", s.Errored).
		Bool("interrupted", s.Interrupted).
		Msg("processing complete")
}

func (r *Runner) recordRun(s types.RunSummary, err error) {
	result := "completed"
	switch {
	case IsConfigError(err):
		result = "config_error"
	case s.Interrupted:
		result = "interrupted"
	case err != nil:
		result = "failed"
	}
	runsTotal.WithLabelValues(result).Inc()
}
