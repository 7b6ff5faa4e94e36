package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imgcap/internal/common/fsutil"
	"imgcap/internal/config"
	"imgcap/internal/httpapi"
	"imgcap/internal/logging"
	"imgcap/internal/manager"
	"imgcap/internal/pipeline"
	"imgcap/pkg/types"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitInterrupted = 130
)

// eventHistory bounds the lifecycle events kept for /events.
const eventHistory = 256

// exitError carries the process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func execute(args []string) int {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

// run executes the CLI with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != exitOK && ee.code != exitInterrupted {
			fmt.Fprintln(stderr, "imgcap:", ee.err)
		}
		return ee.code
	}
	// flag and argument errors from cobra
	fmt.Fprintln(stderr, "imgcap:", err)
	return exitConfig
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	o := defaultOptions()
	cmd := &cobra.Command{
		Use:           "imgcap [flags] <input-dir>",
		Short:         "Caption every image in a directory with a local vision model",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd, &o); err != nil {
				return err
			}
			return captionDir(cmd.Context(), o, args[0], stdout)
		},
	}
	bindRunFlags(cmd, &o)
	cmd.AddCommand(newCheckCmd(&o, stdout))
	return cmd
}

func loadConfigFile(cmd *cobra.Command, o *options) error {
	if o.configPath == "" {
		return nil
	}
	c, err := config.Load(o.configPath)
	if err != nil {
		return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "config", Path: o.configPath, Err: err}}
	}
	applyConfig(cmd, o, c)
	return nil
}

func newLogger(o options, stdout io.Writer) (zerolog.Logger, func() error, error) {
	file := o.logFile
	if file == "" {
		file = logging.DefaultFile()
	}
	return logging.New(logging.Options{Level: o.logLevel, Format: o.logFormat, File: file, Stdout: stdout})
}

func loaderConfig(o options, log zerolog.Logger, pub manager.EventPublisher) manager.LoaderConfig {
	return manager.LoaderConfig{
		LlamaBin:       o.llamaBin,
		ModelPath:      o.model,
		MMProjPath:     o.mmproj,
		LlamaURL:       o.llamaURL,
		APIKey:         o.llamaAPIKey,
		LlamaHost:      o.llamaHost,
		LlamaPortStart: o.llamaPortStart,
		LlamaPortEnd:   o.llamaPortEnd,
		CtxSize:        o.ctxSize,
		Threads:        o.threads,
		ExtraArgs:      splitCSV(o.llamaExtraArgs),
		Logger:         log,
		Publisher:      pub,
	}
}

func captionDir(parent context.Context, o options, inputDir string, stdout io.Writer) error {
	log, closeLog, err := newLogger(o, stdout)
	if err != nil {
		return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "logging", Err: err}}
	}
	defer func() { _ = closeLog() }()

	dev, err := manager.ParseDevice(o.device)
	if err != nil {
		return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "device", Err: err}}
	}
	if o.timeoutMinutes < 0 {
		return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "timeout", Err: errors.New("must not be negative")}}
	}
	if o.maxLoadFailures < 0 {
		return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "max_load_failures", Err: errors.New("must not be negative")}}
	}

	events := manager.NewBoundedMemoryPublisher(eventHistory)
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Loader: manager.NewLoader(loaderConfig(o, log, events)),
		Device: dev,
		Params: manager.GenParams{
			Temperature: float32(o.temperature),
			TopP:        float32(o.topP),
			MaxTokens:   o.maxTokens,
		},
		Logger:    &log,
		Publisher: events,
	})
	opts := pipeline.Options{
		InputDir:        inputDir,
		OutputDir:       o.outputDir,
		Prompt:          o.prompt,
		SkipExisting:    !o.noSkipExisting,
		IdleTimeout:     time.Duration(o.timeoutMinutes) * time.Minute,
		TriggerWord:     o.triggerWord,
		MaxLoadFailures: o.maxLoadFailures,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ln net.Listener
	if o.statusAddr != "" {
		if ln, err = net.Listen("tcp", o.statusAddr); err != nil {
			return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "status_addr", Err: err}}
		}
		httpapi.SetLogger(log)
		origins := splitCSV(o.corsOrigins)
		httpapi.SetCORSOptions(len(origins) > 0, origins, nil, nil)
	}

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, gctx := errgroup.WithContext(srvCtx)
	var (
		sum    types.RunSummary
		runErr error
	)
	g.Go(func() error {
		defer stopServer()
		sum, runErr = runner.Run(ctx, opts)
		return nil
	})
	if ln != nil {
		srv := httpapi.NewServer(o.statusAddr, httpapi.NewMux(runner))
		g.Go(func() error { return httpapi.ServeListener(gctx, srv, ln) })
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("status server failed")
	}

	code := exitOK
	switch {
	case pipeline.IsConfigError(runErr):
		return &exitError{code: exitConfig, err: runErr}
	case sum.Interrupted:
		code = exitInterrupted
	case runErr != nil:
		code = exitFailure
	}
	if o.summaryFile != "" {
		if err := writeSummary(o.summaryFile, sum); err != nil {
			log.Error().Err(err).Str("path", o.summaryFile).Msg("failed to write run summary")
			if code == exitOK {
				code, runErr = exitFailure, err
			}
		}
	}
	if o.metricsFile != "" {
		if err := prometheus.WriteToTextfile(o.metricsFile, prometheus.DefaultGatherer); err != nil {
			log.Error().Err(err).Str("path", o.metricsFile).Msg("failed to write metrics file")
			if code == exitOK {
				code, runErr = exitFailure, err
			}
		}
	}
	if code == exitOK {
		return nil
	}
	if runErr == nil {
		runErr = errors.New("run interrupted")
	}
	return &exitError{code: code, err: runErr}
}

func writeSummary(path string, sum types.RunSummary) error {
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	return fsutil.WriteFileAtomic(path, append(b, '\n'), 0o644)
}

func newCheckCmd(o *options, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify llama-server, model and projector are available and print a JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd, o); err != nil {
				return err
			}
			dev, err := manager.ParseDevice(o.device)
			if err != nil {
				return &exitError{code: exitConfig, err: &pipeline.ConfigError{Field: "device", Err: err}}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			rep := manager.SanityCheck(ctx, loaderConfig(*o, zerolog.Nop(), nil), dev)
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return &exitError{code: exitFailure, err: err}
			}
			if !rep.OK() {
				return &exitError{code: exitFailure, err: errors.Errorf("%d check(s) failed", len(rep.Errors))}
			}
			return nil
		},
	}
}
