package main

import (
	"strings"

	"github.com/spf13/cobra"

	"imgcap/internal/config"
	"imgcap/internal/pipeline"
)

type options struct {
	configPath string

	outputDir       string
	prompt          string
	triggerWord     string
	noSkipExisting  bool
	timeoutMinutes  int
	maxLoadFailures int

	logLevel  string
	logFormat string
	logFile   string

	llamaBin       string
	llamaURL       string
	llamaAPIKey    string
	model          string
	mmproj         string
	device         string
	ctxSize        int
	threads        int
	llamaHost      string
	llamaPortStart int
	llamaPortEnd   int
	llamaExtraArgs string

	temperature float64
	topP        float64
	maxTokens   int

	statusAddr  string
	corsOrigins string
	summaryFile string
	metricsFile string
}

func defaultOptions() options {
	return options{
		prompt:         pipeline.DefaultPrompt,
		timeoutMinutes: 5,
		logLevel:       "info",
		logFormat:      "console",
		device:         "auto",
		ctxSize:        4096,
		llamaHost:      "127.0.0.1",
		llamaPortStart: 8081,
		llamaPortEnd:   8181,
		temperature:    0.6,
		topP:           0.9,
		maxTokens:      512,
	}
}

// bindRunFlags registers the run flags on the root command.
func bindRunFlags(cmd *cobra.Command, o *options) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml); explicit flags win")
	f.StringVar(&o.logLevel, "log-level", o.logLevel, "Log level: debug|info|warn|error")
	f.StringVar(&o.logFormat, "log-format", o.logFormat, "Log format: console|json")
	f.StringVar(&o.logFile, "log-file", o.logFile, "Also append JSON logs to this file (default $NETWORK_VOLUME/logs/imgcap.log)")
	f.StringVar(&o.llamaBin, "llama-bin", o.llamaBin, "Path to llama-server (default: $PATH lookup)")
	f.StringVar(&o.llamaURL, "llama-url", o.llamaURL, "Use an already running llama-server at this base URL")
	f.StringVar(&o.llamaAPIKey, "llama-api-key", o.llamaAPIKey, "Bearer token for --llama-url")
	f.StringVar(&o.model, "model", o.model, "Path to the vision-language model (.gguf)")
	f.StringVar(&o.mmproj, "mmproj", o.mmproj, "Path to the multimodal projector (.gguf)")
	f.StringVar(&o.device, "device", o.device, "Compute device: auto|cuda|metal|cpu")
	f.IntVar(&o.ctxSize, "ctx-size", o.ctxSize, "Context size passed to llama-server")
	f.IntVar(&o.threads, "threads", o.threads, "CPU threads passed to llama-server (0 = its default)")
	f.StringVar(&o.llamaHost, "llama-host", o.llamaHost, "Host a spawned llama-server binds to")
	f.IntVar(&o.llamaPortStart, "llama-port-start", o.llamaPortStart, "First port tried for a spawned llama-server")
	f.IntVar(&o.llamaPortEnd, "llama-port-end", o.llamaPortEnd, "Last port tried for a spawned llama-server")
	f.StringVar(&o.llamaExtraArgs, "llama-extra-args", o.llamaExtraArgs, "Comma-separated extra llama-server arguments")

	rf := cmd.Flags()
	rf.StringVar(&o.outputDir, "output-dir", o.outputDir, "Directory for caption files (default: input dir)")
	rf.StringVar(&o.prompt, "prompt", o.prompt, "Prompt sent with every image")
	rf.StringVar(&o.triggerWord, "trigger-word", o.triggerWord, "Prefix every caption with \"<word>, \"")
	rf.BoolVar(&o.noSkipExisting, "no-skip-existing", o.noSkipExisting, "Regenerate captions that already exist")
	rf.IntVar(&o.timeoutMinutes, "timeout", o.timeoutMinutes, "Idle minutes before the model is unloaded (0 = after every image)")
	rf.IntVar(&o.maxLoadFailures, "max-load-failures", o.maxLoadFailures, "Stop loading after N consecutive load failures (0 = retry on every image)")
	rf.Float64Var(&o.temperature, "temperature", o.temperature, "Sampling temperature")
	rf.Float64Var(&o.topP, "top-p", o.topP, "Nucleus sampling threshold")
	rf.IntVar(&o.maxTokens, "max-tokens", o.maxTokens, "Maximum tokens per caption")
	rf.StringVar(&o.statusAddr, "status-addr", o.statusAddr, "Serve /healthz, /readyz, /status and /metrics on this address during the run")
	rf.StringVar(&o.corsOrigins, "cors-origins", o.corsOrigins, "Comma-separated origins allowed to query the status server")
	rf.StringVar(&o.summaryFile, "summary-file", o.summaryFile, "Write the run summary as JSON to this file")
	rf.StringVar(&o.metricsFile, "metrics-file", o.metricsFile, "Write Prometheus metrics in textfile format to this file at exit")
}

// applyConfig copies values from the config file for every flag the user did
// not set explicitly.
func applyConfig(cmd *cobra.Command, o *options, c config.Config) {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	setStr := func(name string, dst *string, v string) {
		if v != "" && !changed(name) {
			*dst = v
		}
	}
	setInt := func(name string, dst *int, v int) {
		if v != 0 && !changed(name) {
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64, v float64) {
		if v != 0 && !changed(name) {
			*dst = v
		}
	}

	setStr("output-dir", &o.outputDir, c.OutputDir)
	setStr("prompt", &o.prompt, c.Prompt)
	setStr("trigger-word", &o.triggerWord, c.TriggerWord)
	if c.SkipExisting != nil && !changed("no-skip-existing") {
		o.noSkipExisting = !*c.SkipExisting
	}
	if c.TimeoutMinutes != nil && !changed("timeout") {
		o.timeoutMinutes = *c.TimeoutMinutes
	}
	setInt("max-load-failures", &o.maxLoadFailures, c.MaxLoadFailures)

	setStr("log-level", &o.logLevel, c.LogLevel)
	setStr("log-format", &o.logFormat, c.LogFormat)
	setStr("log-file", &o.logFile, c.LogFile)

	setStr("llama-bin", &o.llamaBin, c.LlamaBin)
	setStr("llama-url", &o.llamaURL, c.LlamaURL)
	setStr("llama-api-key", &o.llamaAPIKey, c.LlamaAPIKey)
	setStr("model", &o.model, c.ModelPath)
	setStr("mmproj", &o.mmproj, c.MMProjPath)
	setStr("device", &o.device, c.Device)
	setInt("ctx-size", &o.ctxSize, c.CtxSize)
	setInt("threads", &o.threads, c.Threads)
	setStr("llama-host", &o.llamaHost, c.LlamaHost)
	setInt("llama-port-start", &o.llamaPortStart, c.LlamaPortStart)
	setInt("llama-port-end", &o.llamaPortEnd, c.LlamaPortEnd)
	if len(c.LlamaExtraArgs) > 0 && !changed("llama-extra-args") {
		o.llamaExtraArgs = strings.Join(c.LlamaExtraArgs, ",")
	}

	setFloat("temperature", &o.temperature, c.Temperature)
	setFloat("top-p", &o.topP, c.TopP)
	setInt("max-tokens", &o.maxTokens, c.MaxTokens)

	setStr("status-addr", &o.statusAddr, c.StatusAddr)
	if len(c.CORSOrigins) > 0 && !changed("cors-origins") {
		o.corsOrigins = strings.Join(c.CORSOrigins, ",")
	}
	setStr("summary-file", &o.summaryFile, c.SummaryFile)
	setStr("metrics-file", &o.metricsFile, c.MetricsFile)
}

// splitCSV parses a comma-separated list into a slice, trimming spaces and
// dropping empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
