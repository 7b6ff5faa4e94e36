// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects level, format and sinks for New.
type Options struct {
	// Level: debug|info|warn|error (default info).
	Level string
	// Format: console (default) or json.
	Format string
	// File, when set, additionally receives JSON log lines (appended).
	File string
	// Stdout overrides the console sink; defaults to os.Stdout.
	Stdout io.Writer
}

// DefaultFile returns the log file used when none is configured:
// $NETWORK_VOLUME/logs/imgcap.log if NETWORK_VOLUME is set, else "".
func DefaultFile() string {
	if v := strings.TrimSpace(os.Getenv("NETWORK_VOLUME")); v != "" {
		return filepath.Join(v, "logs", "imgcap.log")
	}
	return ""
}

// ParseLevel maps a level name to a zerolog level. Unknown names fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New builds a timestamped, leveled logger. The returned close func releases
// the log file, if one was opened.
func New(opts Options) (zerolog.Logger, func() error, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	var console io.Writer
	switch strings.ToLower(opts.Format) {
	case "json":
		console = out
	case "console", "":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTerminal(out)}
	default:
		return zerolog.Nop(), nil, fmt.Errorf("unknown log format: %s", opts.Format)
	}

	closeFn := func() error { return nil }
	w := console
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		w = zerolog.MultiLevelWriter(console, f)
		closeFn = f.Close
	}
	l := zerolog.New(w).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	return l, closeFn, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
