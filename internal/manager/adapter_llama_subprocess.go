package manager

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultReadyTimeout = 2 * time.Minute
	stopGrace           = 2 * time.Second
	stderrTailBytes     = 4096
)

// llamaSubprocessLoader spawns a dedicated llama-server per load and stops it
// when the handle is closed.
type llamaSubprocessLoader struct {
	cfg       LoaderConfig
	log       zerolog.Logger
	publisher EventPublisher
}

// NewLlamaSubprocessLoader returns a Loader that runs llama-server with the
// configured model and multimodal projector.
func NewLlamaSubprocessLoader(cfg LoaderConfig) Loader {
	if strings.TrimSpace(cfg.LlamaHost) == "" {
		cfg.LlamaHost = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &llamaSubprocessLoader{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("adapter", "llama_subprocess").Logger(),
		publisher: pub,
	}
}

// gpuLayers is the -ngl value for dev: everything offloaded on accelerators.
func gpuLayers(dev Device) int {
	if dev.Accelerated() {
		return 999
	}
	return 0
}

func (l *llamaSubprocessLoader) args(dev Device, host string, port int) []string {
	args := []string{
		"-m", l.cfg.ModelPath,
		"--mmproj", l.cfg.MMProjPath,
		"--host", host,
		"--port", strconv.Itoa(port),
		"-ngl", strconv.Itoa(gpuLayers(dev)),
	}
	if l.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(l.cfg.CtxSize))
	}
	if l.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(l.cfg.Threads))
	}
	return append(args, l.cfg.ExtraArgs...)
}

func (l *llamaSubprocessLoader) Load(ctx context.Context, dev Device) (Handle, error) {
	bin := l.cfg.LlamaBin
	if bin == "" {
		bin = discoverLlamaBin()
	}
	if bin == "" {
		return nil, ErrDependencyUnavailable("llama-server not found: set llama_bin or install llama.cpp")
	}
	if err := requireFile("llama-server", bin); err != nil {
		return nil, err
	}
	if err := requireFile("model", l.cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := requireFile("mmproj", l.cfg.MMProjPath); err != nil {
		return nil, err
	}

	host := l.cfg.LlamaHost
	var port int
	var err error
	if l.cfg.LlamaPortStart > 0 && l.cfg.LlamaPortEnd >= l.cfg.LlamaPortStart {
		port, err = pickPortInRange(host, l.cfg.LlamaPortStart, l.cfg.LlamaPortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, l.args(dev, host, port)...)
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &llamaProcess{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		chat:      newChatClient(fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port))), ""),
		done:      make(chan struct{}),
		log:       l.log,
		publisher: l.publisher,
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	l.log.Info().Str("event", "spawn_start").Int("pid", p.pid).Str("host", host).Int("port", port).Str("device", string(dev)).Msg("llama-server started")
	l.publisher.Publish(Event{Name: "spawn_start", Fields: map[string]any{"pid": p.pid, "host": host, "port": port}})

	if err := l.waitReady(ctx, p, stderr); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// waitReady polls the health endpoint until it answers, the process exits,
// ctx is done or the ready timeout passes.
func (l *llamaSubprocessLoader) waitReady(ctx context.Context, p *llamaProcess, stderr *tailBuffer) error {
	deadline := time.NewTimer(l.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := p.chat.healthy(ctx, time.Second); err == nil {
			l.log.Info().Str("event", "spawn_ready").Int("pid", p.pid).Str("url", p.chat.baseURL).Msg("llama-server ready")
			l.publisher.Publish(Event{Name: "spawn_ready", Fields: map[string]any{"pid": p.pid, "url": p.chat.baseURL}})
			return nil
		}
		select {
		case <-p.done:
			l.log.Error().Str("event", "spawn_exit").Int("pid", p.pid).AnErr("wait", p.waitErr).Msg("llama-server exited before ready")
			fields := map[string]any{"pid": p.pid, "before_ready": true}
			if p.waitErr != nil {
				fields["error"] = p.waitErr.Error()
			}
			l.publisher.Publish(Event{Name: "spawn_exit", Fields: fields})
			return fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", p.waitErr, stderr.String())
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			l.log.Error().Str("event", "spawn_timeout").Int("pid", p.pid).Msg("llama-server not ready in time")
			l.publisher.Publish(Event{Name: "spawn_timeout", Fields: map[string]any{"pid": p.pid}})
			return fmt.Errorf("llama-server not ready after %s: %s", l.cfg.ReadyTimeout, p.chat.baseURL)
		case <-tick.C:
		}
	}
}

// llamaProcess is the Handle for a spawned llama-server.
type llamaProcess struct {
	cmd     *exec.Cmd
	pid     int
	chat    *chatClient
	done    chan struct{}
	waitErr error

	log       zerolog.Logger
	publisher EventPublisher
	closeOnce sync.Once
	closeErr  error
}

func (p *llamaProcess) Caption(ctx context.Context, req CaptionRequest) (string, error) {
	select {
	case <-p.done:
		return "", fmt.Errorf("llama-server (pid %d) is not running: %v", p.pid, p.waitErr)
	default:
	}
	return p.chat.caption(ctx, req)
}

// Close sends SIGTERM, waits briefly, then kills. It is idempotent.
func (p *llamaProcess) Close() error {
	p.closeOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.log.Debug().Err(err).Int("pid", p.pid).Msg("sigterm failed")
		}
		select {
		case <-p.done:
		case <-time.After(stopGrace):
			p.log.Warn().Int("pid", p.pid).Msg("llama-server ignored SIGTERM; killing")
			if err := p.cmd.Process.Kill(); err != nil {
				p.closeErr = fmt.Errorf("kill llama-server: %w", err)
			}
			<-p.done
		}
		p.log.Info().Str("event", "spawn_stop").Int("pid", p.pid).Msg("llama-server stopped")
		p.publisher.Publish(Event{Name: "spawn_stop", Fields: map[string]any{"pid": p.pid}})
	})
	return p.closeErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func requireFile(what, path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrDependencyUnavailable(what + " path is empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return ErrDependencyUnavailable(fmt.Sprintf("%s not found: %s", what, path))
	}
	if fi.IsDir() {
		return ErrDependencyUnavailable(fmt.Sprintf("%s is a directory: %s", what, path))
	}
	return nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// discoverLlamaBin looks for a llama.cpp server binary in common locations.
func discoverLlamaBin() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
		"/app/llama.cpp/build/bin/llama-server",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	return ""
}
