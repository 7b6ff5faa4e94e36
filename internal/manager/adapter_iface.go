package manager

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Loader constructs the captioning resource. Load may take a long time (model
// weights are read and placed on the device) and must honour ctx.
type Loader interface {
	Load(ctx context.Context, dev Device) (Handle, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(ctx context.Context, dev Device) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, dev Device) (Handle, error) { return f(ctx, dev) }

// Handle is a loaded captioning resource. It is owned by exactly one Manager.
type Handle interface {
	// Caption returns the model's text response for the image and prompt.
	Caption(ctx context.Context, req CaptionRequest) (string, error)
	// Close releases everything the resource holds (process, device memory).
	Close() error
}

// CaptionRequest is a single inference call against a Handle.
type CaptionRequest struct {
	// Image is the encoded, opaque RGB image.
	Image []byte
	// MIMEType of Image, e.g. image/png.
	MIMEType     string
	SystemPrompt string
	Prompt       string
	Params       GenParams
}

// GenParams captures generation parameters passed to the runtime.
type GenParams struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	// Seed of 0 lets the runtime choose.
	Seed int
}

// LoaderConfig configures NewLoader. Either LlamaURL (remote server) or
// LlamaBin/ModelPath/MMProjPath (spawned server) must be provided.
type LoaderConfig struct {
	LlamaBin   string
	ModelPath  string
	MMProjPath string

	// LlamaURL selects remote mode: an already running llama-server is used
	// and never stopped by eviction.
	LlamaURL string
	APIKey   string

	LlamaHost      string
	LlamaPortStart int
	LlamaPortEnd   int
	CtxSize        int
	Threads        int
	ExtraArgs      []string

	// ReadyTimeout bounds how long a spawned server may take to become healthy.
	ReadyTimeout time.Duration

	Logger    zerolog.Logger
	Publisher EventPublisher
}

// NewLoader returns the remote loader when a server URL is configured, else the
// subprocess loader.
func NewLoader(cfg LoaderConfig) Loader {
	if strings.TrimSpace(cfg.LlamaURL) != "" {
		return NewLlamaServerLoader(cfg.LlamaURL, cfg.APIKey, cfg.Logger)
	}
	return NewLlamaSubprocessLoader(cfg)
}
