package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// llamaServerLoader uses a llama.cpp server that is already running. Loading
// only verifies the server is reachable; eviction leaves it running.
type llamaServerLoader struct {
	chat *chatClient
	log  zerolog.Logger
}

// NewLlamaServerLoader returns a Loader backed by the server at baseURL.
func NewLlamaServerLoader(baseURL, apiKey string, log zerolog.Logger) Loader {
	return &llamaServerLoader{
		chat: newChatClient(baseURL, apiKey),
		log:  log.With().Str("adapter", "llama_server").Logger(),
	}
}

func (l *llamaServerLoader) Load(ctx context.Context, dev Device) (Handle, error) {
	if err := l.chat.healthy(ctx, 5*time.Second); err != nil {
		l.log.Warn().Err(err).Str("url", l.chat.baseURL).Msg("llama server unreachable")
		return nil, ErrDependencyUnavailable(fmt.Sprintf("llama server at %s unreachable: %v", l.chat.baseURL, err))
	}
	l.log.Info().Str("url", l.chat.baseURL).Msg("using running llama server")
	return &remoteHandle{chat: l.chat}, nil
}

type remoteHandle struct {
	chat *chatClient
}

func (h *remoteHandle) Caption(ctx context.Context, req CaptionRequest) (string, error) {
	return h.chat.caption(ctx, req)
}

// Close is a no-op: the server is not owned by this process.
func (h *remoteHandle) Close() error { return nil }
