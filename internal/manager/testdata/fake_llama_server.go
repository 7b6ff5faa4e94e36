package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// A stand-in for llama-server: answers /v1/models and a non-streaming
// /v1/chat/completions that requires an inline image.
func main() {
	var model, mmproj, host, port string
	var ngl, ctxSize, threads int
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&mmproj, "mmproj", "", "projector path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&ngl, "ngl", 0, "gpu layers")
	flag.IntVar(&ctxSize, "c", 0, "context size")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.Parse()

	if os.Getenv("FAKE_LLAMA_EXIT") == "1" {
		fmt.Fprintln(os.Stderr, "error: failed to load model")
		os.Exit(1)
	}
	if p := os.Getenv("FAKE_LLAMA_ARGS_FILE"); p != "" {
		_ = os.WriteFile(p, []byte(strings.Join(os.Args[1:], " ")), 0o644)
	}
	caption := os.Getenv("FAKE_LLAMA_CAPTION")
	if caption == "" {
		caption = "  a fake caption  "
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"id":"test","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var hasImage bool
		for _, m := range req.Messages {
			if strings.Contains(string(m.Content), "data:image/png;base64,") {
				hasImage = true
			}
		}
		if !hasImage {
			http.Error(w, "image required", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": caption},
				"finish_reason": "stop",
			}},
		})
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
