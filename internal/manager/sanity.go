package manager

import (
	"context"
	"os"
	"time"
)

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	Device      string   `json:"device"`
	Remote      bool     `json:"remote"`
	LlamaFound  bool     `json:"llama_found"`
	LlamaPath   string   `json:"llama_path,omitempty"`
	LlamaURL    string   `json:"llama_url,omitempty"`
	ModelFound  bool     `json:"model_found"`
	MMProjFound bool     `json:"mmproj_found"`
	Errors      []string `json:"errors,omitempty"`
}

// OK reports whether every check passed.
func (r SanityReport) OK() bool { return len(r.Errors) == 0 }

// SanityCheck validates that the external dependencies named by cfg are
// present. It does not start anything; in remote mode it performs a single
// health request against the server.
func SanityCheck(ctx context.Context, cfg LoaderConfig, dev Device) SanityReport {
	r := SanityReport{Device: string(dev)}
	if cfg.LlamaURL != "" {
		r.Remote = true
		r.LlamaURL = cfg.LlamaURL
		if err := newChatClient(cfg.LlamaURL, cfg.APIKey).healthy(ctx, 5*time.Second); err != nil {
			r.Errors = append(r.Errors, "llama server unreachable: "+err.Error())
		} else {
			r.LlamaFound = true
		}
		return r
	}

	bin := cfg.LlamaBin
	if bin == "" {
		bin = discoverLlamaBin()
	}
	r.LlamaPath = bin
	if bin == "" {
		r.Errors = append(r.Errors, "llama-server not found")
	} else if fi, err := os.Stat(bin); err != nil {
		r.Errors = append(r.Errors, err.Error())
	} else if fi.IsDir() {
		r.Errors = append(r.Errors, "llama path is a directory")
	} else {
		r.LlamaFound = true
	}

	if err := requireFile("model", cfg.ModelPath); err != nil {
		r.Errors = append(r.Errors, err.Error())
	} else {
		r.ModelFound = true
	}
	if err := requireFile("mmproj", cfg.MMProjPath); err != nil {
		r.Errors = append(r.Errors, err.Error())
	} else {
		r.MMProjFound = true
	}
	return r
}
