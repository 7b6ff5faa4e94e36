package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for a captioning run.
// Zero values mean "unspecified" and will be replaced by flag defaults in main.
type Config struct {
	OutputDir    string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	Prompt       string `json:"prompt" yaml:"prompt" toml:"prompt"`
	TriggerWord  string `json:"trigger_word" yaml:"trigger_word" toml:"trigger_word"`
	SkipExisting *bool  `json:"skip_existing" yaml:"skip_existing" toml:"skip_existing"`
	// TimeoutMinutes is a pointer so an explicit 0 (evict right away) survives.
	TimeoutMinutes  *int `json:"timeout_minutes" yaml:"timeout_minutes" toml:"timeout_minutes"`
	MaxLoadFailures int  `json:"max_load_failures" yaml:"max_load_failures" toml:"max_load_failures"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	LogFile   string `json:"log_file" yaml:"log_file" toml:"log_file"`

	LlamaBin       string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaURL       string   `json:"llama_url" yaml:"llama_url" toml:"llama_url"`
	LlamaAPIKey    string   `json:"llama_api_key" yaml:"llama_api_key" toml:"llama_api_key"`
	ModelPath      string   `json:"model" yaml:"model" toml:"model"`
	MMProjPath     string   `json:"mmproj" yaml:"mmproj" toml:"mmproj"`
	Device         string   `json:"device" yaml:"device" toml:"device"`
	CtxSize        int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads        int      `json:"threads" yaml:"threads" toml:"threads"`
	LlamaHost      string   `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	LlamaPortStart int      `json:"llama_port_start" yaml:"llama_port_start" toml:"llama_port_start"`
	LlamaPortEnd   int      `json:"llama_port_end" yaml:"llama_port_end" toml:"llama_port_end"`
	LlamaExtraArgs []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args"`

	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`

	StatusAddr  string   `json:"status_addr" yaml:"status_addr" toml:"status_addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	SummaryFile string   `json:"summary_file" yaml:"summary_file" toml:"summary_file"`
	MetricsFile string   `json:"metrics_file" yaml:"metrics_file" toml:"metrics_file"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
