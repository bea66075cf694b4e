// Package config loads the orchestd process configuration from a YAML, JSON
// or TOML file and overlays ORCHESTD_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"orchestd/internal/settings"
)

// Duration is a time.Duration that decodes from strings like "30s" in every
// supported format and in environment variables.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Device overrides accelerator auto-detection.
type Device struct {
	NPU *bool `json:"npu,omitempty" yaml:"npu" toml:"npu" env:"NPU"`
	GPU *bool `json:"gpu,omitempty" yaml:"gpu" toml:"gpu" env:"GPU"`
}

// Llama configures both llama runners.
type Llama struct {
	// BaseURL attaches llama-server to an already running server.
	BaseURL   string   `json:"base_url" yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	APIKey    string   `json:"api_key" yaml:"api_key" toml:"api_key" env:"API_KEY"`
	Bin       string   `json:"bin" yaml:"bin" toml:"bin" env:"BIN"`
	Host      string   `json:"host" yaml:"host" toml:"host" env:"HOST"`
	PortStart int      `json:"port_start" yaml:"port_start" toml:"port_start" env:"PORT_START"`
	PortEnd   int      `json:"port_end" yaml:"port_end" toml:"port_end" env:"PORT_END"`
	CtxSize   int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size" env:"CTX_SIZE"`
	Threads   int      `json:"threads" yaml:"threads" toml:"threads" env:"THREADS"`
	NGL       int      `json:"ngl" yaml:"ngl" toml:"ngl" env:"NGL"`
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args" toml:"extra_args" env:"EXTRA_ARGS" envSeparator:" "`
	// DefaultModel is the model loaded when a request names none.
	DefaultModel string   `json:"default_model" yaml:"default_model" toml:"default_model" env:"DEFAULT_MODEL"`
	ReadyTimeout Duration `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout" env:"READY_TIMEOUT"`
}

// Guard configures the guardian runners.
type Guard struct {
	RulesFile     string `json:"rules_file" yaml:"rules_file" toml:"rules_file" env:"RULES_FILE"`
	OnnxBundleDir string `json:"onnx_bundle_dir" yaml:"onnx_bundle_dir" toml:"onnx_bundle_dir" env:"ONNX_BUNDLE_DIR"`
	OnnxLibrary   string `json:"onnx_library" yaml:"onnx_library" toml:"onnx_library" env:"ONNX_LIBRARY"`
	OnnxModel     string `json:"onnx_model" yaml:"onnx_model" toml:"onnx_model" env:"ONNX_MODEL"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	ModelsDir   string `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"MODELS_DIR"`
	CatalogFile string `json:"catalog_file" yaml:"catalog_file" toml:"catalog_file" env:"CATALOG_FILE"`
	// CatalogDB is the sqlite file caching sha256 verifications ("" = off).
	CatalogDB string `json:"catalog_db" yaml:"catalog_db" toml:"catalog_db" env:"CATALOG_DB"`

	BudgetMB      int      `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb" env:"BUDGET_MB"`
	MarginMB      int      `json:"margin_mb" yaml:"margin_mb" toml:"margin_mb" env:"MARGIN_MB"`
	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" env:"MAX_QUEUE_DEPTH"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait" env:"MAX_WAIT"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	StreamBuffer  int      `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer" env:"STREAM_BUFFER"`
	InferTimeout  Duration `json:"infer_timeout" yaml:"infer_timeout" toml:"infer_timeout" env:"INFER_TIMEOUT"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`

	// OTLPEndpoint enables trace export over OTLP/HTTP when set.
	OTLPEndpoint string   `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	CORSOrigins  []string `json:"cors_origins,omitempty" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	Device Device `json:"device" yaml:"device" toml:"device" envPrefix:"DEVICE_"`
	Llama  Llama  `json:"llama" yaml:"llama" toml:"llama" envPrefix:"LLAMA_"`
	Guard  Guard  `json:"guard" yaml:"guard" toml:"guard" envPrefix:"GUARD_"`

	// Settings is the initial administrative settings document.
	Settings settings.EngineSettings `json:"settings" yaml:"settings" toml:"settings"`
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
