package config

import (
	"strings"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
)

// Config holds snappify configuration.
// Stored at: ~/.snappify/config.yaml
type Config struct {
	Server   ServerCfg            `mapstructure:"server" yaml:"server" json:"server"`
	Engines  map[string]EngineCfg `mapstructure:"engines" yaml:"engines" json:"engines"`
	Dispatch DispatchCfg          `mapstructure:"dispatch" yaml:"dispatch" json:"dispatch"`
	Device   DeviceCfg            `mapstructure:"device" yaml:"device" json:"device"`
	Results  ResultsCfg           `mapstructure:"results" yaml:"results" json:"results"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port string `mapstructure:"port" yaml:"port" json:"port"`
	// UploadDir holds uploaded images while they are processed (default: system temp)
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
	// MaxUploadMB bounds a single request body
	MaxUploadMB int `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	// MaxImagePixels bounds width × height of images decoded for engines
	// that need RGB input
	MaxImagePixels int64 `mapstructure:"max_image_pixels" yaml:"max_image_pixels" json:"max_image_pixels"`
}

// EngineCfg configures one OCR engine and the model server hosting it.
type EngineCfg struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"` // Model server base URL
	// TimeoutSeconds bounds one model server call
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	// ReadyTimeoutSeconds bounds waiting for the model server at startup
	ReadyTimeoutSeconds int            `mapstructure:"ready_timeout_seconds" yaml:"ready_timeout_seconds" json:"ready_timeout_seconds"`
	Params              map[string]any `mapstructure:"params" yaml:"params" json:"params"`
	MinimalParams       map[string]any `mapstructure:"minimal_params" yaml:"minimal_params" json:"minimal_params"`
	Container           ContainerCfg   `mapstructure:"container" yaml:"container" json:"container"`
}

// ContainerCfg describes a Docker sidecar running the model server.
type ContainerCfg struct {
	// Managed starts the container on serve (default: false, endpoint is external)
	Managed bool              `mapstructure:"managed" yaml:"managed" json:"managed"`
	Image   string            `mapstructure:"image" yaml:"image" json:"image"`
	Port    string            `mapstructure:"port" yaml:"port" json:"port"` // Host port
	GPU     bool              `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
	Cache   string            `mapstructure:"cache" yaml:"cache" json:"cache"` // Host dir for model weights
	Env     map[string]string `mapstructure:"env" yaml:"env" json:"env"`
}

// DispatchCfg holds the runtime-adjustable scheduling knobs.
type DispatchCfg struct {
	Mode          string `mapstructure:"mode" yaml:"mode" json:"mode"` // "sequential" or "parallel"
	MaxParallel   int    `mapstructure:"max_parallel" yaml:"max_parallel" json:"max_parallel"`
	MaxBatch      int    `mapstructure:"max_batch" yaml:"max_batch" json:"max_batch"`
	BatchParallel int    `mapstructure:"batch_parallel" yaml:"batch_parallel" json:"batch_parallel"`
}

// DeviceCfg controls accelerator selection.
type DeviceCfg struct {
	ForceCPU bool `mapstructure:"force_cpu" yaml:"force_cpu" json:"force_cpu"`
	// Probe is "modelserver", "docker" or "none"
	Probe string `mapstructure:"probe" yaml:"probe" json:"probe"`
}

// ResultsCfg configures envelope persistence.
type ResultsCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // "none", "file" or "s3"
	Dir     string `mapstructure:"dir" yaml:"dir" json:"dir"`             // File backend directory (default: ~/.snappify/results)
	S3      S3Cfg  `mapstructure:"s3" yaml:"s3" json:"s3"`
}

// S3Cfg configures the S3 results backend.
type S3Cfg struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" json:"access_key"` // Supports ${ENV_VAR} syntax
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"secret_key"` // Supports ${ENV_VAR} syntax
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region    string `mapstructure:"region" yaml:"region" json:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl" json:"use_ssl"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host:           "0.0.0.0",
			Port:           "8000",
			MaxUploadMB:    50,
			MaxImagePixels: 89_478_485,
		},
		Engines: map[string]EngineCfg{
			"paddleocr": {
				Enabled:             true,
				Endpoint:            "http://127.0.0.1:8101",
				TimeoutSeconds:      120,
				ReadyTimeoutSeconds: 30,
				Params:              map[string]any{"use_angle_cls": true, "lang": "en"},
				MinimalParams:       map[string]any{"lang": "en"},
				Container:           ContainerCfg{Image: "snappify/paddleocr-server:latest", Port: "8101", GPU: true},
			},
			"trocr": {
				Enabled:             true,
				Endpoint:            "http://127.0.0.1:8102",
				TimeoutSeconds:      120,
				ReadyTimeoutSeconds: 30,
				Params:              map[string]any{"model": "microsoft/trocr-base-printed"},
				Container:           ContainerCfg{Image: "snappify/trocr-server:latest", Port: "8102", GPU: true},
			},
			"swintextspotter": {
				Enabled:             true,
				Endpoint:            "http://127.0.0.1:8103",
				TimeoutSeconds:      300,
				ReadyTimeoutSeconds: 60,
				Params:              map[string]any{"config_file": "configs/SWINTS/swints-ctw-finetune.yaml", "weights": "models/swintextspotter.pth"},
				Container:           ContainerCfg{Image: "snappify/swintextspotter-server:latest", Port: "8103", GPU: true},
			},
			"easyocr": {
				Enabled:             true,
				Endpoint:            "http://127.0.0.1:8104",
				TimeoutSeconds:      120,
				ReadyTimeoutSeconds: 30,
				Params:              map[string]any{"lang_list": []any{"en", "fa"}},
				Container:           ContainerCfg{Image: "snappify/easyocr-server:latest", Port: "8104", GPU: true},
			},
		},
		Dispatch: DispatchCfg{
			Mode:          string(engines.DispatchSequential),
			MaxBatch:      engines.DefaultMaxBatch,
			BatchParallel: 1,
		},
		Device: DeviceCfg{
			Probe: "modelserver",
		},
		Results: ResultsCfg{
			Backend: "none",
		},
	}
}

// Addr returns host:port for the HTTP listener.
func (s ServerCfg) Addr() string {
	return s.Host + ":" + s.Port
}

// Timeout returns the per-call model server timeout.
func (e EngineCfg) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ReadyTimeout returns how long to wait for the model server at startup.
func (e EngineCfg) ReadyTimeout() time.Duration {
	return time.Duration(e.ReadyTimeoutSeconds) * time.Second
}

// GetEngine returns an engine config by canonical name.
func (c *Config) GetEngine(name engines.Name) (EngineCfg, bool) {
	for key, cfg := range c.Engines {
		if strings.EqualFold(key, string(name)) {
			return cfg, true
		}
	}
	return EngineCfg{}, false
}

// EnabledEngines returns the configured engines that are enabled, in
// dispatch order.
func (c *Config) EnabledEngines() []engines.Name {
	var out []engines.Name
	for _, name := range engines.DispatchOrder() {
		if cfg, ok := c.GetEngine(name); ok && cfg.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// ToDispatch converts the dispatch section for the orchestrator.
func (c *Config) ToDispatch() engines.DispatchConfig {
	return engines.DispatchConfig{
		Mode:          engines.DispatchMode(strings.ToLower(c.Dispatch.Mode)),
		MaxParallel:   c.Dispatch.MaxParallel,
		MaxBatch:      c.Dispatch.MaxBatch,
		BatchParallel: c.Dispatch.BatchParallel,
	}
}
