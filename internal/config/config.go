package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/Nadiam75/snappify/internal/engines"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	if err := cm.setDefaults(); err != nil {
		return err
	}

	// Environment variables with SNAPPIFY_ prefix, e.g. SNAPPIFY_SERVER_PORT
	cm.v.SetEnvPrefix("SNAPPIFY")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.snappify")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf of DefaultConfig as a viper default so a
// partial config file only overrides what it names.
func (cm *Manager) setDefaults() error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	dv := viper.New()
	dv.SetConfigType("yaml")
	if err := dv.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range dv.AllKeys() {
		cm.v.SetDefault(key, dv.Get(key))
	}
	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file the config was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An invalid edit is
// ignored and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// Validate rejects unknown engines and out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	for key := range c.Engines {
		if _, err := engines.ParseName(key); err != nil {
			errs = append(errs, fmt.Errorf("engines.%s: %w", key, err))
		}
	}
	switch engines.DispatchMode(strings.ToLower(c.Dispatch.Mode)) {
	case "", engines.DispatchSequential, engines.DispatchParallel:
	default:
		errs = append(errs, fmt.Errorf("dispatch.mode: must be sequential or parallel, got %q", c.Dispatch.Mode))
	}
	if c.Dispatch.MaxParallel < 0 || c.Dispatch.MaxBatch < 0 || c.Dispatch.BatchParallel < 0 {
		errs = append(errs, errors.New("dispatch: limits must not be negative"))
	}
	if c.Server.MaxImagePixels < 0 {
		errs = append(errs, errors.New("server.max_image_pixels: must not be negative"))
	}
	switch c.Device.Probe {
	case "", "modelserver", "docker", "none":
	default:
		errs = append(errs, fmt.Errorf("device.probe: must be modelserver, docker or none, got %q", c.Device.Probe))
	}
	switch c.Results.Backend {
	case "", "none", "file":
	case "s3":
		if c.Results.S3.Endpoint == "" || c.Results.S3.Bucket == "" {
			errs = append(errs, errors.New("results.s3: endpoint and bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("results.backend: must be none, file or s3, got %q", c.Results.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RestartRequired lists the sections that differ between old and next and
// only take effect after a restart. Dispatch changes apply live.
func RestartRequired(old, next *Config) []string {
	var changed []string
	if !reflect.DeepEqual(old.Server, next.Server) {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(old.Engines, next.Engines) {
		changed = append(changed, "engines")
	}
	if !reflect.DeepEqual(old.Device, next.Device) {
		changed = append(changed, "device")
	}
	if !reflect.DeepEqual(old.Results, next.Results) {
		changed = append(changed, "results")
	}
	return changed
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ResolvedS3 returns the S3 settings with ${ENV_VAR} references expanded.
func (c *Config) ResolvedS3() S3Cfg {
	s3 := c.Results.S3
	s3.Endpoint = ResolveEnvVars(s3.Endpoint)
	s3.AccessKey = ResolveEnvVars(s3.AccessKey)
	s3.SecretKey = ResolveEnvVars(s3.SecretKey)
	return s3
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Snappify configuration
# Each engine runs in a model server reachable at its endpoint.
# Set container.managed: true to have "snappify serve" start it with Docker.
# S3 credentials use ${ENV_VAR} syntax to reference environment variables.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
