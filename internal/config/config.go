// Package config loads and validates server configuration.
//
// Values resolve in layers: compiled defaults, then the YAML config file,
// then DAXLS_* environment variables. Command line flags are applied by the
// caller on top of the loaded result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/daxls/internal/logging"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// EngineConfig holds settings for the analysis engine child process.
type EngineConfig struct {
	// Command is the engine executable to spawn.
	Command string `yaml:"command"`

	// Args are extra arguments passed to the engine.
	Args []string `yaml:"args"`

	// Dir is the engine's working directory. Empty inherits the server's.
	Dir string `yaml:"dir"`

	// Env entries, KEY=VALUE, are appended to the engine's environment.
	Env []string `yaml:"env"`

	// InvokeTimeout bounds how long a single engine call may take.
	// Zero disables the timeout.
	InvokeTimeout Duration `yaml:"invoke_timeout"`

	// ShutdownTimeout is how long to wait for the engine to exit on its
	// own before it is killed.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ModelConfig holds settings for the semantic model file watcher.
type ModelConfig struct {
	// Path is the model JSON file to watch. Empty disables watching.
	Path string `yaml:"path"`

	// Debounce is how long the file must stay quiet before a reload
	// is pushed to the engine.
	Debounce Duration `yaml:"debounce"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is the log output format: text or json.
	Format string `yaml:"format"`
}

// DebugConfig holds settings for the debug HTTP listener.
type DebugConfig struct {
	// Addr is the listen address for metrics and pprof, for example
	// "localhost:6060". Empty disables the listener.
	Addr string `yaml:"addr"`
}

// Config is the full server configuration.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Model  ModelConfig  `yaml:"model"`
	Log    LogConfig    `yaml:"log"`
	Debug  DebugConfig  `yaml:"debug"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Command:         "DaxLanguageService",
			InvokeTimeout:   Duration(30 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Model: ModelConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "daxls", "config.yaml"), nil
}

// Load builds the configuration from defaults, the YAML file at path, and
// DAXLS_* environment variables, in that order. An empty path means the
// standard location, where a missing file is fine; an explicit path must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	required := path != ""
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !required:
		// No config file, defaults apply.
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DAXLS_* environment variables.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("DAXLS_ENGINE_COMMAND"); ok {
		c.Engine.Command = v
	}
	if v, ok := os.LookupEnv("DAXLS_ENGINE_ARGS"); ok {
		c.Engine.Args = strings.Fields(v)
	}
	if v, ok := os.LookupEnv("DAXLS_ENGINE_DIR"); ok {
		c.Engine.Dir = v
	}
	if err := envDuration("DAXLS_ENGINE_INVOKE_TIMEOUT", &c.Engine.InvokeTimeout); err != nil {
		return err
	}
	if err := envDuration("DAXLS_ENGINE_SHUTDOWN_TIMEOUT", &c.Engine.ShutdownTimeout); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("DAXLS_MODEL_PATH"); ok {
		c.Model.Path = v
	}
	if err := envDuration("DAXLS_MODEL_DEBOUNCE", &c.Model.Debounce); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("DAXLS_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("DAXLS_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := os.LookupEnv("DAXLS_DEBUG_ADDR"); ok {
		c.Debug.Addr = v
	}
	return nil
}

func envDuration(name string, dst *Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", name, v, err)
	}
	*dst = Duration(parsed)
	return nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.Command) == "" {
		return fmt.Errorf("engine.command must not be empty")
	}
	if c.Engine.InvokeTimeout < 0 {
		return fmt.Errorf("engine.invoke_timeout must not be negative")
	}
	if c.Engine.ShutdownTimeout <= 0 {
		return fmt.Errorf("engine.shutdown_timeout must be positive")
	}
	if c.Model.Debounce < 0 {
		return fmt.Errorf("model.debounce must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON, "":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}
