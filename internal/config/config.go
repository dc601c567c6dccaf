// Package config loads the two configuration surfaces described in
// spec.md §6: an agent-local settings file (log level, queue sizes,
// default directories) and the JSON session config pushed by the host at
// capture start.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/umasagashi/capture-core/internal/logging"
	"github.com/umasagashi/capture-core/internal/orchestrator"
)

var log = logging.L("config")

// Settings is the agent-local configuration: everything the host does not
// push per session. It is distinct from orchestrator.Config, which
// arrives as JSON over the external interface described in spec.md §6.
type Settings struct {
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`

	DefaultScrapingDir string `mapstructure:"default_scraping_dir" yaml:"default_scraping_dir"`
	DefaultStorageDir  string `mapstructure:"default_storage_dir" yaml:"default_storage_dir"`
}

// Default returns the settings used when no settings file is present.
func Default() *Settings {
	return &Settings{
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		QueueCapacity: 256,

		DefaultScrapingDir: filepath.Join(DataDir(), "scraping"),
		DefaultStorageDir:  filepath.Join(DataDir(), "storage"),
	}
}

// Load reads the agent-local settings file (YAML). cfgFile, if empty,
// falls back to settings.yaml under configDir and the working directory.
func Load(cfgFile string) (*Settings, error) {
	settings := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("UMACAPTURE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(settings); err != nil {
		return nil, err
	}

	if errs := settings.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Warn("settings validation", "error", err)
		}
	}

	return settings, nil
}

// Save writes settings to cfgFile (or the default settings.yaml location
// if empty).
func Save(settings *Settings, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	} else {
		path = filepath.Join(configDir(), "settings.yaml")
		if err := os.MkdirAll(configDir(), 0o755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("config: marshal settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSessionConfig reads the JSON session config pushed by the host
// (spec.md §6) from path and validates it. Unlike the agent settings this
// goes through encoding/json directly: the config's structs declare json
// tags, and scene_context must pass through as raw JSON for the condition
// parser, which viper's map round-trip would not preserve.
func LoadSessionConfig(path string) (orchestrator.Config, error) {
	var cfg orchestrator.Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read session config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse session config %s: %w", path, err)
	}

	if errs := ValidateSessionConfig(&cfg); len(errs) > 0 {
		return cfg, fmt.Errorf("config: session config %s is invalid: %v", path, errs[0])
	}

	return cfg, nil
}

// DataDir returns the platform-specific data directory the agent writes
// scrape/stitch output under by default.
func DataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "umacapture", "data")
	case "darwin":
		return "/Library/Application Support/umacapture/data"
	default:
		return "/var/lib/umacapture"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "umacapture")
	case "darwin":
		return "/Library/Application Support/umacapture"
	default:
		return "/etc/umacapture"
	}
}
