package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
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
	defaults := DefaultConfig()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("database.url", defaults.Database.URL)
	viper.SetDefault("openai.api_key", defaults.OpenAI.APIKey)
	viper.SetDefault("openai.model", defaults.OpenAI.Model)
	viper.SetDefault("openai.temperature", defaults.OpenAI.Temperature)
	viper.SetDefault("midjourney.base_url", defaults.Midjourney.BaseURL)
	viper.SetDefault("midjourney.api_key", defaults.Midjourney.APIKey)
	viper.SetDefault("midjourney.process_mode", defaults.Midjourney.ProcessMode)
	viper.SetDefault("midjourney.aspect_ratio", defaults.Midjourney.AspectRatio)
	viper.SetDefault("midjourney.poll_interval_seconds", defaults.Midjourney.PollIntervalSeconds)
	viper.SetDefault("midjourney.max_polls", defaults.Midjourney.MaxPolls)
	viper.SetDefault("midjourney.submit_interval_seconds", defaults.Midjourney.SubmitIntervalSeconds)
	viper.SetDefault("midjourney.submit_burst", defaults.Midjourney.SubmitBurst)
	viper.SetDefault("images.bucket", defaults.Images.Bucket)
	viper.SetDefault("images.region", defaults.Images.Region)
	viper.SetDefault("images.endpoint", defaults.Images.Endpoint)
	viper.SetDefault("images.public_base_url", defaults.Images.PublicBaseURL)

	// Environment variables with STORYFORGE_ prefix
	viper.SetEnvPrefix("STORYFORGE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.storyforge")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
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

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
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
	viper.WatchConfig()
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

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Storyforge configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx MIDJOURNEY_API_KEY=xxx DATABASE_URL=postgres://...

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
