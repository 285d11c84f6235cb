package config

// Config holds storyforge configuration.
// Loaded from config.yaml in the working directory or ~/.storyforge.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai" yaml:"openai"`
	Midjourney MidjourneyConfig `mapstructure:"midjourney" yaml:"midjourney"`
	Images     ImagesConfig     `mapstructure:"images" yaml:"images"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"` // supports ${ENV_VAR} syntax
}

// OpenAIConfig configures the narrative text backend.
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// MidjourneyConfig configures the asynchronous image renderer.
type MidjourneyConfig struct {
	BaseURL             string `mapstructure:"base_url" yaml:"base_url"`
	APIKey              string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	ProcessMode         string `mapstructure:"process_mode" yaml:"process_mode"`
	AspectRatio         string `mapstructure:"aspect_ratio" yaml:"aspect_ratio"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	MaxPolls            int    `mapstructure:"max_polls" yaml:"max_polls"`
	// SubmitIntervalSeconds spaces out concurrent job submissions.
	SubmitIntervalSeconds float64 `mapstructure:"submit_interval_seconds" yaml:"submit_interval_seconds"`
	SubmitBurst           int     `mapstructure:"submit_burst" yaml:"submit_burst"`
}

// ImagesConfig configures durable image storage.
type ImagesConfig struct {
	Bucket        string `mapstructure:"bucket" yaml:"bucket"`
	Region        string `mapstructure:"region" yaml:"region"`
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"` // S3-compatible endpoint override
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			URL: "${DATABASE_URL}",
		},
		OpenAI: OpenAIConfig{
			APIKey:      "${OPENAI_API_KEY}",
			Model:       "gpt-4.1",
			Temperature: 0.7,
		},
		Midjourney: MidjourneyConfig{
			BaseURL:               "https://api.midjourneyapi.xyz/mj/v2",
			APIKey:                "${MIDJOURNEY_API_KEY}",
			ProcessMode:           "fast",
			AspectRatio:           "1:1",
			PollIntervalSeconds:   5,
			MaxPolls:              48,
			SubmitIntervalSeconds: 2,
			SubmitBurst:           2,
		},
		Images: ImagesConfig{
			Bucket: "storyforge-books",
			Region: "us-east-1",
		},
	}
}
