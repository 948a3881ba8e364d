/**
 * Configuration for the manga translation worker
 *
 * Values come from (lowest to highest precedence) built-in defaults, an
 * optional mangatrans.yaml, and environment variables (REDIS_URL, ...).
 */

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Provider kinds understood by the translation chain.
const (
	ProviderGoogle      = "google"
	ProviderHuggingFace = "huggingface"
	ProviderChat        = "chat"
)

// ProviderConfig describes one translation backend in chain order.
type ProviderConfig struct {
	Kind   string `mapstructure:"kind"`
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL  string `mapstructure:"redis_url"`
	QueueName string `mapstructure:"queue_name"`
	// QueueBackend selects the consumer: "redis" (list based) or "asynq".
	QueueBackend string `mapstructure:"queue_backend"`

	// PostgreSQL configuration (optional, job status only)
	DatabaseURL string `mapstructure:"database_url"`

	// Worker configuration
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	BoxConcurrency    int           `mapstructure:"box_concurrency"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	ResultTTL         time.Duration `mapstructure:"result_ttl"`
	JobTTL            time.Duration `mapstructure:"job_ttl"`

	// Recognition
	OCRSpaceAPIKey      string `mapstructure:"ocrspace_api_key"`
	OCRSpaceURL         string `mapstructure:"ocrspace_url"`
	OCRLanguage         string `mapstructure:"ocr_language"`
	TesseractEnabled    bool   `mapstructure:"tesseract_enabled"`
	TesseractLanguage   string `mapstructure:"tesseract_language"`
	EdgeFallbackEnabled bool   `mapstructure:"edge_fallback_enabled"`

	// Translation
	ProviderTimeout      time.Duration    `mapstructure:"provider_timeout"`
	SkipUntranslatable   bool             `mapstructure:"skip_untranslatable"`
	HuggingFaceAPIKey    string           `mapstructure:"huggingface_api_key"`
	OpenAIAPIKey         string           `mapstructure:"openai_api_key"`
	TranslationProviders []ProviderConfig `mapstructure:"translation_providers"`

	// Rendering
	FontPath    string `mapstructure:"font_path"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`

	// Pipeline
	RequireVerification bool `mapstructure:"require_verification"`

	// HTTP API
	HTTPAddr string `mapstructure:"http_addr"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogBufferSize int    `mapstructure:"log_buffer_size"`
}

// DefaultProviders is the chain used when no translation_providers are configured.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Kind: ProviderGoogle, Name: "google-gtx", URL: "https://translate.googleapis.com/translate_a/single"},
		{Kind: ProviderHuggingFace, Name: "opus-mt-zh-en", URL: "https://api-inference.huggingface.co/models/Helsinki-NLP/opus-mt-zh-en"},
		{Kind: ProviderHuggingFace, Name: "nllb-200", URL: "https://api-inference.huggingface.co/models/facebook/nllb-200-distilled-600M"},
		{Kind: ProviderChat, Name: "openai", URL: "https://api.openai.com/v1", Model: "gpt-3.5-turbo"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("queue_name", "mangatrans:jobs")
	v.SetDefault("queue_backend", "redis")
	v.SetDefault("database_url", "")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("box_concurrency", 8)
	v.SetDefault("max_file_size", int64(50*1024*1024)) // 50MB
	v.SetDefault("processing_timeout", 5*time.Minute)
	v.SetDefault("result_ttl", 24*time.Hour)
	v.SetDefault("job_ttl", time.Hour)
	v.SetDefault("ocrspace_api_key", "")
	v.SetDefault("ocrspace_url", "https://api.ocr.space/parse/image")
	v.SetDefault("ocr_language", "chs")
	v.SetDefault("tesseract_enabled", true)
	v.SetDefault("tesseract_language", "chi_sim")
	v.SetDefault("edge_fallback_enabled", true)
	v.SetDefault("provider_timeout", 15*time.Second)
	v.SetDefault("skip_untranslatable", true)
	v.SetDefault("huggingface_api_key", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("translation_providers", DefaultProviders())
	v.SetDefault("font_path", "")
	v.SetDefault("jpeg_quality", 95)
	v.SetDefault("require_verification", false)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_buffer_size", 100)
}

// LoadConfig loads configuration from defaults, an optional config file and
// the environment. An empty cfgFile searches ./mangatrans.yaml and
// $HOME/.mangatrans/mangatrans.yaml; a missing file is not an error.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("mangatrans")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mangatrans")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyProviderKeys()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyProviderKeys fills provider API keys from the shared env keys when a
// provider entry does not carry its own.
func (c *Config) applyProviderKeys() {
	for i := range c.TranslationProviders {
		p := &c.TranslationProviders[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Kind {
		case ProviderHuggingFace:
			p.APIKey = c.HuggingFaceAPIKey
		case ProviderChat:
			p.APIKey = c.OpenAIAPIKey
		}
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueBackend != "redis" && c.QueueBackend != "asynq" {
		return fmt.Errorf("QUEUE_BACKEND must be redis or asynq, got %q", c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.BoxConcurrency < 1 || c.BoxConcurrency > 64 {
		return fmt.Errorf("BOX_CONCURRENCY must be between 1 and 64, got %d", c.BoxConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive, got %v", c.ProcessingTimeout)
	}

	if c.ProviderTimeout <= 0 || c.ProviderTimeout > c.ProcessingTimeout {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive and not exceed PROCESSING_TIMEOUT, got %v", c.ProviderTimeout)
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality)
	}

	if len(c.TranslationProviders) == 0 {
		return fmt.Errorf("at least one translation provider is required")
	}

	for i, p := range c.TranslationProviders {
		switch p.Kind {
		case ProviderGoogle, ProviderHuggingFace, ProviderChat:
		default:
			return fmt.Errorf("translation_providers[%d]: unknown kind %q", i, p.Kind)
		}
		if p.URL == "" {
			return fmt.Errorf("translation_providers[%d]: url is required", i)
		}
	}

	return nil
}
