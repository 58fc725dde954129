package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Cache         CacheConfig
	Models        ModelsConfig
	Router        RouterConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds relay HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// CacheConfig holds cache store configuration.
// An empty URL selects the in-process store.
type CacheConfig struct {
	URL             string // From CACHE_URL, falling back to REDIS_URL
	Namespace       string
	DefaultTTL      time.Duration
	ConnectTimeout  time.Duration
	Table           string // PostgreSQL store only
	CleanupInterval time.Duration
	MaxEntries      int
}

// ModelsConfig holds the settings used to bootstrap the built-in models
type ModelsConfig struct {
	Llama    LlamaConfig
	Mistral  HostedConfig
	DeepSeek HostedConfig
	Relay    RelayConfig
}

// LlamaConfig holds local inference settings
type LlamaConfig struct {
	ModelPath   string
	ContextSize int
	GPULayers   int
	Threads     int
	Verbose     bool
}

// HostedConfig holds settings for a hosted completion API
type HostedConfig struct {
	APIKey         string
	Model          string
	APIURL         string
	EmbeddingModel string
	Timeout        time.Duration
}

// RelayConfig holds settings for forwarding to another router
type RelayConfig struct {
	ServerURL string
	Timeout   time.Duration
}

// RouterConfig holds routing configuration
type RouterConfig struct {
	ModelsFile     string
	OverallTimeout time.Duration // zero disables the bound
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			URL:             getEnv("CACHE_URL", getEnv("REDIS_URL", "")),
			Namespace:       getEnv("CACHE_NAMESPACE", "llmrouter"),
			DefaultTTL:      getEnvAsDuration("CACHE_DEFAULT_TTL", time.Hour),
			ConnectTimeout:  getEnvAsDuration("CACHE_CONNECT_TIMEOUT", 3*time.Second),
			Table:           getEnv("CACHE_TABLE", "cache_entries"),
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
			MaxEntries:      getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
		},
		Models: ModelsConfig{
			Llama: LlamaConfig{
				ModelPath:   getEnv("LLAMA_MODEL_PATH", ""),
				ContextSize: getEnvAsInt("LLAMA_N_CTX", 4096),
				GPULayers:   getEnvAsInt("LLAMA_N_GPU_LAYERS", -1),
				Threads:     getEnvAsInt("LLAMA_THREADS", 4),
				Verbose:     getEnvAsBool("LLAMA_VERBOSE", false),
			},
			Mistral: HostedConfig{
				APIKey:         getEnv("MISTRAL_API_KEY", ""),
				Model:          getEnv("MISTRAL_MODEL", "mistral-medium"),
				APIURL:         getEnv("MISTRAL_API_URL", "https://api.mistral.ai/v1"),
				EmbeddingModel: getEnv("MISTRAL_EMBEDDING_MODEL", "mistral-embed"),
				Timeout:        getEnvAsDuration("MISTRAL_TIMEOUT", 60*time.Second),
			},
			DeepSeek: HostedConfig{
				APIKey:         getEnv("DEEPSEEK_API_KEY", ""),
				Model:          getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
				APIURL:         getEnv("DEEPSEEK_API_URL", "https://api.deepseek.com/v1"),
				EmbeddingModel: getEnv("DEEPSEEK_EMBEDDING_MODEL", "deepseek-embed"),
				Timeout:        getEnvAsDuration("DEEPSEEK_TIMEOUT", 60*time.Second),
			},
			Relay: RelayConfig{
				ServerURL: getEnv("LLM_SERVER_URL", ""),
				Timeout:   getEnvAsDuration("LLM_SERVER_TIMEOUT", 60*time.Second),
			},
		},
		Router: RouterConfig{
			ModelsFile:     getEnv("ROUTER_MODELS_FILE", ""),
			OverallTimeout: getEnvAsDuration("ROUTER_OVERALL_TIMEOUT", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configured values are usable
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}

	if c.Cache.URL != "" {
		u, err := url.Parse(c.Cache.URL)
		if err != nil || u.Scheme == "" || (u.Host == "" && u.Path == "") {
			return fmt.Errorf("invalid cache url")
		}
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default ttl must be positive")
	}

	if c.Router.OverallTimeout < 0 {
		return fmt.Errorf("router overall timeout cannot be negative")
	}

	// At least one model source is required in production
	if c.IsProduction() && !c.HasModelSource() {
		return fmt.Errorf("at least one model must be configured in production")
	}

	// Observability validation
	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "error":
	case "":
		return fmt.Errorf("log level is required")
	default:
		return fmt.Errorf("unsupported log level: %s", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Observability.LogFormat)
	}

	return nil
}

// HasModelSource reports whether any model can be registered at startup
func (c *Config) HasModelSource() bool {
	m := c.Models
	return m.Llama.ModelPath != "" ||
		m.Mistral.APIKey != "" ||
		m.DeepSeek.APIKey != "" ||
		m.Relay.ServerURL != "" ||
		c.Router.ModelsFile != ""
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// LogString returns a safe string for logging (no password)
func (c *CacheConfig) LogString() string {
	if c.URL == "" {
		return "memory"
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "<invalid cache url>"
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") and bare seconds ("90")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
