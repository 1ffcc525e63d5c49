package model

// Config is the complete placemaster configuration
type Config struct {
	Database     DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Resolver     ResolverConfig    `yaml:"resolver" mapstructure:"resolver"`
	Geocoding    GeocodingConfig   `yaml:"geocoding" mapstructure:"geocoding"`
	LLM          LLMConfig         `yaml:"llm" mapstructure:"llm"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Retry        RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Metrics      MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Tracing      TracingConfig     `yaml:"tracing" mapstructure:"tracing"`
	Logging      LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Proxy        ProxyConfig       `yaml:"proxy" mapstructure:"proxy"`
}

// DatabaseConfig selects the durable store
type DatabaseConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, mysql
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"` // 0 = driver default (1 for sqlite)
	LogSQL       bool   `yaml:"log_sql" mapstructure:"log_sql"`
}

// ResolverConfig controls the validation policy of the resolver
type ResolverConfig struct {
	ValidationEnabled bool    `yaml:"validation_enabled" mapstructure:"validation_enabled"`
	RejectThreshold   float64 `yaml:"reject_threshold" mapstructure:"reject_threshold"` // Invalid verdicts at or above this reject
	AcceptThreshold   float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"` // Valid verdicts at or above this validate
	FailOpen          bool    `yaml:"validation_fail_open" mapstructure:"validation_fail_open"`
	GeocodingEnabled  bool    `yaml:"geocoding_enabled" mapstructure:"geocoding_enabled"`
}

// GeocodingConfig configures the geocoding oracle chain
type GeocodingConfig struct {
	Providers        []string `yaml:"providers" mapstructure:"providers"` // Tried in order: google, nominatim
	GoogleAPIKey     string   `yaml:"google_api_key" mapstructure:"google_api_key"`
	GoogleBaseURL    string   `yaml:"google_base_url" mapstructure:"google_base_url"`
	NominatimBaseURL string   `yaml:"nominatim_base_url" mapstructure:"nominatim_base_url"`
	UserAgent        string   `yaml:"user_agent" mapstructure:"user_agent"`
	Language         string   `yaml:"language" mapstructure:"language"`
	Timeout          int      `yaml:"timeout" mapstructure:"timeout"` // seconds
	JapanOnly        bool     `yaml:"japan_only" mapstructure:"japan_only"`
	FallbackQueries  bool     `yaml:"fallback_queries" mapstructure:"fallback_queries"`
}

// LLMConfig configures the validation oracle provider
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" = disabled
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheDir  string `yaml:"cache_dir" mapstructure:"cache_dir"` // Response cache, empty = memory only
	CacheTTL  int    `yaml:"cache_ttl" mapstructure:"cache_ttl"` // seconds
}

// RateLimitConfig bounds request rates to the external oracles
type RateLimitConfig struct {
	GeocodeRPS    float64 `yaml:"geocode_rps" mapstructure:"geocode_rps"`
	GeocodeBurst  int     `yaml:"geocode_burst" mapstructure:"geocode_burst"`
	ValidateRPS   float64 `yaml:"validate_rps" mapstructure:"validate_rps"`
	ValidateBurst int     `yaml:"validate_burst" mapstructure:"validate_burst"`
}

// ConcurrencyConfig sizes the ingestion worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RetryConfig controls retries of transient oracle failures
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff int `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"` // milliseconds
}

// CacheConfig configures the read-through key cache in front of the store
type CacheConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	TTL           int    `yaml:"ttl" mapstructure:"ttl"` // seconds
	RedisAddr     string `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // Empty = not served
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"` // development, production
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// ProxyConfig configures outbound proxies for oracle clients
type ProxyConfig struct {
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "placemaster.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON",
		},
		Resolver: ResolverConfig{
			ValidationEnabled: true,
			RejectThreshold:   0.7,
			AcceptThreshold:   0.7,
			FailOpen:          false,
			GeocodingEnabled:  true,
		},
		Geocoding: GeocodingConfig{
			Providers:        []string{"google", "nominatim"},
			GoogleBaseURL:    "https://maps.googleapis.com",
			NominatimBaseURL: "https://nominatim.openstreetmap.org",
			UserAgent:        "placemaster/0.1 (+https://github.com/ppiankov/placemaster)",
			Language:         "ja",
			Timeout:          10,
			JapanOnly:        true,
			FallbackQueries:  true,
		},
		LLM: LLMConfig{
			Provider:  "", // Disabled by default
			Timeout:   30,
			MaxTokens: 300,
			CacheTTL:  30 * 24 * 3600,
		},
		RateLimiting: RateLimitConfig{
			GeocodeRPS:    10,
			GeocodeBurst:  5,
			ValidateRPS:   2,
			ValidateBurst: 2,
		},
		Concurrency: ConcurrencyConfig{Workers: 4},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: 1000,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     3600,
		},
		Tracing: TracingConfig{ServiceName: "placemaster"},
		Logging: LoggingConfig{Mode: "development"},
	}
}
