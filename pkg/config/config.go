package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// OperatorCredential is the static API key an operator exchanges for tokens.
type OperatorCredential struct {
	APIKey string `yaml:"api_key"`
	Role   string `yaml:"role"`
}

// Config holds application configuration
type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	StatusFeed struct {
		Enabled      bool          `yaml:"enabled"`
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"status_feed"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled      bool   `yaml:"enabled"`
		Address      string `yaml:"address"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		PoolSize     int    `yaml:"pool_size"`
		EventChannel string `yaml:"event_channel"`
	} `yaml:"redis"`

	Auth struct {
		Enabled         bool          `yaml:"enabled"`
		JWTSecret       string        `yaml:"jwt_secret"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		// Operators maps operator id to its API key and role.
		Operators map[string]OperatorCredential `yaml:"operators"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Engine struct {
		Binary           string `yaml:"binary"`
		CameraFormat     string `yaml:"camera_format"`
		CameraDevice     string `yaml:"camera_device"` // %s is replaced by the source id
		MicrophoneFormat string `yaml:"microphone_format"`
		MicrophoneDevice string `yaml:"microphone_device"`
		LogLevel         string `yaml:"log_level"`
		StderrTail       int    `yaml:"stderr_tail"`
	} `yaml:"engine"`

	Stream struct {
		Preset        string `yaml:"preset"`
		Variant       string `yaml:"variant"`
		StreamKey     string `yaml:"stream_key"`
		BaseURL       string `yaml:"base_url"`
		CustomOptions string `yaml:"custom_options"`
		Network       struct {
			Timeout         time.Duration `yaml:"timeout"`
			RetryCount      int           `yaml:"retry_count"`
			AdaptiveBitrate bool          `yaml:"adaptive_bitrate"`
			BufferSize      time.Duration `yaml:"buffer_size"`
			LowLatency      bool          `yaml:"low_latency"`
		} `yaml:"network"`
	} `yaml:"stream"`

	Identity struct {
		Enabled          bool          `yaml:"enabled"`
		BaseURL          string        `yaml:"base_url"`
		ClientID         string        `yaml:"client_id"`
		ClientSecret     string        `yaml:"client_secret"`
		Scope            string        `yaml:"scope"`
		Timeout          time.Duration `yaml:"timeout"`
		RetryAttempts    int           `yaml:"retry_attempts"`
		RetryDelay       time.Duration `yaml:"retry_delay"`
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"identity"`

	Adaptive struct {
		Enabled                   bool          `yaml:"enabled"`
		CheckInterval             time.Duration `yaml:"check_interval"`
		MinTimeBetweenAdjustments time.Duration `yaml:"min_time_between_adjustments"`
		HysteresisFactor          float64       `yaml:"hysteresis_factor"`
		ProbeURL                  string        `yaml:"probe_url"`
		ProbePayloadBytes         int           `yaml:"probe_payload_bytes"`
		ProbeTimeout              time.Duration `yaml:"probe_timeout"`
	} `yaml:"adaptive"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Status feed
	if c.StatusFeed.Enabled {
		if c.StatusFeed.Path == "" {
			return fmt.Errorf("status_feed.path must not be empty")
		}
		if c.StatusFeed.PingInterval <= 0 {
			return fmt.Errorf("status_feed.ping_interval must be > 0")
		}
		if c.StatusFeed.PongTimeout <= c.StatusFeed.PingInterval {
			return fmt.Errorf("status_feed.pong_timeout must be greater than ping_interval")
		}
		if c.StatusFeed.SendBuffer <= 0 {
			return fmt.Errorf("status_feed.send_buffer must be > 0")
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis is enabled")
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth is enabled")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0")
		}
		if c.Auth.RefreshTokenTTL < c.Auth.AccessTokenTTL {
			return fmt.Errorf("auth.refresh_token_ttl must be >= access_token_ttl")
		}
		for id, op := range c.Auth.Operators {
			if op.APIKey == "" {
				return fmt.Errorf("auth.operators.%s.api_key must not be empty", id)
			}
			if op.Role != "viewer" && op.Role != "operator" {
				return fmt.Errorf("auth.operators.%s.role must be viewer or operator", id)
			}
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	// Engine
	if c.Engine.Binary == "" {
		return fmt.Errorf("engine.binary must not be empty")
	}
	if c.Engine.StderrTail <= 0 {
		return fmt.Errorf("engine.stderr_tail must be > 0")
	}

	// Stream
	if c.Stream.Network.Timeout <= 0 {
		return fmt.Errorf("stream.network.timeout must be > 0")
	}
	if c.Stream.Network.RetryCount < 0 {
		return fmt.Errorf("stream.network.retry_count must be >= 0")
	}
	if c.Stream.Network.BufferSize < 0 {
		return fmt.Errorf("stream.network.buffer_size must be >= 0")
	}

	if c.Identity.Enabled {
		if c.Identity.BaseURL == "" {
			return fmt.Errorf("identity.base_url must not be empty when identity is enabled")
		}
		if c.Identity.ClientID == "" {
			return fmt.Errorf("identity.client_id must not be empty when identity is enabled")
		}
		if c.Identity.Timeout <= 0 {
			return fmt.Errorf("identity.timeout must be > 0")
		}
		if c.Identity.RetryAttempts <= 0 {
			return fmt.Errorf("identity.retry_attempts must be > 0")
		}
		if c.Identity.BreakerThreshold <= 0 {
			return fmt.Errorf("identity.breaker_threshold must be > 0")
		}
	}

	if c.Adaptive.Enabled {
		if c.Adaptive.CheckInterval <= 0 {
			return fmt.Errorf("adaptive.check_interval must be > 0")
		}
		if c.Adaptive.MinTimeBetweenAdjustments < 0 {
			return fmt.Errorf("adaptive.min_time_between_adjustments must be >= 0")
		}
		if c.Adaptive.HysteresisFactor < 0 || c.Adaptive.HysteresisFactor > 1 {
			return fmt.Errorf("adaptive.hysteresis_factor must be within [0, 1]")
		}
		if c.Adaptive.ProbeURL == "" {
			return fmt.Errorf("adaptive.probe_url must not be empty when adaptive is enabled")
		}
		if c.Adaptive.ProbePayloadBytes <= 0 {
			return fmt.Errorf("adaptive.probe_payload_bytes must be > 0")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return FromEnv()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv returns the defaults with env overrides applied.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.StatusFeed.Enabled = true
	cfg.StatusFeed.Path = "/api/v1/ws"
	cfg.StatusFeed.PingInterval = 30 * time.Second
	cfg.StatusFeed.PongTimeout = 60 * time.Second
	cfg.StatusFeed.WriteTimeout = 10 * time.Second
	cfg.StatusFeed.SendBuffer = 64

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.EventChannel = "liveorch:events"

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour // 7 days
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.Engine.Binary = "ffmpeg"
	cfg.Engine.CameraFormat = "v4l2"
	cfg.Engine.CameraDevice = "/dev/video%s"
	cfg.Engine.MicrophoneFormat = "alsa"
	cfg.Engine.MicrophoneDevice = "hw:%s"
	cfg.Engine.LogLevel = "info"
	cfg.Engine.StderrTail = 20

	cfg.Stream.Preset = "high"
	cfg.Stream.Variant = "OKB"
	cfg.Stream.Network.Timeout = 10 * time.Second
	cfg.Stream.Network.RetryCount = 3
	cfg.Stream.Network.AdaptiveBitrate = true
	cfg.Stream.Network.BufferSize = 5 * time.Second
	cfg.Stream.Network.LowLatency = true

	cfg.Identity.Enabled = false
	cfg.Identity.Scope = "live_stream"
	cfg.Identity.Timeout = 10 * time.Second
	cfg.Identity.RetryAttempts = 3
	cfg.Identity.RetryDelay = 500 * time.Millisecond
	cfg.Identity.BreakerThreshold = 5
	cfg.Identity.BreakerTimeout = 30 * time.Second

	cfg.Adaptive.Enabled = false
	cfg.Adaptive.CheckInterval = 5 * time.Second
	cfg.Adaptive.MinTimeBetweenAdjustments = 10 * time.Second
	cfg.Adaptive.HysteresisFactor = 0.15
	cfg.Adaptive.ProbePayloadBytes = 256 * 1024
	cfg.Adaptive.ProbeTimeout = 5 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "liveorch"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

// applyEnvOverrides applies LIVEORCH_* environment variables on top of file values
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LIVEORCH_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("LIVEORCH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVEORCH_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("LIVEORCH_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if key := os.Getenv("LIVEORCH_STREAM_KEY"); key != "" {
		c.Stream.StreamKey = key
	}
	if url := os.Getenv("LIVEORCH_STREAM_BASE_URL"); url != "" {
		c.Stream.BaseURL = url
	}
	if secret := os.Getenv("LIVEORCH_IDENTITY_CLIENT_SECRET"); secret != "" {
		c.Identity.ClientSecret = secret
	}
	if v := os.Getenv("LIVEORCH_ADAPTIVE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Adaptive.Enabled = enabled
		}
	}
}
