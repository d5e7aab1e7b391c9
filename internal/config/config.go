package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the outage watcher.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Detector  DetectorConfig  `yaml:"detector"`
	Narrative NarrativeConfig `yaml:"narrative"`
	Cache     CacheConfig     `yaml:"cache"`
	Email     EmailConfig     `yaml:"email"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	NATS      NATSConfig      `yaml:"nats"`
	History   HistoryConfig   `yaml:"history"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	// UnhealthyAfter is the number of consecutive failed cycles before the
	// health service reports NOT_SERVING.
	UnhealthyAfter int `yaml:"unhealthyAfter"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ScraperConfig controls status page collection.
type ScraperConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	Services      []string      `yaml:"services"`
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retryAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	UserAgent     string        `yaml:"userAgent"`
	Concurrency   int           `yaml:"concurrency"`
}

// DetectorConfig tunes change classification.
type DetectorConfig struct {
	ReportCountThreshold int `yaml:"reportCountThreshold"`
}

// NarrativeConfig selects and tunes the narrative provider.
type NarrativeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"baseURL"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
	Language    string        `yaml:"language"`
	EnableCache bool          `yaml:"enableCache"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls the Redis-compatible narrative cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	UseTLS     bool     `yaml:"useTLS"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
}

// WebSocketConfig controls the real-time broadcast hub.
type WebSocketConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	SendBuffer     int           `yaml:"sendBuffer"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// NATSConfig controls publishing change batches to a message bus.
type NATSConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Subject      string        `yaml:"subject"`
	Name         string        `yaml:"name"`
	FlushTimeout time.Duration `yaml:"flushTimeout"`
}

// HistoryConfig controls the rolling change window.
type HistoryConfig struct {
	Retention time.Duration `yaml:"retention"`
	MaxEvents int           `yaml:"maxEvents"`
}

// RateLimitConfig controls per-client HTTP request limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OUTAGE_WATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Scraper.Services = normaliseServices(cfg.Scraper.Services)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config { return defaultConfig() }

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8000",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			UnhealthyAfter:  3,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Scraper: ScraperConfig{
			BaseURL:       "https://downdetector.com",
			Services:      []string{"google", "facebook", "twitter", "instagram", "whatsapp"},
			Interval:      10 * time.Minute,
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    5 * time.Second,
			UserAgent:     "Mozilla/5.0 (compatible; outage-watch/1.0)",
			Concurrency:   4,
		},
		Detector: DetectorConfig{ReportCountThreshold: 1000},
		Narrative: NarrativeConfig{
			Enabled:     true,
			Provider:    "openai",
			Model:       "gpt-4-turbo-preview",
			MaxTokens:   500,
			Temperature: 0.7,
			Language:    "English",
			EnableCache: true,
			CacheTTL:    time.Hour,
			Timeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Email: EmailConfig{
			Host:   "localhost",
			Port:   587,
			UseTLS: true,
			Sender: "notifications@localhost",
		},
		WebSocket: WebSocketConfig{
			Enabled:      true,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
			SendBuffer:   64,
		},
		NATS: NATSConfig{
			URL:          "nats://127.0.0.1:4222",
			Subject:      "outage-watch.changes",
			Name:         "outage-watch",
			FlushTimeout: 2 * time.Second,
		},
		History:   HistoryConfig{Retention: 24 * time.Hour, MaxEvents: 10000},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 100},
	}
}

// Validate rejects settings the monitoring loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Scraper.Interval <= 0 {
		errs = append(errs, errors.New("scraper.interval must be positive"))
	}
	if c.Scraper.RetryAttempts <= 0 {
		errs = append(errs, errors.New("scraper.retryAttempts must be positive"))
	}
	if c.Scraper.RetryDelay < 0 {
		errs = append(errs, errors.New("scraper.retryDelay must not be negative"))
	}
	if c.Scraper.Concurrency <= 0 {
		errs = append(errs, errors.New("scraper.concurrency must be positive"))
	}
	if c.Detector.ReportCountThreshold <= 0 {
		errs = append(errs, errors.New("detector.reportCountThreshold must be positive"))
	}
	if c.History.Retention <= 0 {
		errs = append(errs, errors.New("history.retention must be positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rateLimit.requestsPerMinute must be positive"))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, errors.New("cache.addr is required when the cache is enabled"))
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OUTAGE_WATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OUTAGE_WATCH_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("OUTAGE_WATCH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OUTAGE_WATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OUTAGE_WATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	if v := os.Getenv("OUTAGE_WATCH_SCRAPER_BASE_URL"); v != "" {
		cfg.Scraper.BaseURL = v
	}
	if v := os.Getenv("OUTAGE_WATCH_SCRAPER_SERVICES"); v != "" {
		cfg.Scraper.Services = strings.Split(v, ",")
	}
	envDuration("OUTAGE_WATCH_SCRAPER_INTERVAL", &cfg.Scraper.Interval)
	envDuration("OUTAGE_WATCH_SCRAPER_TIMEOUT", &cfg.Scraper.Timeout)
	envInt("OUTAGE_WATCH_SCRAPER_RETRY_ATTEMPTS", &cfg.Scraper.RetryAttempts)
	envDuration("OUTAGE_WATCH_SCRAPER_RETRY_DELAY", &cfg.Scraper.RetryDelay)
	if v := os.Getenv("OUTAGE_WATCH_SCRAPER_USER_AGENT"); v != "" {
		cfg.Scraper.UserAgent = v
	}
	envInt("OUTAGE_WATCH_SCRAPER_CONCURRENCY", &cfg.Scraper.Concurrency)
	envInt("OUTAGE_WATCH_DETECTOR_THRESHOLD", &cfg.Detector.ReportCountThreshold)

	envBool("OUTAGE_WATCH_NARRATIVE_ENABLED", &cfg.Narrative.Enabled)
	if v := os.Getenv("OUTAGE_WATCH_NARRATIVE_PROVIDER"); v != "" {
		cfg.Narrative.Provider = v
	}
	if v := os.Getenv("OUTAGE_WATCH_NARRATIVE_API_KEY"); v != "" {
		cfg.Narrative.APIKey = v
	}
	if v := os.Getenv("OUTAGE_WATCH_NARRATIVE_MODEL"); v != "" {
		cfg.Narrative.Model = v
	}
	if v := os.Getenv("OUTAGE_WATCH_NARRATIVE_BASE_URL"); v != "" {
		cfg.Narrative.BaseURL = v
	}
	if v := os.Getenv("OUTAGE_WATCH_NARRATIVE_LANGUAGE"); v != "" {
		cfg.Narrative.Language = v
	}
	envInt("OUTAGE_WATCH_NARRATIVE_MAX_TOKENS", &cfg.Narrative.MaxTokens)
	if v := os.Getenv("OUTAGE_WATCH_NARRATIVE_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Narrative.Temperature = f
		}
	}
	envBool("OUTAGE_WATCH_NARRATIVE_CACHE", &cfg.Narrative.EnableCache)
	envDuration("OUTAGE_WATCH_NARRATIVE_CACHE_TTL", &cfg.Narrative.CacheTTL)

	envBool("OUTAGE_WATCH_CACHE_ENABLED", &cfg.Cache.Enabled)
	if v := os.Getenv("OUTAGE_WATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("OUTAGE_WATCH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("OUTAGE_WATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	envInt("OUTAGE_WATCH_CACHE_DB", &cfg.Cache.DB)
	envBool("OUTAGE_WATCH_CACHE_TLS", &cfg.Cache.TLS)

	envBool("OUTAGE_WATCH_EMAIL_ENABLED", &cfg.Email.Enabled)
	if v := os.Getenv("OUTAGE_WATCH_EMAIL_HOST"); v != "" {
		cfg.Email.Host = v
	}
	envInt("OUTAGE_WATCH_EMAIL_PORT", &cfg.Email.Port)
	envBool("OUTAGE_WATCH_EMAIL_TLS", &cfg.Email.UseTLS)
	if v := os.Getenv("OUTAGE_WATCH_EMAIL_USERNAME"); v != "" {
		cfg.Email.Username = v
	}
	if v := os.Getenv("OUTAGE_WATCH_EMAIL_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv("OUTAGE_WATCH_EMAIL_SENDER"); v != "" {
		cfg.Email.Sender = v
	}
	if v := os.Getenv("OUTAGE_WATCH_EMAIL_RECIPIENTS"); v != "" {
		cfg.Email.Recipients = splitList(v)
	}

	envBool("OUTAGE_WATCH_WEBSOCKET_ENABLED", &cfg.WebSocket.Enabled)
	envBool("OUTAGE_WATCH_NATS_ENABLED", &cfg.NATS.Enabled)
	if v := os.Getenv("OUTAGE_WATCH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("OUTAGE_WATCH_NATS_SUBJECT"); v != "" {
		cfg.NATS.Subject = v
	}
	envDuration("OUTAGE_WATCH_HISTORY_RETENTION", &cfg.History.Retention)
	envBool("OUTAGE_WATCH_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envInt("OUTAGE_WATCH_RATE_LIMIT_PER_MINUTE", &cfg.RateLimit.RequestsPerMinute)
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normaliseServices lowercases, trims and deduplicates service identifiers.
func normaliseServices(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
