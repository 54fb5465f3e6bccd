// Package config provides application configuration management for the
// audit engine: environment defaults, CLI-flag overrides, and bounds
// validation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Upper bounds to prevent resource exhaustion.
const (
	maxBrowserPoolSize  = 20
	maxConcurrentCap    = 32
	maxMaxMemoryMB      = 16384
	maxTimeout          = 10 * time.Minute
	maxRateLimitRPM     = 10000
	minAPIKeyLength     = 16
	maxRetriesUpper     = 10
)

// Standard is the accessibility rule set to run.
type Standard string

const (
	WCAG2A      Standard = "WCAG2A"
	WCAG2AA     Standard = "WCAG2AA"
	WCAG2AAA    Standard = "WCAG2AAA"
	Section508  Standard = "Section508"
)

// Config holds all run configuration, loaded from environment variables and
// overridden by CLI flags (see cmd/auditor).
type Config struct {
	// Sitemap / target
	SitemapURL string
	MaxPages   int

	// Browser pool
	Headless        bool
	BrowserPath      string
	BrowserPoolSize  int
	BrowserPoolTimeout time.Duration
	MaxMemoryMB      int

	// Concurrency
	Concurrency int // maxConcurrent workers
	MaxRetries  int

	// Timeouts
	DefaultTimeout    time.Duration
	ComprehensiveTimeout time.Duration
	MaxTimeout        time.Duration

	// Analyzer selection
	Standard          Standard
	Comprehensive     bool
	NoPerformance     bool
	NoSEO             bool
	NoContentWeight   bool
	NoMobile          bool
	EnableSecurityHeaders bool
	EnableStructuredData  bool

	// Redirect policy
	SkipRedirects bool

	// Budget template
	BudgetTemplate string // default|ecommerce|corporate|blog
	BudgetPath     string // external override file
	BudgetHotReload bool
	BudgetOverrideLCPMs float64
	BudgetOverrideCLS   float64
	BudgetOverrideFCPMs float64
	BudgetOverrideTTFBMs float64

	// Output
	OutputDir string
	Formats   []string // subset of html,markdown,json,csv

	// Proxy
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string

	// Logging
	LogLevel string

	// Environment flags
	CI             bool // disables backpressure monitoring, tightens defaults
	StrictInvariants bool

	// Read-only HTTP status surface
	StatusAPIEnabled bool
	StatusAPIHost    string
	StatusAPIPort    int
	RateLimitEnabled bool
	RateLimitRPM     int
	TrustProxy       bool
	CORSAllowedOrigins []string
	APIKeyEnabled    bool
	APIKey           string
}

// Load loads configuration from environment variables. CLI flags are
// applied on top by the caller (cmd/auditor) before Validate runs.
func Load() *Config {
	ci := getEnvBool("CI", false)

	defaultConcurrency := 4
	if ci {
		defaultConcurrency = 2
	}

	return &Config{
		MaxPages: getEnvInt("MAX_PAGES", 0), // 0 = unbounded

		Headless:           getEnvBool("HEADLESS", true),
		BrowserPath:        getEnvString("BROWSER_PATH", ""),
		BrowserPoolSize:    getEnvInt("BROWSER_POOL_SIZE", 3),
		BrowserPoolTimeout: getEnvDuration("BROWSER_POOL_TIMEOUT", 30*time.Second),
		MaxMemoryMB:        getEnvInt("MAX_MEMORY_MB", 2048),

		Concurrency: getEnvInt("CONCURRENCY", defaultConcurrency),
		MaxRetries:  getEnvInt("MAX_RETRIES", 2),

		DefaultTimeout:       getEnvDuration("TIMEOUT_MS", 30*time.Second),
		ComprehensiveTimeout: getEnvDuration("COMPREHENSIVE_TIMEOUT_MS", 90*time.Second),
		MaxTimeout:           getEnvDuration("MAX_TIMEOUT", 300*time.Second),

		Standard:        Standard(getEnvString("STANDARD", string(WCAG2AA))),
		Comprehensive:   getEnvBool("COMPREHENSIVE", false),
		NoPerformance:   getEnvBool("NO_PERFORMANCE", false),
		NoSEO:           getEnvBool("NO_SEO", false),
		NoContentWeight: getEnvBool("NO_CONTENT_WEIGHT", false),
		NoMobile:        getEnvBool("NO_MOBILE", false),
		EnableSecurityHeaders: getEnvBool("ENABLE_SECURITY_HEADERS", false),
		EnableStructuredData:  getEnvBool("ENABLE_STRUCTURED_DATA", false),

		SkipRedirects: getEnvBool("SKIP_REDIRECTS", true),

		BudgetTemplate:  getEnvString("BUDGET_TEMPLATE", "default"),
		BudgetPath:      getEnvString("BUDGET_PATH", ""),
		BudgetHotReload: getEnvBool("BUDGET_HOT_RELOAD", false),
		BudgetOverrideLCPMs:  getEnvFloat("BUDGET_LCP_MS", 0),
		BudgetOverrideCLS:    getEnvFloat("BUDGET_CLS", 0),
		BudgetOverrideFCPMs:  getEnvFloat("BUDGET_FCP_MS", 0),
		BudgetOverrideTTFBMs: getEnvFloat("BUDGET_TTFB_MS", 0),

		OutputDir: getEnvString("OUTPUT_DIR", "./audit-report"),
		Formats:   getEnvStringSlice("FORMATS", []string{"json"}),

		ProxyURL:      getEnvString("PROXY_URL", ""),
		ProxyUsername: getEnvString("PROXY_USERNAME", ""),
		ProxyPassword: getEnvString("PROXY_PASSWORD", ""),

		LogLevel: getEnvString("LOG_LEVEL", "info"),

		CI:               ci,
		StrictInvariants: getEnvBool("STRICT_INVARIANTS", false),

		StatusAPIEnabled:   getEnvBool("STATUS_API_ENABLED", false),
		StatusAPIHost:      getEnvString("STATUS_API_HOST", "127.0.0.1"),
		StatusAPIPort:      getEnvInt("STATUS_API_PORT", 8692),
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		APIKeyEnabled:      getEnvBool("API_KEY_ENABLED", false),
		APIKey:             getEnvString("API_KEY", ""),
	}
}

func (c *Config) HasProxy() bool {
	return c.ProxyURL != ""
}

// Validate checks configuration values, clamping to bounds and logging a
// warning rather than failing outright. Cross-field problems that make a
// run meaningless (no sitemap URL) are left for the CLI layer to turn into
// a configuration error / exit code 1.
func (c *Config) Validate() {
	if c.MaxPages < 0 {
		log.Warn().Int("maxPages", c.MaxPages).Msg("negative maxPages, treating as unbounded")
		c.MaxPages = 0
	}

	if c.BrowserPoolSize < 1 {
		log.Warn().Int("size", c.BrowserPoolSize).Msg("invalid browser pool size, using default 3")
		c.BrowserPoolSize = 3
	} else if c.BrowserPoolSize > maxBrowserPoolSize {
		log.Warn().Int("size", c.BrowserPoolSize).Int("max", maxBrowserPoolSize).Msg("browser pool size too large, capping")
		c.BrowserPoolSize = maxBrowserPoolSize
	}

	if c.Concurrency < 1 {
		log.Warn().Int("concurrency", c.Concurrency).Msg("invalid concurrency, using default 4")
		c.Concurrency = 4
	} else if c.Concurrency > maxConcurrentCap {
		log.Warn().Int("concurrency", c.Concurrency).Int("max", maxConcurrentCap).Msg("concurrency too high, capping")
		c.Concurrency = maxConcurrentCap
	}
	if c.CI && c.Concurrency > 2 {
		log.Info().Int("concurrency", c.Concurrency).Msg("CI detected; consider lowering concurrency to 1-2")
	}

	if c.MaxMemoryMB < 256 {
		log.Warn().Int("mb", c.MaxMemoryMB).Msg("memory limit too low, using default 2048")
		c.MaxMemoryMB = 2048
	} else if c.MaxMemoryMB > maxMaxMemoryMB {
		log.Warn().Int("mb", c.MaxMemoryMB).Int("max", maxMaxMemoryMB).Msg("memory limit too high, capping")
		c.MaxMemoryMB = maxMaxMemoryMB
	}

	if c.MaxTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxTimeout).Msg("max timeout too short, using 300s")
		c.MaxTimeout = 300 * time.Second
	} else if c.MaxTimeout > maxTimeout {
		log.Warn().Dur("timeout", c.MaxTimeout).Dur("max", maxTimeout).Msg("max timeout too high, capping")
		c.MaxTimeout = maxTimeout
	}
	if c.DefaultTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTimeout).Msg("default timeout too short, using 30s")
		c.DefaultTimeout = 30 * time.Second
	}
	if c.DefaultTimeout > c.MaxTimeout {
		log.Warn().Dur("default", c.DefaultTimeout).Dur("max", c.MaxTimeout).Msg("default timeout exceeds max, clamping")
		c.DefaultTimeout = c.MaxTimeout
	}
	if c.ComprehensiveTimeout < c.DefaultTimeout {
		log.Warn().Msg("comprehensive timeout below default timeout, raising to default")
		c.ComprehensiveTimeout = c.DefaultTimeout
	}
	if c.ComprehensiveTimeout > c.MaxTimeout {
		c.ComprehensiveTimeout = c.MaxTimeout
	}

	if c.MaxRetries < 0 {
		log.Warn().Int("retries", c.MaxRetries).Msg("negative maxRetries, using 0")
		c.MaxRetries = 0
	} else if c.MaxRetries > maxRetriesUpper {
		log.Warn().Int("retries", c.MaxRetries).Int("max", maxRetriesUpper).Msg("maxRetries too high, capping")
		c.MaxRetries = maxRetriesUpper
	}

	switch c.Standard {
	case WCAG2A, WCAG2AA, WCAG2AAA, Section508:
	default:
		log.Warn().Str("standard", string(c.Standard)).Msg("invalid standard, using WCAG2AA")
		c.Standard = WCAG2AA
	}

	switch c.BudgetTemplate {
	case "default", "ecommerce", "corporate", "blog":
	default:
		log.Warn().Str("template", c.BudgetTemplate).Msg("invalid budget template, using 'default'")
		c.BudgetTemplate = "default"
	}

	validFormats := map[string]bool{"html": true, "markdown": true, "json": true, "csv": true}
	kept := c.Formats[:0]
	for _, f := range c.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if validFormats[f] {
			kept = append(kept, f)
		} else if f != "" {
			log.Warn().Str("format", f).Msg("unrecognized report format, ignoring")
		}
	}
	if len(kept) == 0 {
		kept = []string{"json"}
	}
	c.Formats = kept

	validLogLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.ProxyURL != "" {
		if !strings.Contains(c.ProxyURL, "://") {
			log.Error().Str("proxy_url", c.ProxyURL).Msg("proxyURL missing scheme")
		} else {
			scheme := strings.ToLower(strings.Split(c.ProxyURL, "://")[0])
			validSchemes := map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true}
			if !validSchemes[scheme] {
				log.Error().Str("proxy_url", c.ProxyURL).Str("scheme", scheme).Msg("proxyURL has invalid scheme")
			}
			if strings.Contains(c.ProxyURL, "@") {
				log.Warn().Msg("proxyURL contains embedded credentials; prefer PROXY_USERNAME/PROXY_PASSWORD")
			}
		}
	}
	if c.ProxyUsername != "" && c.ProxyPassword == "" {
		log.Warn().Msg("PROXY_USERNAME set but PROXY_PASSWORD empty")
	}

	if len(c.CORSAllowedOrigins) == 0 && c.StatusAPIEnabled {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set on status API - rejecting all cross-origin requests")
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().Int("length", len(c.APIKey)).Int("min_required", minAPIKeyLength).Msg("API_KEY too short")
		}
	}

	if c.BudgetHotReload && c.BudgetPath == "" {
		log.Warn().Msg("BUDGET_HOT_RELOAD enabled but BUDGET_PATH not set - hot reload disabled")
		c.BudgetHotReload = false
	}
	if c.BudgetPath != "" {
		if strings.Contains(c.BudgetPath, "..") {
			log.Error().Str("path", c.BudgetPath).Msg("BudgetPath contains path traversal sequence, ignoring")
			c.BudgetPath = ""
		} else if c.BudgetHotReload {
			if _, err := os.Stat(c.BudgetPath); os.IsNotExist(err) {
				log.Warn().Str("path", c.BudgetPath).Msg("BudgetPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Int("default", defaultValue).Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Bool("default", defaultValue).Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			if ms > 0 {
				return time.Duration(ms) * time.Millisecond
			}
		}
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("duration must be positive, using default")
			return defaultValue
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Dur("default", defaultValue).Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
