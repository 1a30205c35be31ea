// Package config provides application configuration management.
// Configuration comes from an optional YAML file plus environment variables;
// the environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Recognized browser kinds.
const (
	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolSize       = 20
	maxConcurrentCap  = 10000
	maxSessionTimeout = 24 * time.Hour
	minPort           = 1025
	maxPort           = 65535
)

// RateLimit describes a token budget over a window.
type RateLimit struct {
	Points        int `yaml:"points"`
	WindowSeconds int `yaml:"windowSeconds"`
}

// APIKeyEntry binds an opaque key to an identity and its permission set.
type APIKeyEntry struct {
	Key         string     `yaml:"key"`
	Identity    string     `yaml:"identity"`
	Roles       []string   `yaml:"roles"`
	RateLimit   *RateLimit `yaml:"rateLimit,omitempty"`
}

// BearerConfig holds the signer material for bearer-token validation.
type BearerConfig struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
	LifetimeSeconds int    `yaml:"lifetimeSeconds"`
}

// PermissionConfig is one (resource, action) grant, wildcard-capable, with
// optional conditions that must all match the request context.
type PermissionConfig struct {
	Resource   string            `yaml:"resource"`
	Action     string            `yaml:"action"`
	Conditions map[string]string `yaml:"conditions,omitempty"`
}

// RoleConfig names a permission set. Inherited roles union with direct
// permissions; inheritance cycles are rejected at startup.
type RoleConfig struct {
	Name        string             `yaml:"name"`
	Inherits    []string           `yaml:"inherits,omitempty"`
	Permissions []PermissionConfig `yaml:"permissions,omitempty"`
}

// AuthConfig is the complete, explicitly enumerated auth surface.
type AuthConfig struct {
	Enabled                bool                 `yaml:"enabled"`
	Providers              []string             `yaml:"providers"`
	RequireSecureTransport bool                 `yaml:"requireSecureTransport"`
	GlobalRateLimit        *RateLimit           `yaml:"globalRateLimit,omitempty"`
	PerIdentityRateLimits  map[string]RateLimit `yaml:"perIdentityRateLimits,omitempty"`
	AddressAllowList       []string             `yaml:"addressAllowList,omitempty"`
	AddressDenyList        []string             `yaml:"addressDenyList,omitempty"`
	Roles                  []RoleConfig         `yaml:"roles,omitempty"`
	APIKeys                []APIKeyEntry        `yaml:"apiKeys,omitempty"`
	Bearer                 BearerConfig         `yaml:"bearer,omitempty"`
	OAuthIntrospectionURL  string               `yaml:"oauthIntrospectionURL,omitempty"`
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Browser settings
	BrowserKind string `yaml:"browserKind"`
	Headless    bool   `yaml:"headless"`
	BrowserPath string `yaml:"browserPath"`
	FirefoxPath string `yaml:"firefoxPath"`

	// Pool settings
	PoolMinSize         int           `yaml:"poolMinSize"`
	PoolMaxSize         int           `yaml:"poolMaxSize"`
	PoolIdleTimeout     time.Duration `yaml:"poolIdleTimeout"`
	MaxSessionAge       time.Duration `yaml:"maxSessionAge"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
	PrewarmCount        int           `yaml:"prewarmCount"`
	BorrowTimeout       time.Duration `yaml:"borrowTimeout"`
	MaxConsecutiveErrors int          `yaml:"maxConsecutiveErrors"`
	MaxUseCount          int64        `yaml:"maxUseCount"`

	// Registry settings
	MaxConcurrentSessions int           `yaml:"maxConcurrentSessions"`
	SessionTimeout        time.Duration `yaml:"sessionTimeout"`

	// Request handling
	WorkerCap       int           `yaml:"workerCap"`
	DrainTimeout    time.Duration `yaml:"drainTimeout"`
	RateLimitPerIP  int           `yaml:"rateLimitPerIP"` // transport-level, requests per minute
	TrustProxy      bool          `yaml:"trustProxy"`

	// Artifacts
	ArtifactDir string `yaml:"artifactDir"`

	// Logging
	LogLevel string `yaml:"logLevel"`

	// Daemon mode
	PIDFile string `yaml:"pidFile"`

	// Auth gate
	Auth AuthConfig `yaml:"auth"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		// Default to localhost for security; set HOST=0.0.0.0 to expose.
		Host: "127.0.0.1",
		Port: 8420,

		BrowserKind: BrowserChromium,
		Headless:    true,

		PoolMinSize:          1,
		PoolMaxSize:          3,
		PoolIdleTimeout:      5 * time.Minute,
		MaxSessionAge:        30 * time.Minute,
		HealthCheckInterval:  1 * time.Minute,
		PrewarmCount:         1,
		BorrowTimeout:        30 * time.Second,
		MaxConsecutiveErrors: 5,
		MaxUseCount:          1000,

		MaxConcurrentSessions: 10,
		SessionTimeout:        30 * time.Minute,

		WorkerCap:      64,
		DrainTimeout:   30 * time.Second,
		RateLimitPerIP: 120,

		ArtifactDir: "browser-control",

		LogLevel: "info",

		Auth: AuthConfig{Enabled: false},
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path (empty path skips the file), then the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Absent keys stay nil so the
// merge only touches what the file actually sets; durations are Go duration
// strings ("30s", "5m").
type fileConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`

	BrowserKind *string `yaml:"browserKind"`
	Headless    *bool   `yaml:"headless"`
	BrowserPath *string `yaml:"browserPath"`
	FirefoxPath *string `yaml:"firefoxPath"`

	PoolMinSize          *int    `yaml:"poolMinSize"`
	PoolMaxSize          *int    `yaml:"poolMaxSize"`
	PoolIdleTimeout      *string `yaml:"poolIdleTimeout"`
	MaxSessionAge        *string `yaml:"maxSessionAge"`
	HealthCheckInterval  *string `yaml:"healthCheckInterval"`
	PrewarmCount         *int    `yaml:"prewarmCount"`
	BorrowTimeout        *string `yaml:"borrowTimeout"`
	MaxConsecutiveErrors *int    `yaml:"maxConsecutiveErrors"`
	MaxUseCount          *int64  `yaml:"maxUseCount"`

	MaxConcurrentSessions *int    `yaml:"maxConcurrentSessions"`
	SessionTimeout        *string `yaml:"sessionTimeout"`

	WorkerCap      *int    `yaml:"workerCap"`
	DrainTimeout   *string `yaml:"drainTimeout"`
	RateLimitPerIP *int    `yaml:"rateLimitPerIP"`
	TrustProxy     *bool   `yaml:"trustProxy"`

	ArtifactDir *string `yaml:"artifactDir"`
	LogLevel    *string `yaml:"logLevel"`
	PIDFile     *string `yaml:"pidFile"`

	Auth *AuthConfig `yaml:"auth"`
}

// loadFile merges a YAML config file into cfg.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *string, key string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("config file %s: invalid duration for %s: %w", path, key, err)
		}
		*dst = d
		return nil
	}

	setString(&c.Host, fc.Host)
	setInt(&c.Port, fc.Port)
	setString(&c.BrowserKind, fc.BrowserKind)
	setBool(&c.Headless, fc.Headless)
	setString(&c.BrowserPath, fc.BrowserPath)
	setString(&c.FirefoxPath, fc.FirefoxPath)
	setInt(&c.PoolMinSize, fc.PoolMinSize)
	setInt(&c.PoolMaxSize, fc.PoolMaxSize)
	setInt(&c.PrewarmCount, fc.PrewarmCount)
	setInt(&c.MaxConsecutiveErrors, fc.MaxConsecutiveErrors)
	if fc.MaxUseCount != nil {
		c.MaxUseCount = *fc.MaxUseCount
	}
	setInt(&c.MaxConcurrentSessions, fc.MaxConcurrentSessions)
	setInt(&c.WorkerCap, fc.WorkerCap)
	setInt(&c.RateLimitPerIP, fc.RateLimitPerIP)
	setBool(&c.TrustProxy, fc.TrustProxy)
	setString(&c.ArtifactDir, fc.ArtifactDir)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.PIDFile, fc.PIDFile)

	for _, d := range []struct {
		dst *time.Duration
		src *string
		key string
	}{
		{&c.PoolIdleTimeout, fc.PoolIdleTimeout, "poolIdleTimeout"},
		{&c.MaxSessionAge, fc.MaxSessionAge, "maxSessionAge"},
		{&c.HealthCheckInterval, fc.HealthCheckInterval, "healthCheckInterval"},
		{&c.BorrowTimeout, fc.BorrowTimeout, "borrowTimeout"},
		{&c.SessionTimeout, fc.SessionTimeout, "sessionTimeout"},
		{&c.DrainTimeout, fc.DrainTimeout, "drainTimeout"},
	} {
		if err := setDur(d.dst, d.src, d.key); err != nil {
			return err
		}
	}

	if fc.Auth != nil {
		c.Auth = *fc.Auth
	}

	log.Debug().Str("path", path).Msg("Config file loaded")
	return nil
}

// applyEnv overlays the recognized environment variables. The set is closed:
// BROWSER_TYPE, HEADLESS, MAX_CONCURRENT_SESSIONS, SESSION_TIMEOUT,
// LOG_LEVEL, PORT, plus HOST for bind address.
func (c *Config) applyEnv() {
	c.BrowserKind = getEnvString("BROWSER_TYPE", c.BrowserKind)
	c.Headless = getEnvBool("HEADLESS", c.Headless)
	c.MaxConcurrentSessions = getEnvInt("MAX_CONCURRENT_SESSIONS", c.MaxConcurrentSessions)
	if ms := getEnvInt("SESSION_TIMEOUT", 0); ms > 0 {
		c.SessionTimeout = time.Duration(ms) * time.Millisecond
	}
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.Port = getEnvInt("PORT", c.Port)
	c.Host = getEnvString("HOST", c.Host)
}

// Validate checks configuration values. Unusable values return an error;
// recoverable ones are clamped with a warning, in which case the corrected
// value is used.
func (c *Config) Validate() error {
	switch strings.ToLower(c.BrowserKind) {
	case BrowserChromium, BrowserFirefox:
		c.BrowserKind = strings.ToLower(c.BrowserKind)
	default:
		return fmt.Errorf("invalid BROWSER_TYPE %q (must be %s or %s)", c.BrowserKind, BrowserChromium, BrowserFirefox)
	}

	if c.Port < minPort || c.Port > maxPort {
		return fmt.Errorf("invalid PORT %d (must be %d..%d)", c.Port, minPort, maxPort)
	}

	if c.MaxConcurrentSessions < 1 {
		return fmt.Errorf("invalid MAX_CONCURRENT_SESSIONS %d (must be positive)", c.MaxConcurrentSessions)
	}
	if c.MaxConcurrentSessions > maxConcurrentCap {
		log.Warn().
			Int("sessions", c.MaxConcurrentSessions).
			Int("max", maxConcurrentCap).
			Msg("MAX_CONCURRENT_SESSIONS too high, capping to maximum")
		c.MaxConcurrentSessions = maxConcurrentCap
	}

	switch strings.ToLower(c.LogLevel) {
	case "error", "warn", "info", "debug":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q (must be error, warn, info, or debug)", c.LogLevel)
	}

	// Pool bounds are internal knobs; clamp rather than reject.
	if c.PoolMinSize < 0 {
		log.Warn().Int("min", c.PoolMinSize).Msg("Invalid pool min size, using 0")
		c.PoolMinSize = 0
	}
	if c.PoolMaxSize < 1 {
		log.Warn().Int("max", c.PoolMaxSize).Msg("Invalid pool max size, using 3")
		c.PoolMaxSize = 3
	}
	if c.PoolMaxSize > maxPoolSize {
		log.Warn().Int("max", c.PoolMaxSize).Int("cap", maxPoolSize).Msg("Pool max size too large, capping")
		c.PoolMaxSize = maxPoolSize
	}
	if c.PoolMinSize > c.PoolMaxSize {
		log.Warn().
			Int("min", c.PoolMinSize).
			Int("max", c.PoolMaxSize).
			Msg("Pool min size exceeds max, adjusting to max")
		c.PoolMinSize = c.PoolMaxSize
	}
	if c.PrewarmCount > c.PoolMaxSize {
		c.PrewarmCount = c.PoolMaxSize
	}

	if c.BorrowTimeout < time.Second {
		log.Warn().Dur("timeout", c.BorrowTimeout).Msg("Borrow timeout too short, using 30s")
		c.BorrowTimeout = 30 * time.Second
	}
	if c.SessionTimeout < time.Minute {
		log.Warn().Dur("timeout", c.SessionTimeout).Msg("Session timeout too short, using 1m")
		c.SessionTimeout = time.Minute
	} else if c.SessionTimeout > maxSessionTimeout {
		log.Warn().Dur("timeout", c.SessionTimeout).Msg("Session timeout too long, capping to 24h")
		c.SessionTimeout = maxSessionTimeout
	}
	if c.HealthCheckInterval < 10*time.Second {
		log.Warn().Dur("interval", c.HealthCheckInterval).Msg("Health check interval too short, using 10s")
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.MaxConsecutiveErrors < 1 {
		c.MaxConsecutiveErrors = 5
	}
	if c.MaxUseCount < 1 {
		c.MaxUseCount = 1000
	}
	if c.WorkerCap < 1 {
		c.WorkerCap = 64
	}
	if c.DrainTimeout < time.Second {
		c.DrainTimeout = 30 * time.Second
	}
	if c.RateLimitPerIP < 1 {
		c.RateLimitPerIP = 120
	}

	if c.BrowserKind == BrowserFirefox && c.FirefoxPath == "" {
		log.Warn().Msg("BROWSER_TYPE=firefox but no firefoxPath configured; launcher will use the system default")
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	return nil
}

// validateAuth checks the auth provider configuration.
func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}

	validProviders := map[string]bool{"api-key": true, "bearer-token": true, "external-oauth": true}
	for _, p := range c.Auth.Providers {
		if !validProviders[p] {
			return fmt.Errorf("invalid auth provider %q (must be api-key, bearer-token, or external-oauth)", p)
		}
	}
	if len(c.Auth.Providers) == 0 {
		return fmt.Errorf("auth enabled but no providers configured")
	}

	for i, entry := range c.Auth.APIKeys {
		if entry.Key == "" {
			return fmt.Errorf("auth apiKeys[%d] has an empty key", i)
		}
		if len(entry.Key) < 16 {
			log.Warn().
				Str("identity", entry.Identity).
				Int("length", len(entry.Key)).
				Msg("API key shorter than 16 characters is weak")
		}
		if entry.Identity == "" {
			return fmt.Errorf("auth apiKeys[%d] has no identity name", i)
		}
	}

	hasBearer := false
	for _, p := range c.Auth.Providers {
		if p == "bearer-token" {
			hasBearer = true
		}
	}
	if hasBearer && c.Auth.Bearer.Secret == "" {
		return fmt.Errorf("bearer-token provider configured without a signer secret")
	}

	if gl := c.Auth.GlobalRateLimit; gl != nil {
		if gl.Points < 1 || gl.WindowSeconds < 1 {
			return fmt.Errorf("globalRateLimit must have positive points and windowSeconds")
		}
	}

	return nil
}

// defaultFileTemplate is the YAML written by the setup subcommand.
// Durations use Go duration strings.
const defaultFileTemplate = `# browserctl configuration
host: 127.0.0.1
port: 8420

browserKind: chromium
headless: true

poolMinSize: 1
poolMaxSize: 3
poolIdleTimeout: 5m
maxSessionAge: 30m
healthCheckInterval: 1m
prewarmCount: 1
borrowTimeout: 30s

maxConcurrentSessions: 10
sessionTimeout: 30m

logLevel: info
artifactDir: browser-control

auth:
  enabled: false
  providers: []
`

// WriteDefaultFile writes the default configuration as YAML to path.
// Used by the setup subcommand. Refuses to overwrite an existing file.
func WriteDefaultFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	return os.WriteFile(path, []byte(defaultFileTemplate), 0o600)
}

// MissingEnv returns the names of recognized env vars that are unset.
// Startup health reports these as degraded, not unhealthy.
func MissingEnv() []string {
	recognized := []string{
		"BROWSER_TYPE", "HEADLESS", "MAX_CONCURRENT_SESSIONS",
		"SESSION_TIMEOUT", "LOG_LEVEL", "PORT",
	}
	var missing []string
	for _, key := range recognized {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Helper functions for environment variable parsing.

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
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}
