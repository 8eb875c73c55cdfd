// Package config provides configuration management for nudge.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure for nudge.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Executions ExecutionsConfig `mapstructure:"executions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`

	// Per-principal request rate limit
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds token bucket settings for API callers.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Sustained requests per second per tenant and user
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`

	// Requests allowed in a burst
	Burst int `mapstructure:"burst"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuthConfig holds settings for resolving the caller's tenant and user.
type AuthConfig struct {
	// JWT configuration
	JWT JWTConfig `mapstructure:"jwt"`

	// Tenant used when a token carries no tenant claim
	DefaultTenant string `mapstructure:"default_tenant"`

	// Accept unauthenticated requests as the default tenant (development only)
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}

// JWTConfig holds JWT settings.
type JWTConfig struct {
	// Secret key for verifying tokens
	Secret string `mapstructure:"secret"`

	// JWT issuer claim
	Issuer string `mapstructure:"issuer"`

	// JWT audience claim
	Audience []string `mapstructure:"audience"`

	// Lifetime of tokens minted by the CLI
	AccessTTL time.Duration `mapstructure:"access_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`
}

// SchedulerConfig holds settings for the in-process firing engine.
type SchedulerConfig struct {
	// Run the firing engine inside `nudge serve`
	Enabled bool `mapstructure:"enabled"`

	// How often due triggers are polled
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Maximum due triggers claimed per poll
	BatchSize int `mapstructure:"batch_size"`

	// Maximum concurrent firings
	Workers int `mapstructure:"workers"`

	// Reject unknown schedule modes instead of falling back to FIXED_DELAY
	StrictModes bool `mapstructure:"strict_modes"`

	// IANA zone used to evaluate cron expressions
	Timezone string `mapstructure:"timezone"`

	// Fire recurring triggers missed while the process was down once at
	// startup instead of skipping ahead to their next future time
	Catchup bool `mapstructure:"catchup"`
}

// NotifyConfig holds settings for the internal platform API used for
// platform-user checks and SMS delivery.
type NotifyConfig struct {
	// Base URL of the internal API
	BaseURL string `mapstructure:"base_url"`

	// Path of the platform user check endpoint
	UserCheckPath string `mapstructure:"user_check_path"`

	// Path of the SMS send endpoint
	SMSSendPath string `mapstructure:"sms_send_path"`

	// Static token sent in the X-Internal-Token header
	Token string `mapstructure:"token"`

	// App id sent with platform user checks
	AppID string `mapstructure:"app_id"`

	// Upper bound for each downstream call
	Timeout time.Duration `mapstructure:"timeout"`

	// SMS token bucket
	SMSRatePerSec float64 `mapstructure:"sms_rate_per_sec"`
	SMSBurst      int     `mapstructure:"sms_burst"`
}

// ExecutionsConfig holds execution ledger settings.
type ExecutionsConfig struct {
	// Default age used by `nudge purge` when --older-than is not given
	PurgeAfter time.Duration `mapstructure:"purge_after"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// UserCheckURL returns the full platform user check URL.
func (n *NotifyConfig) UserCheckURL() string {
	return n.BaseURL + n.UserCheckPath
}

// SMSSendURL returns the full SMS send URL.
func (n *NotifyConfig) SMSSendURL() string {
	return n.BaseURL + n.SMSSendPath
}
