package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost           = "localhost"
	DefaultPort           = 8090
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultIdleTimeout    = 120 * time.Second
	DefaultMaxBodySize    = 1024 * 1024 // 1MB
	DefaultRateLimitRPS   = 10.0
	DefaultRateLimitBurst = 20

	// Database defaults.
	DefaultDBPath       = "nudge.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Auth defaults.
	DefaultJWTIssuer = "nudge"
	DefaultAccessTTL = time.Hour
	DefaultTenant    = "default"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Scheduler defaults.
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
	DefaultWorkers      = 8
	DefaultTimezone     = "UTC"

	// Notify defaults.
	DefaultNotifyBaseURL = "http://localhost:8080"
	DefaultUserCheckPath = "/internal/user/check"
	DefaultSMSSendPath   = "/internal/sms/send"
	DefaultAppID         = "default"
	DefaultNotifyTimeout = 3 * time.Second
	DefaultSMSRate       = 5.0
	DefaultSMSBurst      = 5

	// Executions defaults.
	DefaultPurgeAfter = 30 * 24 * time.Hour
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerSec: DefaultRateLimitRPS,
				Burst:          DefaultRateLimitBurst,
			},
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Issuer:    DefaultJWTIssuer,
				AccessTTL: DefaultAccessTTL,
			},
			DefaultTenant:  DefaultTenant,
			AllowAnonymous: false,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: DefaultPollInterval,
			BatchSize:    DefaultBatchSize,
			Workers:      DefaultWorkers,
			Timezone:     DefaultTimezone,
		},
		Notify: NotifyConfig{
			BaseURL:       DefaultNotifyBaseURL,
			UserCheckPath: DefaultUserCheckPath,
			SMSSendPath:   DefaultSMSSendPath,
			AppID:         DefaultAppID,
			Timeout:       DefaultNotifyTimeout,
			SMSRatePerSec: DefaultSMSRate,
			SMSBurst:      DefaultSMSBurst,
		},
		Executions: ExecutionsConfig{
			PurgeAfter: DefaultPurgeAfter,
		},
	}
}
