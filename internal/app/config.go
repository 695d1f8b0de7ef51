package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the authcore service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is
	// honoured. Empty means the client IP is always the peer address.
	TrustedProxies  []string        `mapstructure:"trusted_proxies"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client and route on the public auth endpoints.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string            `mapstructure:"driver"`
	Path            string            `mapstructure:"path"`
	DSN             string            `mapstructure:"dsn"`
	Postgres        DBAuthConfig      `mapstructure:"postgres"`
	MySQL           DBAuthConfig      `mapstructure:"mysql"`
	Options         map[string]string `mapstructure:"options"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT          JWTSettings      `mapstructure:"jwt"`
	Password     PasswordSettings `mapstructure:"password"`
	Tokens       TokenSettings    `mapstructure:"tokens"`
	DefaultRoles []string         `mapstructure:"default_roles"`
	OIDC         OIDCSettings     `mapstructure:"oidc"`
}

// JWTSettings configures session tokens.
type JWTSettings struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// PasswordSettings selects the hashing algorithm and password policy.
type PasswordSettings struct {
	Algorithm     string         `mapstructure:"algorithm"`
	BcryptCost    int            `mapstructure:"bcrypt_cost"`
	MinLength     int            `mapstructure:"min_length"`
	MaxConcurrent int            `mapstructure:"max_concurrent"`
	Argon2        Argon2Settings `mapstructure:"argon2"`
}

// Argon2Settings carries argon2id cost factors.
type Argon2Settings struct {
	Time      uint32 `mapstructure:"time"`
	MemoryKiB uint32 `mapstructure:"memory_kib"`
	Threads   uint8  `mapstructure:"threads"`
	KeyLength uint32 `mapstructure:"key_length"`
}

// TokenSettings configures action token lifetimes.
type TokenSettings struct {
	VerifyEmailTTL   time.Duration `mapstructure:"verify_email_ttl"`
	ResetPasswordTTL time.Duration `mapstructure:"reset_password_ttl"`
}

// OIDCSettings configures the optional OpenID Connect login.
type OIDCSettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	Name         string        `mapstructure:"name"`
	Issuer       string        `mapstructure:"issuer"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	Scopes       []string      `mapstructure:"scopes"`
	StateKey     string        `mapstructure:"state_key"`
	StateTTL     time.Duration `mapstructure:"state_ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	AppName string      `mapstructure:"app_name"`
	SMTP    SMTPConfig  `mapstructure:"smtp"`
	Links   LinksConfig `mapstructure:"links"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LinksConfig holds the front-end URLs that action tokens are appended to.
type LinksConfig struct {
	VerifyEmailURL   string `mapstructure:"verify_email_url"`
	ResetPasswordURL string `mapstructure:"reset_password_url"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	TokenPurgeSchedule string        `mapstructure:"token_purge_schedule"`
	ConsumedRetention  time.Duration `mapstructure:"consumed_retention"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	// Every key has a default so AutomaticEnv can override it during Unmarshal.
	setDefaults(v)

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 20)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/authcore.sqlite")
	v.SetDefault("database.dsn", "")
	for _, driver := range []string{"postgres", "mysql"} {
		v.SetDefault("database."+driver+".host", "")
		v.SetDefault("database."+driver+".port", 0)
		v.SetDefault("database."+driver+".database", "")
		v.SetDefault("database."+driver+".username", "")
		v.SetDefault("database."+driver+".password", "")
	}
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "authcore")
	v.SetDefault("auth.jwt.session_ttl", "24h")
	v.SetDefault("auth.password.algorithm", "bcrypt")
	v.SetDefault("auth.password.bcrypt_cost", 12)
	v.SetDefault("auth.password.min_length", 8)
	v.SetDefault("auth.password.max_concurrent", 0)
	v.SetDefault("auth.password.argon2.time", 2)
	v.SetDefault("auth.password.argon2.memory_kib", 64*1024)
	v.SetDefault("auth.password.argon2.threads", 4)
	v.SetDefault("auth.password.argon2.key_length", 32)
	v.SetDefault("auth.tokens.verify_email_ttl", "24h")
	v.SetDefault("auth.tokens.reset_password_ttl", "1h")
	v.SetDefault("auth.default_roles", []string{"user"})

	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.name", "oidc")
	v.SetDefault("auth.oidc.issuer", "")
	v.SetDefault("auth.oidc.client_id", "")
	v.SetDefault("auth.oidc.client_secret", "")
	v.SetDefault("auth.oidc.redirect_url", "")
	v.SetDefault("auth.oidc.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("auth.oidc.state_key", "")
	v.SetDefault("auth.oidc.state_ttl", "10m")
	v.SetDefault("auth.oidc.timeout", "10s")
	v.SetDefault("auth.oidc.secure_cookie", true)

	v.SetDefault("email.app_name", "authcore")
	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", false)
	v.SetDefault("email.smtp.timeout", "10s")
	v.SetDefault("email.links.verify_email_url", "http://localhost:8000/api/auth/verify-email")
	v.SetDefault("email.links.reset_password_url", "http://localhost:3000/reset-password")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.token_purge_schedule", "@daily")
	v.SetDefault("maintenance.consumed_retention", "0s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
