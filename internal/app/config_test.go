package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authcore/internal/auth"
	"github.com/charlesng35/authcore/internal/auth/providers"
	"github.com/charlesng35/authcore/internal/database"
	"github.com/charlesng35/authcore/pkg/crypto"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	require.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	require.True(t, cfg.Server.RateLimit.Enabled)
	require.Equal(t, 5, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "require", cfg.Database.Options["sslmode"])

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 12*time.Hour, cfg.Auth.JWT.SessionTTL)
	require.Equal(t, "argon2id", cfg.Auth.Password.Algorithm)
	require.Equal(t, 10, cfg.Auth.Password.MinLength)
	require.Equal(t, uint32(3), cfg.Auth.Password.Argon2.Time)
	require.Equal(t, uint32(32768), cfg.Auth.Password.Argon2.MemoryKiB)
	require.Equal(t, 48*time.Hour, cfg.Auth.Tokens.VerifyEmailTTL)
	require.Equal(t, 30*time.Minute, cfg.Auth.Tokens.ResetPasswordTTL)
	require.Equal(t, []string{"member"}, cfg.Auth.DefaultRoles)

	require.True(t, cfg.Auth.OIDC.Enabled)
	require.Equal(t, "oidc", cfg.Auth.OIDC.Name)
	require.Equal(t, []string{"openid", "email", "profile"}, cfg.Auth.OIDC.Scopes)
	require.Equal(t, 10*time.Minute, cfg.Auth.OIDC.StateTTL)

	require.Equal(t, "Example Accounts", cfg.Email.AppName)
	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)
	require.Equal(t, "https://app.example.com/reset", cfg.Email.Links.ResetPasswordURL)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@every 6h", cfg.Maintenance.TokenPurgeSchedule)
	require.Equal(t, 24*time.Hour, cfg.Maintenance.ConsumedRetention)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Empty(t, cfg.Server.TrustedProxies)
	require.Equal(t, "bcrypt", cfg.Auth.Password.Algorithm)
	require.Equal(t, 24*time.Hour, cfg.Auth.JWT.SessionTTL)
	require.Equal(t, time.Hour, cfg.Auth.Tokens.ResetPasswordTTL)
	require.Equal(t, []string{"user"}, cfg.Auth.DefaultRoles)
	require.False(t, cfg.Auth.OIDC.Enabled)
	require.Equal(t, "@daily", cfg.Maintenance.TokenPurgeSchedule)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("AUTHCORE_SERVER_PORT", "7070")
	t.Setenv("AUTHCORE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("AUTHCORE_AUTH_TOKENS_RESET_PASSWORD_TTL", "15m")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "from-env", cfg.Auth.JWT.Secret)
	require.Equal(t, 15*time.Minute, cfg.Auth.Tokens.ResetPasswordTTL)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{
		JWT: JWTSettings{
			Secret:     "secret",
			Issuer:     "issuer",
			SessionTTL: 30 * time.Minute,
		},
		Password: PasswordSettings{
			Algorithm:     "argon2id",
			MinLength:     12,
			MaxConcurrent: 2,
			Argon2:        Argon2Settings{Time: 3},
		},
		Tokens: TokenSettings{
			VerifyEmailTTL:   2 * time.Hour,
			ResetPasswordTTL: 20 * time.Minute,
		},
		DefaultRoles: []string{" user ", ""},
		OIDC: OIDCSettings{
			Name:     "corp",
			Issuer:   "https://login.example.com",
			ClientID: "client",
			Scopes:   []string{"openid"},
			Timeout:  5 * time.Second,
		},
	}

	require.Equal(t, auth.JWTConfig{
		Secret:     "secret",
		Issuer:     "issuer",
		SessionTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	hasherCfg := cfg.HasherConfig()
	require.Equal(t, "argon2id", hasherCfg.Algorithm)
	require.Equal(t, 2, hasherCfg.MaxConcurrent)
	require.Equal(t, uint32(3), hasherCfg.Argon2.Time)
	require.Equal(t, crypto.DefaultArgon2Params().Memory, hasherCfg.Argon2.Memory)

	flowCfg := cfg.FlowConfig()
	require.Equal(t, []string{"user"}, flowCfg.DefaultRoles)
	require.Equal(t, 12, flowCfg.MinPasswordLength)
	require.Equal(t, 2*time.Hour, flowCfg.VerifyEmailTTL)
	require.Equal(t, 20*time.Minute, flowCfg.ResetPasswordTTL)

	oidcCfg, oidcOpts := cfg.OIDCProviderConfig()
	require.Equal(t, providers.OIDCConfig{
		Name:     "corp",
		Issuer:   "https://login.example.com",
		ClientID: "client",
		Scopes:   []string{"openid"},
	}, oidcCfg)
	require.Equal(t, 5*time.Second, oidcOpts.Timeout)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	require.Equal(t, auth.DefaultSessionTTL, cfg.JWTServiceConfig().SessionTTL)
	require.Equal(t, crypto.DefaultArgon2Params(), cfg.HasherConfig().Argon2)
	require.Empty(t, cfg.FlowConfig().DefaultRoles)
}

func TestDatabaseConnectionConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "mysql",
		MySQL: DBAuthConfig{
			Host:     "mysql.internal",
			Port:     3307,
			Database: "accounts",
			Username: "svc",
			Password: "pw",
		},
		Postgres:     DBAuthConfig{Host: "ignored"},
		MaxOpenConns: 10,
	}

	require.Equal(t, database.Config{
		Driver:       "mysql",
		Host:         "mysql.internal",
		Port:         3307,
		Name:         "accounts",
		User:         "svc",
		Password:     "pw",
		MaxOpenConns: 10,
	}, cfg.ConnectionConfig())
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
		Links: LinksConfig{
			VerifyEmailURL:   "https://app.example.com/verify",
			ResetPasswordURL: "https://app.example.com/reset",
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)

	links := cfg.DeliveryLinks()
	require.Equal(t, "https://app.example.com/verify", links.VerifyEmailURL)
	require.Equal(t, "https://app.example.com/reset", links.ResetPasswordURL)
}
