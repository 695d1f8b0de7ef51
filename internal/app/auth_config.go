package app

import (
	"strings"

	"github.com/charlesng35/authcore/internal/auth"
	"github.com/charlesng35/authcore/internal/auth/providers"
	"github.com/charlesng35/authcore/internal/database"
	"github.com/charlesng35/authcore/internal/services"
	"github.com/charlesng35/authcore/pkg/crypto"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.SessionTTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}

	return auth.JWTConfig{
		Secret:     c.JWT.Secret,
		Issuer:     c.JWT.Issuer,
		SessionTTL: ttl,
	}
}

// HasherConfig converts PasswordSettings into the hasher configuration. Zero
// argon2 fields fall back to crypto.DefaultArgon2Params.
func (c AuthConfig) HasherConfig() auth.HasherConfig {
	params := crypto.DefaultArgon2Params()
	if c.Password.Argon2.Time > 0 {
		params.Time = c.Password.Argon2.Time
	}
	if c.Password.Argon2.MemoryKiB > 0 {
		params.Memory = c.Password.Argon2.MemoryKiB
	}
	if c.Password.Argon2.Threads > 0 {
		params.Threads = c.Password.Argon2.Threads
	}
	if c.Password.Argon2.KeyLength > 0 {
		params.KeyLength = c.Password.Argon2.KeyLength
	}

	return auth.HasherConfig{
		Algorithm:     c.Password.Algorithm,
		BcryptCost:    c.Password.BcryptCost,
		Argon2:        params,
		MaxConcurrent: c.Password.MaxConcurrent,
	}
}

// FlowConfig converts AuthConfig into the auth flow settings.
func (c AuthConfig) FlowConfig() services.FlowConfig {
	roles := make([]string, 0, len(c.DefaultRoles))
	for _, role := range c.DefaultRoles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	return services.FlowConfig{
		DefaultRoles:      roles,
		VerifyEmailTTL:    c.Tokens.VerifyEmailTTL,
		ResetPasswordTTL:  c.Tokens.ResetPasswordTTL,
		MinPasswordLength: c.Password.MinLength,
	}
}

// OIDCProviderConfig converts OIDCSettings into the provider configuration.
func (c AuthConfig) OIDCProviderConfig() (providers.OIDCConfig, providers.OIDCOptions) {
	cfg := providers.OIDCConfig{
		Name:         c.OIDC.Name,
		Issuer:       c.OIDC.Issuer,
		ClientID:     c.OIDC.ClientID,
		ClientSecret: c.OIDC.ClientSecret,
		RedirectURL:  c.OIDC.RedirectURL,
		Scopes:       c.OIDC.Scopes,
	}
	return cfg, providers.OIDCOptions{Timeout: c.OIDC.Timeout}
}

// ConnectionConfig converts DatabaseConfig into database.Config, picking the
// host credentials that match the driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver:          c.Driver,
		Path:            c.Path,
		DSN:             c.DSN,
		Options:         c.Options,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}

	var creds DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		creds = c.Postgres
	case "mysql", "mariadb":
		creds = c.MySQL
	}
	cfg.Host = creds.Host
	cfg.Port = creds.Port
	cfg.Name = creds.Database
	cfg.User = creds.Username
	cfg.Password = creds.Password

	return cfg
}
