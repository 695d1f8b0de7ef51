package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/authcore/pkg/crypto"
)

const (
	jwtSecretBytes = 48
	stateKeyBytes  = 32
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
// Generated secrets live only for the process lifetime, so sessions do not survive a restart.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if cfg.Auth.OIDC.Enabled && strings.TrimSpace(cfg.Auth.OIDC.StateKey) == "" {
		key, err := crypto.GenerateToken(stateKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate oidc state key: %w", err)
		}
		cfg.Auth.OIDC.StateKey = key
		generated["auth.oidc.state_key"] = true
	}

	return generated, nil
}
