package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/app"
	"github.com/charlesng35/authcore/internal/models"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check contains the result of a single audit verification. Messages never
// include secret values.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

const (
	minSecretBytes       = 32
	recommendedSecret    = 48
	maxRecommendedTTL    = 24 * time.Hour
	minRecommendedBcrypt = 10
	minArgon2MemoryKiB   = 19 * 1024
)

// AuditService evaluates the credential configuration and token storage.
type AuditService struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. A nil db skips the storage
// check with a warning.
func NewAuditService(db *gorm.DB, cfg *app.Config) *AuditService {
	return &AuditService{
		db:  db,
		cfg: cfg,
		now: time.Now,
	}
}

// WithClock overrides the clock used in results (primarily for testing).
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	var checks []Check
	if s.cfg == nil {
		checks = []Check{{
			ID:          "config_loaded",
			Status:      StatusFail,
			Message:     "Configuration not loaded.",
			Remediation: "Load configuration before running the security audit.",
		}}
	} else {
		checks = []Check{
			s.checkJWTSecret(),
			s.checkSessionTTL(),
			s.checkPasswordHashing(),
			s.checkMailTransport(),
			s.checkOIDCCookie(),
			s.checkTokenBacklog(ctx),
		}
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkJWTSecret() Check {
	length := len(strings.TrimSpace(s.cfg.Auth.JWT.Secret))

	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < minSecretBytes:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < recommendedSecret:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of AUTHCORE_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *AuditService) checkSessionTTL() Check {
	ttl := s.cfg.Auth.JWT.SessionTTL
	if ttl <= 0 {
		return Check{
			ID:          "session_ttl",
			Status:      StatusWarn,
			Message:     "Session TTL is not configured; using default duration.",
			Remediation: "Set AUTHCORE_AUTH_JWT_SESSION_TTL to control session lifetime.",
		}
	}

	if ttl > maxRecommendedTTL {
		return Check{
			ID:          "session_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Session TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedTTL),
			Remediation: "Sessions cannot be revoked before expiry; keep the TTL at 24h or lower.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}

	return Check{
		ID:      "session_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Session TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkPasswordHashing() Check {
	pw := s.cfg.Auth.Password

	switch strings.ToLower(strings.TrimSpace(pw.Algorithm)) {
	case "argon2id", "argon2":
		if pw.Argon2.MemoryKiB > 0 && pw.Argon2.MemoryKiB < minArgon2MemoryKiB {
			return Check{
				ID:          "password_hashing",
				Status:      StatusWarn,
				Message:     fmt.Sprintf("Argon2id memory cost is %d KiB.", pw.Argon2.MemoryKiB),
				Remediation: "Use at least 19456 KiB of memory for argon2id.",
			}
		}
		return Check{ID: "password_hashing", Status: StatusPass, Message: "Passwords hashed with argon2id."}
	default:
		if pw.BcryptCost > 0 && pw.BcryptCost < minRecommendedBcrypt {
			return Check{
				ID:          "password_hashing",
				Status:      StatusWarn,
				Message:     fmt.Sprintf("Bcrypt cost is %d.", pw.BcryptCost),
				Remediation: "Raise AUTHCORE_AUTH_PASSWORD_BCRYPT_COST to 10 or more.",
				Details:     map[string]any{"cost": pw.BcryptCost},
			}
		}
		return Check{ID: "password_hashing", Status: StatusPass, Message: "Passwords hashed with bcrypt."}
	}
}

func (s *AuditService) checkMailTransport() Check {
	smtp := s.cfg.Email.SMTP
	switch {
	case !smtp.Enabled:
		return Check{
			ID:          "mail_transport",
			Status:      StatusWarn,
			Message:     "SMTP is disabled; verification and reset links are not delivered.",
			Remediation: "Configure email.smtp to deliver action tokens.",
		}
	case !smtp.UseTLS && smtp.Port != 587:
		return Check{
			ID:          "mail_transport",
			Status:      StatusWarn,
			Message:     "SMTP connection may carry action tokens in clear text.",
			Remediation: "Enable email.smtp.use_tls or use a STARTTLS submission port.",
		}
	default:
		return Check{ID: "mail_transport", Status: StatusPass, Message: "SMTP delivery configured."}
	}
}

func (s *AuditService) checkOIDCCookie() Check {
	oidc := s.cfg.Auth.OIDC
	switch {
	case !oidc.Enabled:
		return Check{ID: "oidc_cookie", Status: StatusPass, Message: "OIDC login disabled."}
	case !oidc.SecureCookie:
		return Check{
			ID:          "oidc_cookie",
			Status:      StatusWarn,
			Message:     "OIDC verifier cookie is sent without the Secure flag.",
			Remediation: "Set auth.oidc.secure_cookie when serving over HTTPS.",
		}
	default:
		return Check{ID: "oidc_cookie", Status: StatusPass, Message: "OIDC verifier cookie is Secure."}
	}
}

func (s *AuditService) checkTokenBacklog(ctx context.Context) Check {
	if s.db == nil {
		return Check{
			ID:          "token_backlog",
			Status:      StatusWarn,
			Message:     "Database unavailable; unable to inspect action tokens.",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.ActionToken{}).
		Where("expires_at < ?", s.now()).
		Count(&count).Error; err != nil {
		return Check{
			ID:          "token_backlog",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not count expired action tokens: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	if count > 0 && !s.cfg.Maintenance.Enabled {
		return Check{
			ID:          "token_backlog",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("%d expired action tokens are retained and maintenance is disabled.", count),
			Remediation: "Enable maintenance to purge expired action tokens.",
			Details:     map[string]any{"expired": count},
		}
	}

	return Check{
		ID:      "token_backlog",
		Status:  StatusPass,
		Message: "Expired action tokens are purged.",
		Details: map[string]any{"expired": count},
	}
}
