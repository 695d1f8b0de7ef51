package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/charlesng35/authcore/internal/auth"
	"github.com/charlesng35/authcore/internal/models"
	apperrors "github.com/charlesng35/authcore/pkg/errors"
	"github.com/charlesng35/authcore/pkg/logger"
	"github.com/charlesng35/authcore/pkg/metrics"
	"github.com/charlesng35/authcore/pkg/validator"
)

const (
	defaultVerifyEmailTTL    = 24 * time.Hour
	defaultResetPasswordTTL  = time.Hour
	defaultMinPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

// FlowConfig tunes the auth flows.
type FlowConfig struct {
	DefaultRoles      []string
	VerifyEmailTTL    time.Duration
	ResetPasswordTTL  time.Duration
	MinPasswordLength int
}

// SessionTokens issues and validates bearer session tokens.
type SessionTokens interface {
	IssueSession(userID string, roles []string) (string, time.Time, error)
	ValidateSession(token string) (*auth.SessionIdentity, error)
}

// ActionTokens issues and redeems single-use tokens.
type ActionTokens interface {
	Issue(ctx context.Context, userID string, purpose models.TokenPurpose, ttl time.Duration) (string, error)
	Consume(ctx context.Context, value string, purpose models.TokenPurpose) (string, error)
	RevokeOutstanding(ctx context.Context, userID string, purpose models.TokenPurpose) (int64, error)
}

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"notblank,max=100"`
	LastName  string `json:"last_name" validate:"notblank,max=100"`
}

// LoginInput is the payload of a login.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned by the flows that start a session.
type AuthResult struct {
	User         *models.User
	SessionToken string
	ExpiresAt    time.Time
}

// FlowOption customises an AuthFlowService.
type FlowOption func(*AuthFlowService)

// WithFlowClock injects a custom time source.
func WithFlowClock(clock func() time.Time) FlowOption {
	return func(s *AuthFlowService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithFlowLogger overrides the logger.
func WithFlowLogger(log *zap.Logger) FlowOption {
	return func(s *AuthFlowService) {
		if log != nil {
			s.log = log
		}
	}
}

// AuthFlowService runs registration, login, email verification and password
// recovery over the credential store and token services.
type AuthFlowService struct {
	store    *CredentialStore
	hasher   auth.PasswordHasher
	sessions SessionTokens
	tokens   ActionTokens
	delivery TokenDelivery
	cfg      FlowConfig
	log      *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthFlowService wires the flow controller.
func NewAuthFlowService(store *CredentialStore, hasher auth.PasswordHasher, sessions SessionTokens, tokens ActionTokens, delivery TokenDelivery, cfg FlowConfig, opts ...FlowOption) (*AuthFlowService, error) {
	switch {
	case store == nil:
		return nil, errors.New("auth flow service: credential store is required")
	case hasher == nil:
		return nil, errors.New("auth flow service: password hasher is required")
	case sessions == nil:
		return nil, errors.New("auth flow service: session tokens are required")
	case tokens == nil:
		return nil, errors.New("auth flow service: action tokens are required")
	}

	if delivery == nil {
		delivery = NewLogDelivery(nil)
	}
	if len(cfg.DefaultRoles) == 0 {
		cfg.DefaultRoles = []string{"user"}
	}
	if cfg.VerifyEmailTTL <= 0 {
		cfg.VerifyEmailTTL = defaultVerifyEmailTTL
	}
	if cfg.ResetPasswordTTL <= 0 {
		cfg.ResetPasswordTTL = defaultResetPasswordTTL
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = defaultMinPasswordLength
	}

	svc := &AuthFlowService{
		store:    store,
		hasher:   hasher,
		sessions: sessions,
		tokens:   tokens,
		delivery: delivery,
		cfg:      cfg,
		log:      logger.WithModule("auth-flow"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a local account, sends a verification token and starts a session.
func (s *AuthFlowService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	input.Email = models.NormalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	reasons := structReasons(input)
	reasons = append(reasons, s.passwordReasons(input.Password)...)
	if len(reasons) > 0 {
		recordAttempt("register", "invalid")
		return nil, apperrors.NewValidation(dedupe(reasons)...)
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		recordAttempt("register", "error")
		return nil, fmt.Errorf("auth flow: register: hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, NewUser{
		Email:        input.Email,
		PasswordHash: &hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Roles:        s.cfg.DefaultRoles,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			recordAttempt("register", "conflict")
		} else {
			recordAttempt("register", "error")
		}
		return nil, err
	}

	s.sendToken(ctx, user, models.PurposeVerifyEmail, s.cfg.VerifyEmailTTL)

	result, err := s.startSession(user)
	if err != nil {
		recordAttempt("register", "error")
		return nil, err
	}

	recordAttempt("register", "success")
	s.log.Info("user registered", zap.String("user_id", user.ID))
	return result, nil
}

// Login authenticates an email and password pair.
func (s *AuthFlowService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.store.FindByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			recordAttempt("login", "error")
			return nil, err
		}
		// Keep the unknown path as slow as a real comparison.
		s.hasher.Verify(ctx, input.Password, s.dummy())
		recordAttempt("login", "invalid")
		return nil, ErrInvalidCredentials
	}

	if !user.HasPassword() {
		s.hasher.Verify(ctx, input.Password, s.dummy())
		recordAttempt("login", "invalid")
		return nil, ErrInvalidCredentials
	}
	if input.Password == "" || !s.hasher.Verify(ctx, input.Password, *user.PasswordHash) {
		recordAttempt("login", "invalid")
		return nil, ErrInvalidCredentials
	}

	result, err := s.completeLogin(ctx, user)
	if err != nil {
		recordAttempt("login", "error")
		return nil, err
	}

	recordAttempt("login", "success")
	return result, nil
}

// VerifyEmail redeems a verify-email token and marks the owner verified.
func (s *AuthFlowService) VerifyEmail(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)

	userID, err := s.consume(ctx, token, models.PurposeVerifyEmail)
	if err != nil {
		recordAttempt("verify_email", resultFor(err))
		return err
	}

	if err := s.store.MarkEmailVerified(ctx, userID); err != nil {
		recordAttempt("verify_email", "error")
		return fmt.Errorf("auth flow: verify email: %w", err)
	}

	recordAttempt("verify_email", "success")
	s.log.Info("email verified", zap.String("user_id", userID))
	return nil
}

// ForgotPassword issues a reset token when the email belongs to an account
// with a local password. The outcome is never reported to the caller.
func (s *AuthFlowService) ForgotPassword(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	user, err := s.store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		recordAttempt("forgot_password", "unknown")
		return nil
	case err != nil:
		recordAttempt("forgot_password", "error")
		s.log.Error("forgot password lookup failed", zap.Error(err))
		return nil
	case !user.HasPassword():
		recordAttempt("forgot_password", "external")
		return nil
	}

	if s.sendToken(ctx, user, models.PurposeResetPassword, s.cfg.ResetPasswordTTL) {
		recordAttempt("forgot_password", "success")
	} else {
		recordAttempt("forgot_password", "error")
	}
	return nil
}

// ResetPassword redeems a reset-password token and stores a new hash.
func (s *AuthFlowService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx = ensureContext(ctx)

	if reasons := s.passwordReasons(newPassword); len(reasons) > 0 {
		recordAttempt("reset_password", "invalid")
		return apperrors.NewValidation(reasons...)
	}

	userID, err := s.consume(ctx, token, models.PurposeResetPassword)
	if err != nil {
		recordAttempt("reset_password", resultFor(err))
		return err
	}

	if err := s.storePassword(ctx, userID, newPassword); err != nil {
		recordAttempt("reset_password", "error")
		return fmt.Errorf("auth flow: reset password: %w", err)
	}

	if _, err := s.tokens.RevokeOutstanding(ctx, userID, models.PurposeResetPassword); err != nil {
		s.log.Warn("revoke outstanding reset tokens failed", zap.String("user_id", userID), zap.Error(err))
	}

	recordAttempt("reset_password", "success")
	s.log.Info("password reset", zap.String("user_id", userID))
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one.
func (s *AuthFlowService) ChangePassword(ctx context.Context, userID, current, next string) error {
	ctx = ensureContext(ctx)

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		recordAttempt("change_password", resultFor(err))
		return err
	}
	if !user.HasPassword() || !s.hasher.Verify(ctx, current, *user.PasswordHash) {
		recordAttempt("change_password", "invalid")
		return ErrInvalidCredentials
	}

	if reasons := s.passwordReasons(next); len(reasons) > 0 {
		recordAttempt("change_password", "invalid")
		return apperrors.NewValidation(reasons...)
	}

	if err := s.storePassword(ctx, user.ID, next); err != nil {
		recordAttempt("change_password", "error")
		return fmt.Errorf("auth flow: change password: %w", err)
	}

	if _, err := s.tokens.RevokeOutstanding(ctx, user.ID, models.PurposeResetPassword); err != nil {
		s.log.Warn("revoke outstanding reset tokens failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	recordAttempt("change_password", "success")
	return nil
}

// ResendVerification issues a fresh verify-email token unless the account is
// already verified.
func (s *AuthFlowService) ResendVerification(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return nil
	}
	if !s.sendToken(ctx, user, models.PurposeVerifyEmail, s.cfg.VerifyEmailTTL) {
		return apperrors.ErrInternalServer
	}
	return nil
}

// AuthenticateExternal signs in the account bound to a provider identity,
// creating it on first use.
func (s *AuthFlowService) AuthenticateExternal(ctx context.Context, identity ExternalProfile) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.store.FindByExternalIdentity(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		if identity.EmailVerified && !user.IsEmailVerified {
			if err := s.store.MarkEmailVerified(ctx, user.ID); err != nil {
				s.log.Warn("mark external email verified failed", zap.String("user_id", user.ID), zap.Error(err))
			} else {
				user.IsEmailVerified = true
			}
		}
	case errors.Is(err, ErrUserNotFound):
		user, err = s.createExternal(ctx, identity)
		if err != nil {
			recordAttempt("external", resultFor(err))
			return nil, err
		}
	default:
		recordAttempt("external", "error")
		return nil, err
	}

	result, err := s.completeLogin(ctx, user)
	if err != nil {
		recordAttempt("external", "error")
		return nil, err
	}

	recordAttempt("external", "success")
	return result, nil
}

// CurrentUser resolves the account behind a session token. Every failure
// is reported as auth.ErrInvalidSession.
func (s *AuthFlowService) CurrentUser(ctx context.Context, sessionToken string) (*models.User, error) {
	identity, err := s.sessions.ValidateSession(sessionToken)
	if err != nil {
		return nil, auth.ErrInvalidSession
	}
	user, err := s.store.FindByID(ensureContext(ctx), identity.UserID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.log.Error("load session user failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
		return nil, auth.ErrInvalidSession
	}
	return user, nil
}

// ExternalProfile is the identity asserted by an external provider.
type ExternalProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

func (s *AuthFlowService) createExternal(ctx context.Context, identity ExternalProfile) (*models.User, error) {
	email := models.NormalizeEmail(identity.Email)
	if err := validator.ValidateVar("email", email, "required,email"); err != nil {
		return nil, apperrors.NewValidation(validationMessages(err)...)
	}

	firstName := strings.TrimSpace(identity.FirstName)
	if firstName == "" {
		firstName = strings.SplitN(email, "@", 2)[0]
	}
	lastName := strings.TrimSpace(identity.LastName)
	if lastName == "" {
		lastName = "-"
	}

	user, err := s.store.CreateUser(ctx, NewUser{
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Roles:     s.cfg.DefaultRoles,
		External: &ExternalIdentity{
			Provider: identity.Provider,
			Subject:  identity.Subject,
		},
		EmailVerified: identity.EmailVerified,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("external account created", zap.String("user_id", user.ID), zap.String("provider", identity.Provider))
	return user, nil
}

func (s *AuthFlowService) completeLogin(ctx context.Context, user *models.User) (*AuthResult, error) {
	at := s.now().UTC()
	if err := s.store.RecordLogin(ctx, user.ID, at); err != nil {
		return nil, fmt.Errorf("auth flow: record login: %w", err)
	}
	user.LastLoginAt = &at
	return s.startSession(user)
}

func (s *AuthFlowService) startSession(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := s.sessions.IssueSession(user.ID, user.RoleNames())
	if err != nil {
		return nil, fmt.Errorf("auth flow: issue session: %w", err)
	}
	return &AuthResult{User: user, SessionToken: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthFlowService) consume(ctx context.Context, token string, purpose models.TokenPurpose) (string, error) {
	userID, err := s.tokens.Consume(ctx, token, purpose)
	if errors.Is(err, auth.ErrInvalidToken) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("auth flow: consume %s token: %w", purpose, err)
	}
	return userID, nil
}

func (s *AuthFlowService) storePassword(ctx context.Context, userID, password string) error {
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}
	return s.store.SetPasswordHash(ctx, userID, hash)
}

// sendToken issues and delivers a token, logging failures. It reports
// whether the token was issued.
func (s *AuthFlowService) sendToken(ctx context.Context, user *models.User, purpose models.TokenPurpose, ttl time.Duration) bool {
	token, err := s.tokens.Issue(ctx, user.ID, purpose, ttl)
	if err != nil {
		s.log.Error("issue action token failed", zap.String("user_id", user.ID), zap.String("purpose", string(purpose)), zap.Error(err))
		return false
	}

	err = s.delivery.Send(ctx, Delivery{
		UserID:  user.ID,
		Email:   user.Email,
		Token:   token,
		Purpose: purpose,
	})
	if err != nil {
		s.log.Warn("deliver action token failed", zap.String("user_id", user.ID), zap.String("purpose", string(purpose)), zap.Error(err))
	}
	return true
}

func (s *AuthFlowService) passwordReasons(password string) []string {
	switch {
	case strings.TrimSpace(password) == "":
		return []string{"password is required"}
	case utf8.RuneCountInString(password) < s.cfg.MinPasswordLength:
		return []string{fmt.Sprintf("password must be at least %d characters", s.cfg.MinPasswordLength)}
	case len(password) > maxPasswordBytes:
		return []string{fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes)}
	}
	return nil
}

// dummy returns a hash used to equalise timing for unknown accounts.
func (s *AuthFlowService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(context.Background(), "authcore-timing-equaliser")
		if err != nil {
			s.log.Warn("compute timing hash failed", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func structReasons(input any) []string {
	err := validator.ValidateStruct(input)
	if err == nil {
		return nil
	}
	return validationMessages(err)
}

func validationMessages(err error) []string {
	var failures validator.ValidationErrors
	if errors.As(err, &failures) {
		return failures.Messages()
	}
	return []string{err.Error()}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, apperrors.ErrValidation):
		return "invalid"
	case errors.Is(err, ErrEmailTaken):
		return "conflict"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func recordAttempt(flow, result string) {
	metrics.AuthAttempts.WithLabelValues(flow, result).Inc()
}
