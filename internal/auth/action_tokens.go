package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/models"
	"github.com/charlesng35/authcore/pkg/crypto"
	"github.com/charlesng35/authcore/pkg/metrics"
)

// ActionTokenBytes is the number of random bytes in each action token value.
const ActionTokenBytes = 32

// ErrInvalidToken is returned when an action token is unknown, expired,
// already consumed, or issued for another purpose.
var ErrInvalidToken = errors.New("auth: invalid token")

// ActionTokenOption customises an ActionTokenService.
type ActionTokenOption func(*ActionTokenService)

// WithActionTokenClock overrides the time source used for expiry checks.
func WithActionTokenClock(clock func() time.Time) ActionTokenOption {
	return func(s *ActionTokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// ActionTokenService issues and redeems single-use tokens. Only the SHA-256
// digest of every value is persisted.
type ActionTokenService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewActionTokenService constructs the service.
func NewActionTokenService(db *gorm.DB, opts ...ActionTokenOption) (*ActionTokenService, error) {
	if db == nil {
		return nil, errors.New("action token service: db is required")
	}

	svc := &ActionTokenService{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue creates a token for userID that expires after ttl and returns its raw value.
func (s *ActionTokenService) Issue(ctx context.Context, userID string, purpose models.TokenPurpose, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("action token: user id is required")
	}
	if !purpose.Valid() {
		return "", fmt.Errorf("action token: unknown purpose %q", purpose)
	}
	if ttl <= 0 {
		return "", errors.New("action token: ttl must be positive")
	}

	value, err := crypto.GenerateToken(ActionTokenBytes)
	if err != nil {
		return "", fmt.Errorf("action token: generate: %w", err)
	}

	record := &models.ActionToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: crypto.HashToken(value),
		ExpiresAt: s.now().UTC().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", fmt.Errorf("action token: persist: %w", err)
	}

	metrics.ActionTokens.WithLabelValues(string(purpose), "issued").Inc()
	return value, nil
}

// Consume redeems value for purpose and returns the owning user id. The
// check and the mark happen in one conditional update, so concurrent calls
// with the same value succeed at most once.
func (s *ActionTokenService) Consume(ctx context.Context, value string, purpose models.TokenPurpose) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || !purpose.Valid() {
		metrics.ActionTokens.WithLabelValues(string(purpose), "rejected").Inc()
		return "", ErrInvalidToken
	}

	hash := crypto.HashToken(value)
	now := s.now().UTC()

	result := s.db.WithContext(ctx).
		Model(&models.ActionToken{}).
		Where("token_hash = ? AND purpose = ? AND consumed_at IS NULL AND expires_at > ?", hash, purpose, now).
		Update("consumed_at", now)
	if result.Error != nil {
		return "", fmt.Errorf("action token: consume: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		metrics.ActionTokens.WithLabelValues(string(purpose), "rejected").Inc()
		return "", ErrInvalidToken
	}

	var record models.ActionToken
	if err := s.db.WithContext(ctx).Select("user_id").Where("token_hash = ?", hash).First(&record).Error; err != nil {
		return "", fmt.Errorf("action token: load consumed token: %w", err)
	}

	metrics.ActionTokens.WithLabelValues(string(purpose), "consumed").Inc()
	return record.UserID, nil
}

// RevokeOutstanding marks every still-valid token of purpose for userID as
// consumed and returns how many were affected.
func (s *ActionTokenService) RevokeOutstanding(ctx context.Context, userID string, purpose models.TokenPurpose) (int64, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.ActionToken{}).
		Where("user_id = ? AND purpose = ? AND consumed_at IS NULL AND expires_at > ?", userID, purpose, now).
		Update("consumed_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("action token: revoke: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountActive returns the number of unexpired, unconsumed tokens of purpose
// held by userID.
func (s *ActionTokenService) CountActive(ctx context.Context, userID string, purpose models.TokenPurpose) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ActionToken{}).
		Where("user_id = ? AND purpose = ? AND consumed_at IS NULL AND expires_at > ?", userID, purpose, s.now().UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("action token: count: %w", err)
	}
	return count, nil
}
