package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/models"
	apperrors "github.com/charlesng35/authcore/pkg/errors"
)

// ExternalIdentity binds an account to a subject at an identity provider.
type ExternalIdentity struct {
	Provider string
	Subject  string
}

// NewUser describes an account to insert. Exactly one of PasswordHash and
// External must be set.
type NewUser struct {
	Email         string
	PasswordHash  *string
	FirstName     string
	LastName      string
	Roles         []string
	External      *ExternalIdentity
	EmailVerified bool
}

// CredentialStore persists user identity records. It never hashes
// passwords; callers pass computed hashes.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(db *gorm.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, errors.New("credential store: db is required")
	}
	return &CredentialStore{db: db}, nil
}

// CreateUser inserts a new account after checking its shape and role references.
func (s *CredentialStore) CreateUser(ctx context.Context, input NewUser) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)

	var reasons []string
	if email == "" {
		reasons = append(reasons, "email is required")
	}
	if firstName == "" {
		reasons = append(reasons, "first name is required")
	}
	if lastName == "" {
		reasons = append(reasons, "last name is required")
	}

	hasPassword := input.PasswordHash != nil && *input.PasswordHash != ""
	hasExternal := input.External != nil &&
		strings.TrimSpace(input.External.Provider) != "" &&
		strings.TrimSpace(input.External.Subject) != ""
	if hasPassword == hasExternal {
		reasons = append(reasons, "account requires exactly one of a password or an external identity")
	}

	roles := normaliseNames(input.Roles)
	if len(roles) == 0 {
		reasons = append(reasons, "at least one role is required")
	}
	if len(reasons) > 0 {
		return nil, apperrors.NewValidation(reasons...)
	}

	user := &models.User{
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		IsEmailVerified: input.EmailVerified,
		Roles:           roles,
	}
	if hasPassword {
		hash := *input.PasswordHash
		user.PasswordHash = &hash
	} else {
		provider := strings.ToLower(strings.TrimSpace(input.External.Provider))
		subject := strings.TrimSpace(input.External.Subject)
		user.ExternalProvider = &provider
		user.ExternalSubject = &subject
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRoles(tx, roles); err != nil {
			return err
		}
		return tx.Create(user).Error
	})
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return nil, err
		}
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("credential store: create user: %w", err)
	}

	return user, nil
}

// FindByEmail loads a user by normalized email.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "email = ?", email)
}

// FindByID loads a user by primary key.
func (s *CredentialStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "id = ?", id)
}

// FindByExternalIdentity loads the account bound to provider and subject.
func (s *CredentialStore) FindByExternalIdentity(ctx context.Context, provider, subject string) (*models.User, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	subject = strings.TrimSpace(subject)
	if provider == "" || subject == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "external_provider = ? AND external_subject = ?", provider, subject)
}

// SetPasswordHash replaces the stored hash. It is the only write path for passwords.
func (s *CredentialStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	if hash == "" {
		return errors.New("credential store: password hash is required")
	}
	return s.updateUser(ctx, userID, "set password", map[string]any{"password_hash": hash})
}

// MarkEmailVerified flags the account as verified. Repeated calls are no-ops.
func (s *CredentialStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.updateUser(ctx, userID, "mark email verified", map[string]any{"is_email_verified": true})
}

// RecordLogin stores the time of the latest successful login.
func (s *CredentialStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, userID, "record login", map[string]any{"last_login_at": at.UTC()})
}

// EnsureRoles returns ErrUnknownRole when any name is not a seeded role.
func (s *CredentialStore) EnsureRoles(ctx context.Context, names []string) error {
	return ensureRoles(s.db.WithContext(ensureContext(ctx)), normaliseNames(names))
}

// ListRoles returns every role ordered by name.
func (s *CredentialStore) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ensureContext(ctx)).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("credential store: list roles: %w", err)
	}
	return roles, nil
}

func (s *CredentialStore) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ensureContext(ctx)).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credential store: find user: %w", err)
	}
	return &user, nil
}

func (s *CredentialStore) updateUser(ctx context.Context, userID, step string, updates map[string]any) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserNotFound
	}

	db := s.db.WithContext(ensureContext(ctx))
	result := db.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("credential store: %s: %w", step, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// MySQL reports only changed rows, so confirm the user exists.
	var count int64
	if err := db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("credential store: %s: %w", step, err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

func ensureRoles(tx *gorm.DB, names []string) error {
	if len(names) == 0 {
		return nil
	}

	var found []string
	if err := tx.Model(&models.Role{}).Where("name IN ?", names).Pluck("name", &found).Error; err != nil {
		return fmt.Errorf("credential store: load roles: %w", err)
	}
	if len(found) == len(names) {
		return nil
	}

	known := make(map[string]struct{}, len(found))
	for _, name := range found {
		known[name] = struct{}{}
	}
	var missing []string
	for _, name := range names {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRole, strings.Join(missing, ", "))
}

func normaliseNames(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
