package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authcore/internal/database/testutil"
	apperrors "github.com/charlesng35/authcore/pkg/errors"
)

func newStore(t *testing.T) *CredentialStore {
	t.Helper()
	store, err := NewCredentialStore(testutil.MustOpenTestDB(t, testutil.WithSeedData()))
	require.NoError(t, err)
	return store
}

func hashPtr(v string) *string {
	return &v
}

func TestNewCredentialStoreRequiresDB(t *testing.T) {
	_, err := NewCredentialStore(nil)
	require.EqualError(t, err, "credential store: db is required")
}

func TestCreateUserNormalizesAndFinds(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, NewUser{
		Email:        "  Ada@Example.COM ",
		PasswordHash: hashPtr("$2a$04$hash"),
		FirstName:    " Ada ",
		LastName:     "Lovelace",
		Roles:        []string{"user", "User"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, "Ada", user.FirstName)
	require.Equal(t, []string{"user"}, user.RoleNames())
	require.False(t, user.IsEmailVerified)

	byEmail, err := store.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, byEmail.ID)
	require.True(t, byEmail.HasPassword())

	byID, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", byID.Email)
	require.Equal(t, []string{"user"}, byID.RoleNames())
}

func TestCreateUserEmailCollisionIgnoresCaseAndWhitespace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, NewUser{Email: "a@x.com", PasswordHash: hashPtr("h1"), FirstName: "A", LastName: "B", Roles: []string{"user"}})
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, NewUser{Email: " A@X.com ", PasswordHash: hashPtr("h2"), FirstName: "C", LastName: "D", Roles: []string{"user"}})
	require.ErrorIs(t, err, ErrEmailTaken)
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCreateUserRequiresExactlyOneCredential(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, NewUser{Email: "a@x.com", FirstName: "A", LastName: "B", Roles: []string{"user"}})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = store.CreateUser(ctx, NewUser{
		Email:        "a@x.com",
		PasswordHash: hashPtr("h"),
		External:     &ExternalIdentity{Provider: "oidc", Subject: "sub"},
		FirstName:    "A",
		LastName:     "B",
		Roles:        []string{"user"},
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCreateUserValidatesFields(t *testing.T) {
	store := newStore(t)

	_, err := store.CreateUser(context.Background(), NewUser{PasswordHash: hashPtr("h")})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Contains(t, appErr.Details, "email is required")
	require.Contains(t, appErr.Details, "first name is required")
	require.Contains(t, appErr.Details, "at least one role is required")
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	store := newStore(t)

	_, err := store.CreateUser(context.Background(), NewUser{
		Email:        "a@x.com",
		PasswordHash: hashPtr("h"),
		FirstName:    "A",
		LastName:     "B",
		Roles:        []string{"user", "superuser"},
	})
	require.ErrorIs(t, err, ErrUnknownRole)
	require.ErrorContains(t, err, "superuser")

	_, err = store.FindByEmail(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestExternalIdentityAccounts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, NewUser{
		Email:         "ext@x.com",
		FirstName:     "Ext",
		LastName:      "User",
		Roles:         []string{"user"},
		External:      &ExternalIdentity{Provider: "OIDC", Subject: "sub-1"},
		EmailVerified: true,
	})
	require.NoError(t, err)
	require.False(t, user.HasPassword())
	require.True(t, user.HasExternalIdentity())
	require.True(t, user.IsEmailVerified)

	found, err := store.FindByExternalIdentity(ctx, "oidc", "sub-1")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)
	require.Nil(t, found.PasswordHash)

	_, err = store.FindByExternalIdentity(ctx, "oidc", "sub-2")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = store.CreateUser(ctx, NewUser{
		Email:     "other@x.com",
		FirstName: "O",
		LastName:  "U",
		Roles:     []string{"user"},
		External:  &ExternalIdentity{Provider: "oidc", Subject: "sub-1"},
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestCredentialStoreUpdates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, NewUser{Email: "a@x.com", PasswordHash: hashPtr("old"), FirstName: "A", LastName: "B", Roles: []string{"user"}})
	require.NoError(t, err)

	require.NoError(t, store.SetPasswordHash(ctx, user.ID, "new"))
	require.Error(t, store.SetPasswordHash(ctx, user.ID, ""))

	require.NoError(t, store.MarkEmailVerified(ctx, user.ID))
	require.NoError(t, store.MarkEmailVerified(ctx, user.ID))

	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, store.RecordLogin(ctx, user.ID, at))

	reloaded, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "new", *reloaded.PasswordHash)
	require.True(t, reloaded.IsEmailVerified)
	require.NotNil(t, reloaded.LastLoginAt)
	require.True(t, reloaded.LastLoginAt.Equal(at))

	require.ErrorIs(t, store.SetPasswordHash(ctx, "missing", "x"), ErrUserNotFound)
	require.ErrorIs(t, store.MarkEmailVerified(ctx, "missing"), ErrUserNotFound)
	require.ErrorIs(t, store.RecordLogin(ctx, "", at), ErrUserNotFound)
}

func TestCredentialStoreRoles(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, "admin", roles[0].Name)
	require.Equal(t, "user", roles[1].Name)

	require.NoError(t, store.EnsureRoles(ctx, []string{"admin", " USER "}))
	require.ErrorIs(t, store.EnsureRoles(ctx, []string{"ghost"}), ErrUnknownRole)
}
