package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	preset := BaseModel{ID: "fixed"}
	require.NoError(t, preset.BeforeCreate(nil))
	require.Equal(t, "fixed", preset.ID)
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"user", func() *BaseModel { return &(&User{}).BaseModel }},
		{"role", func() *BaseModel { return &(&Role{}).BaseModel }},
		{"action_token", func() *BaseModel { return &(&ActionToken{}).BaseModel }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			require.NoError(t, model.BeforeCreate(nil))
			require.NotEmpty(t, model.ID)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "a@x.com", NormalizeEmail("  A@X.com\t"))
	require.Equal(t, "", NormalizeEmail("   "))
}

func TestUserCredentialKinds(t *testing.T) {
	hash := "$2a$10$abc"
	local := &User{PasswordHash: &hash}
	require.True(t, local.HasPassword())
	require.False(t, local.HasExternalIdentity())

	provider, subject := "oidc", "sub-1"
	external := &User{ExternalProvider: &provider, ExternalSubject: &subject}
	require.False(t, external.HasPassword())
	require.True(t, external.HasExternalIdentity())

	empty := ""
	require.False(t, (&User{PasswordHash: &empty}).HasPassword())
	require.False(t, (*User)(nil).HasPassword())
}

func TestRoleHasPermission(t *testing.T) {
	admin := &Role{Permissions: []string{"*"}}
	user := &Role{Permissions: []string{"profile.view"}}

	require.True(t, admin.HasPermission("anything"))
	require.True(t, user.HasPermission("profile.view"))
	require.False(t, user.HasPermission("profile.delete"))
}

func TestTokenPurposeAndConsumable(t *testing.T) {
	require.True(t, PurposeVerifyEmail.Valid())
	require.True(t, PurposeResetPassword.Valid())
	require.False(t, TokenPurpose("login").Valid())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := &ActionToken{ExpiresAt: now.Add(time.Minute)}
	require.True(t, token.Consumable(now))
	require.False(t, token.Consumable(now.Add(time.Minute)))

	token.ConsumedAt = &now
	require.False(t, token.Consumable(now))
}
