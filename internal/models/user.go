package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// User is a credential identity record. PasswordHash is nil for accounts that
// authenticate through an external identity provider.
type User struct {
	BaseModel

	Email        string  `gorm:"size:254;uniqueIndex;not null" json:"email"`
	PasswordHash *string `json:"-"`

	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `gorm:"not null" json:"last_name"`

	IsEmailVerified bool                        `gorm:"default:false;not null" json:"is_email_verified"`
	Roles           datatypes.JSONSlice[string] `gorm:"type:json;not null" json:"roles"`

	ExternalProvider *string `gorm:"size:64;uniqueIndex:idx_users_external_identity" json:"external_provider,omitempty"`
	ExternalSubject  *string `gorm:"size:255;uniqueIndex:idx_users_external_identity" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
}

// HasPassword reports whether the account can authenticate with a local password.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasExternalIdentity reports whether the account is bound to an external provider.
func (u *User) HasExternalIdentity() bool {
	return u != nil &&
		u.ExternalProvider != nil && strings.TrimSpace(*u.ExternalProvider) != "" &&
		u.ExternalSubject != nil && strings.TrimSpace(*u.ExternalSubject) != ""
}

// RoleNames returns a copy of the ordered role references.
func (u *User) RoleNames() []string {
	if u == nil || len(u.Roles) == 0 {
		return nil
	}
	return append([]string(nil), u.Roles...)
}

// NormalizeEmail trims surrounding whitespace and lowercases the address. The
// result is the uniqueness key for users.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
