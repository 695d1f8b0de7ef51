package models

import "time"

// TokenPurpose identifies the single state transition an action token authorises.
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify-email"
	PurposeResetPassword TokenPurpose = "reset-password"
)

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposeVerifyEmail, PurposeResetPassword:
		return true
	default:
		return false
	}
}

// ActionToken is a persisted single-use token. Only the SHA-256 digest of the
// raw value is stored.
type ActionToken struct {
	BaseModel

	UserID     string       `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Purpose    TokenPurpose `gorm:"type:varchar(32);not null;index" json:"purpose"`
	TokenHash  string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time    `gorm:"index;not null" json:"expires_at"`
	ConsumedAt *time.Time   `gorm:"index" json:"consumed_at"`
}

// Consumable reports whether the token may still be redeemed at now.
func (t *ActionToken) Consumable(now time.Time) bool {
	return t != nil && t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}
