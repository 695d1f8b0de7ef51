package models

import "gorm.io/datatypes"

// Role is a named bundle of capability strings referenced by users.
type Role struct {
	BaseModel

	Name        string                      `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Description string                      `json:"description"`
	IsSystem    bool                        `gorm:"default:false" json:"is_system"`
	Permissions datatypes.JSONSlice[string] `gorm:"type:json" json:"permissions"`
}

// HasPermission reports whether the role grants the capability. "*" grants all.
func (r *Role) HasPermission(permission string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Permissions {
		if p == "*" || p == permission {
			return true
		}
	}
	return false
}
