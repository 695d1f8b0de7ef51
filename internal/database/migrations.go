package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/models"
)

// RoleSeed describes a role created on first start.
type RoleSeed struct {
	Name        string
	Description string
	Permissions []string
}

// DefaultRoles are inserted by SeedData when absent. Existing rows are left
// untouched so operators can edit permissions without them being reset.
var DefaultRoles = []RoleSeed{
	{
		Name:        "user",
		Description: "Standard user access",
		Permissions: []string{"profile.view", "profile.update"},
	},
	{
		Name:        "admin",
		Description: "Full system access",
		Permissions: []string{"*"},
	},
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.ActionToken{},
	)
}

// SeedData populates the default roles. Safe to call on every start.
func SeedData(db *gorm.DB) error {
	for _, seed := range DefaultRoles {
		role := models.Role{
			Name:        seed.Name,
			Description: seed.Description,
			IsSystem:    true,
			Permissions: append([]string(nil), seed.Permissions...),
		}
		if err := db.Where(models.Role{Name: seed.Name}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", seed.Name, err)
		}
	}
	return nil
}
