package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authcore/internal/models"
)

func TestAutoMigrateCreatesCredentialTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	for _, table := range []interface{}{&models.User{}, &models.Role{}, &models.ActionToken{}} {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
	require.True(t, migrator.HasIndex(&models.ActionToken{}, "TokenHash"))
	require.True(t, migrator.HasIndex(&models.User{}, "idx_users_external_identity"))
}

func TestSeedDataIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrateAndSeed(db))

	var admin models.Role
	require.NoError(t, db.Where("name = ?", "admin").First(&admin).Error)
	admin.Description = "edited by operator"
	require.NoError(t, db.Save(&admin).Error)

	require.NoError(t, SeedData(db))

	var roles []models.Role
	require.NoError(t, db.Order("name").Find(&roles).Error)
	require.Len(t, roles, 2)
	require.Equal(t, "admin", roles[0].Name)
	require.Equal(t, "edited by operator", roles[0].Description)
	require.True(t, roles[0].HasPermission("anything"))
	require.Equal(t, "user", roles[1].Name)
	require.True(t, roles[1].HasPermission("profile.view"))
	require.False(t, roles[1].HasPermission("users.delete"))
}

func TestUserEmailIsUnique(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	first := models.User{Email: "a@example.com", PasswordHash: &hash, FirstName: "A", LastName: "B", Roles: []string{"user"}}
	require.NoError(t, db.Create(&first).Error)

	second := models.User{Email: "a@example.com", PasswordHash: &hash, FirstName: "C", LastName: "D", Roles: []string{"user"}}
	require.Error(t, db.Create(&second).Error)
}
