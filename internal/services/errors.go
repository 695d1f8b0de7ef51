package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/authcore/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUnknownRole indicates a role reference that is not seeded.
	ErrUnknownRole = apperrors.New("UNKNOWN_ROLE", "Role does not exist", http.StatusInternalServerError)
	// ErrEmailTaken is returned when the normalized email is already registered.
	ErrEmailTaken = apperrors.ErrConflict
	// ErrInvalidCredentials covers unknown email, missing local password and
	// password mismatch alike.
	ErrInvalidCredentials = apperrors.ErrInvalidCredentials
	// ErrInvalidToken covers every action token rejection.
	ErrInvalidToken = apperrors.ErrInvalidToken
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	// sqlite reports "UNIQUE constraint failed: <table>.<column>".
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}
