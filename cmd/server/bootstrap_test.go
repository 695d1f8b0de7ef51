package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/authcore/internal/app"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "authcore.sqlite")
	cfg.Auth.JWT.Secret = strings.Repeat("s", 48)
	cfg.Auth.Password.BcryptCost = 4
	return cfg
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Cleaner)
	require.NotNil(t, stack.RateStore)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "token_purge")

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBootstrapRuntimeRejectsUnknownDefaultRole(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.DefaultRoles = []string{"ghost"}

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}

func TestEnsureSecretsPresent(t *testing.T) {
	require.Error(t, ensureSecretsPresent(nil))

	cfg := &app.Config{}
	cfg.Auth.JWT.Secret = "short"
	require.Error(t, ensureSecretsPresent(cfg))

	cfg.Auth.JWT.Secret = strings.Repeat("a", 32)
	require.NoError(t, ensureSecretsPresent(cfg))

	cfg.Auth.OIDC.Enabled = true
	cfg.Auth.OIDC.StateKey = cfg.Auth.JWT.Secret
	require.Error(t, ensureSecretsPresent(cfg))

	cfg.Auth.OIDC.StateKey = strings.Repeat("b", 32)
	require.NoError(t, ensureSecretsPresent(cfg))
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
