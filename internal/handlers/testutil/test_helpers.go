package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/api"
	"github.com/charlesng35/authcore/internal/app"
	iauth "github.com/charlesng35/authcore/internal/auth"
	sharedtestutil "github.com/charlesng35/authcore/internal/database/testutil"
	"github.com/charlesng35/authcore/internal/handlers"
	"github.com/charlesng35/authcore/internal/services"
	"github.com/charlesng35/authcore/pkg/mail"
	"github.com/charlesng35/authcore/pkg/response"
)

const (
	verifyLinkBase = "https://app.example.com/verify"
	resetLinkBase  = "https://app.example.com/reset"
)

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Flow   *services.AuthFlowService
	Mailer *mail.MemoryMailer
	Config *app.Config

	mu      sync.Mutex
	current time.Time
}

// EnvOption customises the environment before the router is built.
type EnvOption func(*envSetup)

type envSetup struct {
	cfg  *app.Config
	oidc func(env *Env) *handlers.OIDCHandler
}

// WithConfig mutates the router configuration.
func WithConfig(fn func(cfg *app.Config)) EnvOption {
	return func(s *envSetup) { fn(s.cfg) }
}

// WithOIDC installs an OIDC handler built from the environment.
func WithOIDC(build func(env *Env) *handlers.OIDCHandler) EnvOption {
	return func(s *envSetup) { s.oidc = build }
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	env := &Env{
		T:       t,
		DB:      sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData()),
		Mailer:  mail.NewMemoryMailer(),
		current: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	setup := &envSetup{cfg: &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret:     "test-suite-super-secret-key-32-bytes!!",
				Issuer:     "test-suite",
				SessionTTL: time.Hour,
			},
		},
		Email: app.EmailConfig{
			Links: app.LinksConfig{
				VerifyEmailURL:   verifyLinkBase,
				ResetPasswordURL: resetLinkBase,
			},
		},
	}}
	for _, opt := range opts {
		opt(setup)
	}
	env.Config = setup.cfg

	jwtCfg := setup.cfg.Auth.JWTServiceConfig()
	jwtCfg.Clock = env.Now
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	require.NoError(t, err)
	env.JWT = jwtSvc

	store, err := services.NewCredentialStore(env.DB)
	require.NoError(t, err)
	tokens, err := iauth.NewActionTokenService(env.DB, iauth.WithActionTokenClock(env.Now))
	require.NoError(t, err)
	delivery, err := services.NewMailDelivery(env.Mailer, setup.cfg.Email.DeliveryLinks(), "Test Suite")
	require.NoError(t, err)

	env.Flow, err = services.NewAuthFlowService(
		store,
		iauth.NewBcryptHasher(bcrypt.MinCost),
		jwtSvc,
		tokens,
		delivery,
		setup.cfg.Auth.FlowConfig(),
		services.WithFlowClock(env.Now),
	)
	require.NoError(t, err)

	deps := api.Dependencies{
		DB:       env.DB,
		Config:   setup.cfg,
		Flow:     env.Flow,
		Sessions: jwtSvc,
	}
	if setup.oidc != nil {
		deps.OIDC = setup.oidc(env)
	}

	env.Router, err = api.NewRouter(deps)
	require.NoError(t, err)

	return env
}

// Now returns the environment clock.
func (e *Env) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Advance moves the environment clock forward.
func (e *Env) Advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = e.current.Add(d)
}

// UserPayload captures the user fields returned from auth endpoints.
type UserPayload struct {
	ID              string   `json:"id"`
	Email           string   `json:"email"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	IsEmailVerified bool     `json:"is_email_verified"`
	Roles           []string `json:"roles"`
	HasPassword     bool     `json:"has_password"`
}

// SessionResult bundles the JSON response from register and login.
type SessionResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserPayload `json:"user"`
}

// Register creates an account through the API and returns the issued session.
func (e *Env) Register(email, password string) SessionResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":      email,
		"password":   password,
		"first_name": "Ada",
		"last_name":  "Lovelace",
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result SessionResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// Login authenticates with email and password and returns the issued session.
func (e *Env) Login(email, password string) SessionResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result SessionResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// LastToken returns the token from the newest message sent to email whose
// link starts with the base URL for the purpose ("verify" or "reset").
func (e *Env) LastToken(email, kind string) string {
	e.T.Helper()

	base := verifyLinkBase
	if kind == "reset" {
		base = resetLinkBase
	}

	messages := e.Mailer.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if len(msg.To) == 0 || msg.To[0] != email || !strings.Contains(msg.Body, base) {
			continue
		}
		match := tokenPattern.FindStringSubmatch(msg.Body)
		require.Len(e.T, match, 2, msg.Body)
		return match[1]
	}
	e.T.Fatalf("no %s message for %s", kind, email)
	return ""
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
