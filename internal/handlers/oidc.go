package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	iauth "github.com/charlesng35/authcore/internal/auth"
	"github.com/charlesng35/authcore/internal/auth/providers"
	"github.com/charlesng35/authcore/internal/services"
	"github.com/charlesng35/authcore/pkg/crypto"
	"github.com/charlesng35/authcore/pkg/errors"
	"github.com/charlesng35/authcore/pkg/logger"
	"github.com/charlesng35/authcore/pkg/response"
)

const (
	oidcVerifierCookie = "authcore_oidc_verifier"
	oidcCookiePath     = "/api/auth/oidc"
	oidcCookieMaxAge   = 10 * time.Minute
)

// OIDCHandler runs the redirect-based external login.
type OIDCHandler struct {
	provider     providers.Provider
	flow         *services.AuthFlowService
	stateCodec   *iauth.StateCodec
	secureCookie bool
}

func NewOIDCHandler(provider providers.Provider, flow *services.AuthFlowService, codec *iauth.StateCodec, secureCookie bool) *OIDCHandler {
	return &OIDCHandler{provider: provider, flow: flow, stateCodec: codec, secureCookie: secureCookie}
}

// GET /api/auth/oidc/login
func (h *OIDCHandler) Begin(c *gin.Context) {
	verifier := oauth2.GenerateVerifier()
	nonce, err := crypto.GenerateToken(32)
	if err != nil {
		handleOIDCError(c, err)
		return
	}

	state, err := h.stateCodec.Encode(iauth.StatePayload{
		Provider:  h.provider.Name(),
		ReturnURL: sanitizeRedirect(c.Query("redirect"), ""),
		Nonce:     nonce,
		Binding:   crypto.HashToken(verifier),
	})
	if err != nil {
		handleOIDCError(c, err)
		return
	}

	redirect, err := h.provider.Begin(requestContext(c), providers.BeginAuthRequest{
		State:        state,
		Nonce:        nonce,
		PKCEVerifier: verifier,
		Prompt:       strings.TrimSpace(c.Query("prompt")),
	})
	if err != nil {
		handleOIDCError(c, err)
		return
	}

	h.setVerifierCookie(c, verifier, int(oidcCookieMaxAge.Seconds()))
	c.Redirect(http.StatusFound, redirect)
}

// GET /api/auth/oidc/callback
func (h *OIDCHandler) Callback(c *gin.Context) {
	payload, err := h.stateCodec.Decode(c.Query("state"))
	if err != nil || !strings.EqualFold(payload.Provider, h.provider.Name()) {
		logger.WithModule("oidc").Warn("rejected oidc state", zap.Error(err))
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	verifier, _ := c.Cookie(oidcVerifierCookie)
	h.setVerifierCookie(c, "", -1)
	if verifier == "" || !crypto.ConstantTimeEqual(crypto.HashToken(verifier), payload.Binding) {
		h.fail(c, payload.ReturnURL, errors.ErrUnauthorized)
		return
	}

	identity, err := h.provider.Callback(requestContext(c), providers.CallbackRequest{
		Code:          c.Query("code"),
		Error:         c.Query("error"),
		PKCEVerifier:  verifier,
		ExpectedNonce: payload.Nonce,
	})
	if err != nil {
		logger.WithModule("oidc").Warn("oidc callback failed", zap.String("provider", h.provider.Name()), zap.Error(err))
		h.fail(c, payload.ReturnURL, errors.ErrUnauthorized)
		return
	}

	result, err := h.flow.AuthenticateExternal(requestContext(c), services.ExternalProfile{
		Provider:      identity.Provider,
		Subject:       identity.Subject,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		FirstName:     identity.FirstName,
		LastName:      identity.LastName,
	})
	if err != nil {
		h.fail(c, payload.ReturnURL, err)
		return
	}

	if payload.ReturnURL == "" {
		response.Success(c, http.StatusOK, newSessionResponse(result))
		return
	}
	c.Redirect(http.StatusSeeOther, appendSession(payload.ReturnURL, result))
}

func (h *OIDCHandler) setVerifierCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oidcVerifierCookie, value, maxAge, oidcCookiePath, "", h.secureCookie, true)
}

func (h *OIDCHandler) fail(c *gin.Context, returnURL string, err error) {
	if returnURL == "" {
		response.Error(c, err)
		return
	}
	redirectWithError(c, returnURL, errors.FromError(err).Code)
}

// sanitizeRedirect accepts same-origin absolute paths only.
func sanitizeRedirect(input, fallback string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return fallback
	}

	if strings.ContainsAny(trimmed, "\r\n\\") {
		return fallback
	}

	if strings.HasPrefix(trimmed, "/") && !strings.HasPrefix(trimmed, "//") {
		return trimmed
	}

	return fallback
}

// appendSession places the session in the URL fragment so it is never sent
// back to a server or written to access logs.
func appendSession(redirect string, result *services.AuthResult) string {
	fragment := url.Values{}
	fragment.Set("token", result.SessionToken)
	fragment.Set("expires_at", result.ExpiresAt.UTC().Format(time.RFC3339))
	fragment.Set("user_id", result.User.ID)

	parsed, err := url.Parse(redirect)
	if err != nil {
		return "/"
	}
	parsed.Fragment = ""
	return parsed.String() + "#" + fragment.Encode()
}

func handleOIDCError(c *gin.Context, err error) {
	logger.WithModule("oidc").Error("oidc login failed", zap.Error(err))
	response.Error(c, errors.ErrInternalServer)
}

func redirectWithError(c *gin.Context, target, code string) {
	parsed, err := url.Parse(target)
	if err != nil {
		response.Error(c, errors.ErrBadRequest)
		return
	}

	q := parsed.Query()
	q.Set("error", strings.ToLower(code))
	parsed.RawQuery = q.Encode()
	c.Redirect(http.StatusSeeOther, parsed.String())
}
