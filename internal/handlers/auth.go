package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authcore/internal/middleware"
	"github.com/charlesng35/authcore/internal/models"
	"github.com/charlesng35/authcore/internal/services"
	"github.com/charlesng35/authcore/pkg/errors"
	"github.com/charlesng35/authcore/pkg/response"
)

// AuthHandler exposes the account lifecycle flows over HTTP.
type AuthHandler struct {
	flow *services.AuthFlowService
}

func NewAuthHandler(flow *services.AuthFlowService) *AuthHandler {
	return &AuthHandler{flow: flow}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      gin.H     `json:"user"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	result, err := h.flow.Register(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, newSessionResponse(result))
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.flow.Login(requestContext(c), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, newSessionResponse(result))
}

// GET /api/auth/verify-email/:token and GET /api/auth/verify-email?token=
func (h *AuthHandler) VerifyEmailLink(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		token = c.Query("token")
	}
	h.verifyEmail(c, token)
}

// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.verifyEmail(c, req.Token)
}

func (h *AuthHandler) verifyEmail(c *gin.Context, token string) {
	if err := h.flow.VerifyEmail(requestContext(c), strings.TrimSpace(token)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	// The outcome is identical whether or not the address is registered.
	_ = h.flow.ForgotPassword(requestContext(c), req.Email)
	response.Success(c, http.StatusOK, gin.H{
		"message": "If an account exists for that address, a reset link has been sent.",
	})
}

// POST /api/auth/reset-password/:token
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.flow.ResetPassword(requestContext(c), strings.TrimSpace(c.Param("token")), req.Password); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	token := c.GetString(middleware.CtxTokenKey)
	user, err := h.flow.CurrentUser(requestContext(c), token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.flow.ChangePassword(requestContext(c), userID, req.CurrentPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"changed": true})
}

// POST /api/auth/verify-email/resend
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.flow.ResendVerification(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

func newSessionResponse(result *services.AuthResult) sessionResponse {
	return sessionResponse{
		Token:     result.SessionToken,
		ExpiresAt: result.ExpiresAt.UTC(),
		User:      userPayload(result.User),
	}
}

func userPayload(user *models.User) gin.H {
	payload := gin.H{
		"id":                user.ID,
		"email":             user.Email,
		"first_name":        user.FirstName,
		"last_name":         user.LastName,
		"is_email_verified": user.IsEmailVerified,
		"roles":             user.RoleNames(),
		"has_password":      user.HasPassword(),
		"created_at":        user.CreatedAt,
		"last_login_at":     user.LastLoginAt,
	}
	if user.HasExternalIdentity() {
		payload["external_provider"] = *user.ExternalProvider
	}
	return payload
}
