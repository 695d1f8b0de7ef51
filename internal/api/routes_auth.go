package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authcore/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler *handlers.AuthHandler
	OIDCHandler *handlers.OIDCHandler
	RequireAuth gin.HandlerFunc
	RateLimit   gin.HandlerFunc
}

func registerAuthRoutes(engine *gin.Engine, deps authRouteDeps) {
	auth := engine.Group("/api/auth")

	public := auth.Group("")
	if deps.RateLimit != nil {
		public.Use(deps.RateLimit)
	}
	{
		public.POST("/register", deps.AuthHandler.Register)
		public.POST("/login", deps.AuthHandler.Login)
		public.GET("/verify-email", deps.AuthHandler.VerifyEmailLink)
		public.GET("/verify-email/:token", deps.AuthHandler.VerifyEmailLink)
		public.POST("/verify-email", deps.AuthHandler.VerifyEmail)
		public.POST("/forgot-password", deps.AuthHandler.ForgotPassword)
		public.POST("/reset-password/:token", deps.AuthHandler.ResetPassword)
	}

	if deps.OIDCHandler != nil {
		public.GET("/oidc/login", deps.OIDCHandler.Begin)
		public.GET("/oidc/callback", deps.OIDCHandler.Callback)
	}

	protected := auth.Group("")
	protected.Use(deps.RequireAuth)
	{
		protected.GET("/me", deps.AuthHandler.Me)
		protected.POST("/change-password", deps.AuthHandler.ChangePassword)
		protected.POST("/verify-email/resend", deps.AuthHandler.ResendVerification)
	}
}
