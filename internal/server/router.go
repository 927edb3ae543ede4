package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"erp-session-core/internal/auth"
	"erp-session-core/internal/handler"
	"erp-session-core/internal/middleware"
	"erp-session-core/internal/store"
)

type Deps struct {
	Store        *store.Store
	TokenConfig  auth.TokenConfig
	LoginLimiter *middleware.RateLimiter
	Logger       *zap.Logger
}

// NewRouter serves the auth surface the client core talks to.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig}

	r.POST("/auth/login", middleware.RateLimitMiddleware(deps.LoginLimiter), authHandler.Login)

	protected := r.Group("/auth")
	protected.Use(middleware.RequireAuth(deps.TokenConfig, deps.Store))
	protected.GET("/validate", authHandler.Validate)
	protected.POST("/logout", authHandler.Logout)
	protected.POST("/refresh", authHandler.Refresh)

	return r
}
