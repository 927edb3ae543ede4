package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"erp-session-core/internal/auth"
	"erp-session-core/internal/middleware"
	"erp-session-core/internal/store"
)

type AuthHandler struct {
	Store       *store.Store
	TokenConfig auth.TokenConfig
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Email == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	account, ok := h.Store.Authenticate(body.Email, body.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := auth.CreateToken(account.Profile.ID, account.Email, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accessToken": token, "user": account.Profile})
}

func (h *AuthHandler) Validate(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	account, ok := h.Store.GetAccount(claims.UserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account no longer exists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "user": account.Profile})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	h.Store.Revoke(claims.ID, expiryMillis(claims))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Refresh issues a new token and revokes the presented one.
func (h *AuthHandler) Refresh(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	if _, ok := h.Store.GetAccount(claims.UserID); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account no longer exists"})
		return
	}

	token, err := auth.CreateToken(claims.UserID, claims.Email, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	h.Store.Revoke(claims.ID, expiryMillis(claims))
	c.JSON(http.StatusOK, gin.H{"accessToken": token})
}

func expiryMillis(claims *auth.Claims) int64 {
	if claims.ExpiresAt == nil {
		return time.Now().Add(24 * time.Hour).UnixMilli()
	}
	return claims.ExpiresAt.UnixMilli()
}
