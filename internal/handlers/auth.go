package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/config"
	"github.com/huangang/testsentry/internal/middleware"
	"github.com/huangang/testsentry/internal/services"
	"github.com/huangang/testsentry/pkg/response"
	"gorm.io/gorm"
)

type AuthHandler struct {
	authService   *services.AuthService
	resetNotifier services.PasswordResetNotifier
	ldapEnabled   bool
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, resetNotifier services.PasswordResetNotifier) *AuthHandler {
	authService := services.NewAuthService(db, &cfg.LDAP, &cfg.JWT)
	return &AuthHandler{
		authService:   authService,
		resetNotifier: resetNotifier,
		ldapEnabled:   cfg.LDAP.Enabled,
	}
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(&req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Unauthorized(c, "invalid credentials")
		return
	}

	response.Success(c, gin.H{
		"access_token":      result.AccessToken,
		"access_expire_at":  result.AccessExpireAt,
		"refresh_token":     result.RefreshToken,
		"refresh_expire_at": result.RefreshExpireAt,
		"user":              result.User,
	})
}

// Register creates a new local account
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.Register(&req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Created(c, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh rotates a refresh token and issues a new access token
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Refresh(req.RefreshToken, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Unauthorized(c, "invalid refresh token")
		return
	}

	response.Success(c, gin.H{
		"access_token":      result.AccessToken,
		"access_expire_at":  result.AccessExpireAt,
		"refresh_token":     result.RefreshToken,
		"refresh_expire_at": result.RefreshExpireAt,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout revokes the presented refresh token
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.authService.RevokeRefreshToken(req.RefreshToken); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "logged out successfully"})
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}

	response.Success(c, user)
}

// GetAuthConfig returns authentication configuration
// GET /api/auth/config
func (h *AuthHandler) GetAuthConfig(c *gin.Context) {
	response.Success(c, gin.H{
		"ldap_enabled": h.ldapEnabled,
	})
}

// ChangePassword changes the current user's password
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.ChangePassword(middleware.GetUserID(c), &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "password changed"})
}

type requestPasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestPasswordReset issues a reset token for the given email. The
// response is identical whether or not the account exists.
// POST /api/auth/password-reset/request
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req requestPasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.RequestPasswordReset(req.Email, h.resetNotifier); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "if the account exists, a reset email has been sent"})
}

// ResetPassword consumes a reset token and sets the new password
// POST /api/auth/password-reset/confirm
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req services.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.ResetPassword(&req); err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "password has been reset"})
}

// CreateAdminIfNotExists creates the default admin user
func (h *AuthHandler) CreateAdminIfNotExists() error {
	return h.authService.CreateAdminIfNotExists()
}
