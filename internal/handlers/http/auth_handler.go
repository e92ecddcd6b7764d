package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"liveorch/internal/core/services"
	"liveorch/pkg/config"
	"liveorch/pkg/errors"
	"liveorch/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService services.AuthService
	operators   map[string]config.OperatorCredential
	accessTTL   time.Duration
	logger      *zap.SugaredLogger
}

func NewAuthHandler(
	authService services.AuthService,
	operators map[string]config.OperatorCredential,
	accessTTL time.Duration,
	logger *zap.SugaredLogger,
) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		operators:   operators,
		accessTTL:   accessTTL,
		logger:      logger,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
		api.POST("/refresh", h.RefreshToken)
	}
}

type LoginRequest struct {
	OperatorID string `json:"operator_id" binding:"required,max=64"`
	APIKey     string `json:"api_key" binding:"required,max=256"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.OperatorID = strings.TrimSpace(req.OperatorID)
	if err := validation.ValidateOperatorID(req.OperatorID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	op, ok := h.operators[req.OperatorID]
	if !ok || subtle.ConstantTimeCompare([]byte(op.APIKey), []byte(req.APIKey)) != 1 {
		h.logger.Warnw("operator login rejected", "operator_id", req.OperatorID)
		c.Error(errors.NewUnauthorizedError("invalid operator credentials"))
		return
	}
	role := services.OperatorRole(op.Role)

	accessToken, err := h.authService.GenerateToken(req.OperatorID, role)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken(req.OperatorID, role)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate refresh token", http.StatusInternalServerError))
		return
	}

	h.logger.Infow("operator logged in", "operator_id", req.OperatorID, "role", role)
	c.JSON(http.StatusOK, gin.H{
		"operator_id":   req.OperatorID,
		"role":          role,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(h.accessTTL / time.Second),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.Error(errors.NewUnauthorizedError("invalid refresh token"))
		return
	}
	// a revoked operator cannot keep refreshing
	if _, ok := h.operators[claims.OperatorID]; !ok {
		c.Error(errors.NewUnauthorizedError("operator no longer exists"))
		return
	}

	accessToken, err := h.authService.GenerateToken(claims.OperatorID, claims.Role)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"expires_in":   int(h.accessTTL / time.Second),
	})
}
