package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whisper/backend/internal/auth"
)

// AuthHandler 处理登录相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAuthHandler 创建登录处理器
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

// requestOTPRequest website 是蜜罐字段，真实用户不会填写
type requestOTPRequest struct {
	Email   string `json:"email"`
	Website string `json:"website"`
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// RequestOTP 请求登录验证码
// @Summary 请求登录验证码
// @Description 向邮箱发送一次性验证码，投递结果不会反馈给调用方
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body requestOTPRequest true "邮箱"
// @Success 200 {object} map[string]bool "ok"
// @Failure 400 {object} errorResponse "邮箱格式错误"
// @Failure 429 {object} errorResponse "请求过于频繁"
// @Router /auth/request-otp [post]
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req requestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid email"})
		return
	}

	err := h.authService.RequestCode(c.Request.Context(), auth.RequestCodeInput{
		Email:    req.Email,
		Honeypot: req.Website,
		IP:       c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Verify 兑换验证码并签发会话令牌
// @Summary 兑换验证码
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body verifyRequest true "邮箱和验证码"
// @Success 200 {object} map[string]string "token"
// @Failure 400 {object} errorResponse "验证码错误或已过期"
// @Router /auth/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid payload"})
		return
	}

	session, err := h.authService.Verify(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": session.Token})
}

// Me 返回当前身份
// @Summary 当前身份
// @Tags 认证
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]string "email"
// @Failure 401 {object} errorResponse "未登录"
// @Router /api/me [get]
func (h *AuthHandler) Me(c *gin.Context, principal *auth.Principal) {
	c.JSON(http.StatusOK, gin.H{"email": principal.Email})
}
