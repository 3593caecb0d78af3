package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/auth"
	"github.com/tianyan-ai/chat-backend/internal/common"
	"github.com/tianyan-ai/chat-backend/internal/httpapi/middleware"
	"github.com/tianyan-ai/chat-backend/internal/logger"
	"github.com/tianyan-ai/chat-backend/internal/models"
)

type loginReq struct {
	// Username carries either the username or the phone number.
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, "请求格式错误")
		return
	}

	user, err := h.AuthSvc.Login(c.Request.Context(), req.Username, req.Password, req.Code)
	if err != nil {
		failFrom(c, err)
		return
	}

	token, err := auth.SignJWT(user.ID, user.Username, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		failFrom(c, err)
		return
	}

	// bring the latest conversation back into the live session
	h.ChatSvc.RestoreSession(c.Request.Context(), user.ID)

	logger.L().Info("user logged in",
		zap.Uint64("user_id", user.ID), zap.String("username", user.Username))
	common.OK(c, gin.H{
		"token":    token,
		"username": user.Username,
	})
}

type registerReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Code     string `json:"code"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, "请求格式错误")
		return
	}

	_, err := h.AuthSvc.Register(c.Request.Context(), req.Username, req.Password, req.Phone, req.Email, req.Code)
	if err != nil {
		failFrom(c, err)
		return
	}
	common.OKMsg(c, "注册成功", nil)
}

type sendCodeReq struct {
	Phone string `json:"phone" binding:"required"`
	Type  string `json:"type"`
}

func (h *Handler) SendCode(c *gin.Context) {
	var req sendCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, "请输入有效的手机号码")
		return
	}
	codeType := models.CodeType(req.Type)
	switch codeType {
	case models.CodeLogin, models.CodeRegister, models.CodeReset:
	case "":
		codeType = models.CodeLogin
	default:
		common.Fail(c, "不支持的验证码类型")
		return
	}

	code, err := h.AuthSvc.SendCode(c.Request.Context(), req.Phone, codeType)
	if err != nil {
		failFrom(c, err)
		return
	}

	// debug_code is kept for test clients; a production rollout should
	// drop it once real SMS delivery is in place
	common.OKMsg(c, "验证码已发送", gin.H{"debug_code": code})
}

func (h *Handler) Logout(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, "请先登录")
		return
	}

	// persist the live conversation before dropping it
	h.ChatSvc.FlushSession(c.Request.Context(), uid)
	if err := h.ChatSvc.ClearSession(c.Request.Context(), uid); err != nil {
		logger.L().Warn("session clear failed", zap.Uint64("user_id", uid), zap.Error(err))
	}
	common.OKMsg(c, "已退出登录", nil)
}
