package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/chat"
	"github.com/tianyan-ai/chat-backend/internal/common"
	"github.com/tianyan-ai/chat-backend/internal/httpapi/middleware"
	"github.com/tianyan-ai/chat-backend/internal/imagex"
	"github.com/tianyan-ai/chat-backend/internal/logger"
)

type chatReq struct {
	Message   string `json:"message" form:"message"`
	ChatID    uint64 `json:"chat_id,string" form:"chat_id"`
	ImagePath string `json:"image_path" form:"image_path"`
}

// bindChat accepts the JSON body or the multipart/form shape used when a
// message references an uploaded image.
func bindChat(c *gin.Context) (chatReq, bool) {
	var req chatReq
	if strings.HasPrefix(c.ContentType(), "application/json") {
		type jsonReq struct {
			Message string `json:"message"`
			ChatID  any    `json:"chat_id"`
		}
		var jr jsonReq
		if err := c.ShouldBindJSON(&jr); err != nil {
			return req, false
		}
		req.Message = jr.Message
		switch v := jr.ChatID.(type) {
		case float64:
			req.ChatID = uint64(v)
		case string:
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				req.ChatID = n
			}
		}
		return req, true
	}

	req.Message = c.PostForm("message")
	req.ImagePath = c.PostForm("image_path")
	if v := c.PostForm("chat_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			req.ChatID = n
		}
	}
	return req, true
}

func (h *Handler) Chat(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.FailStatus(c, http.StatusUnauthorized, "请先登录")
		return
	}

	req, ok := bindChat(c)
	if !ok {
		common.FailStatus(c, http.StatusBadRequest, "请求格式错误")
		return
	}
	if req.Message == "" && req.ImagePath == "" {
		common.FailStatus(c, http.StatusBadRequest, "消息不能为空")
		return
	}

	in := chat.TurnInput{
		UserID: uid,
		ChatID: req.ChatID,
		Text:   req.Message,
	}

	if req.ImagePath != "" {
		path := strings.TrimPrefix(req.ImagePath, "/")
		if !strings.HasPrefix(path, "static/") {
			common.FailStatus(c, http.StatusBadRequest, "无效的图片路径")
			return
		}
		abs := filepath.Join(".", filepath.Clean(path))
		if _, err := os.Stat(abs); err != nil {
			common.FailStatus(c, http.StatusNotFound, "图片文件不存在: "+path+"，请重新上传")
			return
		}
		encoded, err := imagex.EncodeFile(abs)
		if err != nil {
			logger.L().Error("image encode failed", zap.String("path", abs), zap.Error(err))
			common.FailStatus(c, http.StatusInternalServerError, "处理图像时出错: "+err.Error())
			return
		}
		in.Image = encoded
	}

	res, err := h.ChatSvc.Turn(c.Request.Context(), in)
	if err != nil {
		failFrom(c, err)
		return
	}

	body := gin.H{
		"response": res.Reply,
		"token_count": gin.H{
			"user_tokens":      res.TokenCount.UserTokens,
			"assistant_tokens": res.TokenCount.AssistantTokens,
			"session_total":    res.TokenCount.Total,
		},
		"token_limit_reached": res.LimitReached,
		"chat_id":             res.ChatID,
	}
	if res.LimitReached {
		body["system_message"] = res.SystemMessage
		body["new_chat_id"] = res.NewChatID
	}
	common.OK(c, body)
}

func (h *Handler) GetHistory(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.FailStatus(c, http.StatusUnauthorized, "请先登录")
		return
	}

	messages, tc, err := h.ChatSvc.CurrentHistory(c.Request.Context(), uid)
	if err != nil {
		failFrom(c, err)
		return
	}
	common.OK(c, gin.H{
		"messages": messages,
		"token_count": gin.H{
			"user_tokens":      tc.UserTokens,
			"assistant_tokens": tc.AssistantTokens,
			"total":            tc.Total,
			"limit":            chat.UserMaxTokens,
		},
	})
}

func (h *Handler) ClearHistory(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.FailStatus(c, http.StatusUnauthorized, "请先登录")
		return
	}
	if err := h.ChatSvc.ClearSession(c.Request.Context(), uid); err != nil {
		failFrom(c, err)
		return
	}
	common.OKMsg(c, "会话历史已清除", nil)
}
