package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tianyan-ai/chat-backend/internal/chat"
	"github.com/tianyan-ai/chat-backend/internal/common"
	"github.com/tianyan-ai/chat-backend/internal/httpapi/middleware"
	"github.com/tianyan-ai/chat-backend/internal/models"
)

func (h *Handler) ListHistories(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.FailStatus(c, http.StatusUnauthorized, "请先登录")
		return
	}

	histories, err := h.Store.List(c.Request.Context(), uid, 20)
	if err != nil {
		failFrom(c, err)
		return
	}
	common.OK(c, gin.H{"histories": histories})
}

// ownedHistory resolves the :id param and enforces ownership; it writes
// the failure response itself when returning nil.
func (h *Handler) ownedHistory(c *gin.Context) *models.ChatHistory {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.FailStatus(c, http.StatusUnauthorized, "请先登录")
		return nil
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.FailStatus(c, http.StatusBadRequest, "无效的聊天历史ID")
		return nil
	}

	history, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.FailStatus(c, http.StatusNotFound, "未找到聊天历史记录")
		} else {
			failFrom(c, err)
		}
		return nil
	}
	if history.UserID != uid {
		common.FailStatus(c, http.StatusForbidden, "无权访问此聊天历史记录")
		return nil
	}
	return history
}

func (h *Handler) GetHistoryChat(c *gin.Context) {
	history := h.ownedHistory(c)
	if history == nil {
		return
	}

	messages, tc, err := h.ChatSvc.LoadChat(c.Request.Context(), history.UserID, history.ID)
	if err != nil {
		if errors.Is(err, chat.ErrCorruptSession) {
			common.FailStatus(c, http.StatusInternalServerError, "解析会话数据失败")
			return
		}
		if errors.Is(err, chat.ErrNotFound) {
			common.FailStatus(c, http.StatusNotFound, "未找到会话数据")
			return
		}
		failFrom(c, err)
		return
	}

	common.OK(c, gin.H{
		"messages": messages,
		"history":  history,
		"token_count": gin.H{
			"user_tokens":      tc.UserTokens,
			"assistant_tokens": tc.AssistantTokens,
			"total":            tc.Total,
			"limit":            chat.UserMaxTokens,
		},
	})
}

type renameReq struct {
	Title string `json:"title"`
}

func (h *Handler) RenameHistory(c *gin.Context) {
	history := h.ownedHistory(c)
	if history == nil {
		return
	}

	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailStatus(c, http.StatusBadRequest, "缺少标题参数")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		common.FailStatus(c, http.StatusBadRequest, "标题不能为空")
		return
	}

	if err := h.Store.Rename(c.Request.Context(), history.ID, title); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.FailStatus(c, http.StatusInternalServerError, "更新标题失败")
			return
		}
		failFrom(c, err)
		return
	}
	common.OKMsg(c, "标题已更新", gin.H{
		"history_id": history.ID,
		"new_title":  title,
	})
}

func (h *Handler) DeleteHistory(c *gin.Context) {
	history := h.ownedHistory(c)
	if history == nil {
		return
	}

	if err := h.Store.SoftDelete(c.Request.Context(), history.ID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.FailStatus(c, http.StatusInternalServerError, "删除聊天历史记录失败")
			return
		}
		failFrom(c, err)
		return
	}
	common.OKMsg(c, "聊天历史记录已删除", gin.H{"history_id": history.ID})
}

type newChatReq struct {
	Title string `json:"title"`
}

func (h *Handler) NewChat(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.FailStatus(c, http.StatusUnauthorized, "请先登录")
		return
	}

	var req newChatReq
	_ = c.ShouldBindJSON(&req) // body is optional
	title := req.Title
	if title == "" {
		title = chat.NewChatTitle
	}

	// a new chat starts from an empty live session
	if err := h.ChatSvc.ClearSession(c.Request.Context(), uid); err != nil {
		failFrom(c, err)
		return
	}

	id, err := h.Store.Create(c.Request.Context(), uid, title, nil)
	if err != nil {
		failFrom(c, err)
		return
	}
	common.OKMsg(c, "新对话已创建", gin.H{
		"chat_id": id,
		"title":   title,
	})
}
