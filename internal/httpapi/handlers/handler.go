package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tianyan-ai/chat-backend/internal/auth"
	"github.com/tianyan-ai/chat-backend/internal/chat"
	"github.com/tianyan-ai/chat-backend/internal/common"
	"github.com/tianyan-ai/chat-backend/internal/config"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	AuthSvc *auth.Service
	ChatSvc *chat.Service
	Store   *chat.Store
}

func NewHandler(db *gorm.DB, cfg config.Config, authSvc *auth.Service, chatSvc *chat.Service, store *chat.Store) *Handler {
	return &Handler{DB: db, Cfg: cfg, AuthSvc: authSvc, ChatSvc: chatSvc, Store: store}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

// failFrom maps a service error onto the envelope: denials surface their
// message, anything else is a 500 carrying the underlying message.
func failFrom(c *gin.Context, err error) {
	var denial *auth.Denial
	if errors.As(err, &denial) {
		common.Fail(c, denial.Message)
		return
	}
	common.FailStatus(c, http.StatusInternalServerError, "服务器内部错误: "+err.Error())
}
