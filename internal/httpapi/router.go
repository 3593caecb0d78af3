package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tianyan-ai/chat-backend/internal/auth"
	"github.com/tianyan-ai/chat-backend/internal/chat"
	"github.com/tianyan-ai/chat-backend/internal/common"
	"github.com/tianyan-ai/chat-backend/internal/config"
	"github.com/tianyan-ai/chat-backend/internal/httpapi/handlers"
	"github.com/tianyan-ai/chat-backend/internal/httpapi/middleware"
)

func NewRouter(db *gorm.DB, cfg config.Config, authSvc *auth.Service, chatSvc *chat.Service, store *chat.Store) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(cors.Default())

	r.NoRoute(func(c *gin.Context) {
		common.FailStatus(c, http.StatusNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.FailStatus(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, authSvc, chatSvc, store)

	r.GET("/ping", h.Ping)
	r.Static("/static", "./static")

	r.POST("/login", h.Login)
	r.POST("/register", h.Register)
	r.POST("/send-code", h.SendCode)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/logout", h.Logout)
	authGroup.POST("/chat", h.Chat)
	authGroup.POST("/upload-image", h.UploadImage)
	authGroup.POST("/clear-history", h.ClearHistory)
	authGroup.GET("/get-history", h.GetHistory)
	authGroup.GET("/chat-histories", h.ListHistories)
	authGroup.GET("/chat-history/:id", h.GetHistoryChat)
	authGroup.PUT("/chat-history/:id/title", h.RenameHistory)
	authGroup.DELETE("/chat-history/:id", h.DeleteHistory)
	authGroup.POST("/new-chat", h.NewChat)

	return r
}
