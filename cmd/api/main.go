package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/ai"
	"github.com/tianyan-ai/chat-backend/internal/auth"
	"github.com/tianyan-ai/chat-backend/internal/chat"
	"github.com/tianyan-ai/chat-backend/internal/config"
	"github.com/tianyan-ai/chat-backend/internal/db"
	"github.com/tianyan-ai/chat-backend/internal/httpapi"
	"github.com/tianyan-ai/chat-backend/internal/logger"
	"github.com/tianyan-ai/chat-backend/internal/session"
	"github.com/tianyan-ai/chat-backend/internal/sms"
	"github.com/tianyan-ai/chat-backend/internal/token"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if err := logger.Init(cfg.LogLevel); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.L()
	log.Info("starting tianyan chat backend", zap.String("addr", cfg.Addr))

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	log.Info("database migrated")

	// live sessions live in redis; fall back to process memory when it
	// is unreachable (development convenience, sessions won't survive a
	// restart)
	var live chat.SessionStore
	rstore := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rstore.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, using in-memory sessions", zap.Error(err))
		live = session.NewMemoryStore()
	} else {
		live = rstore
	}
	cancel()

	// verification-code dispatch: rabbit when available, log otherwise
	var sender auth.Sender
	if pub, err := sms.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Warn("rabbitmq unreachable, codes will be logged directly", zap.Error(err))
		sender = sms.LogSender{}
	} else {
		defer pub.Close()
		sender = pub
	}

	counter := token.NewCounter()
	budget := chat.NewBudget(counter)
	store := chat.NewStore(gdb, budget)
	gateway := ai.NewGateway(cfg.APIBase, cfg.APIKey, cfg.ChatModel, cfg.VisionModel, counter)

	authSvc := auth.NewService(gdb, sender)
	chatSvc := chat.NewService(store, budget, gateway, live)

	router := httpapi.NewRouter(gdb, cfg, authSvc, chatSvc, store)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
