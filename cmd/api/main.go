package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/config"
	"github.com/suPer8Hu/chat-agents/internal/db"
	"github.com/suPer8Hu/chat-agents/internal/httpapi"
	"github.com/suPer8Hu/chat-agents/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", "error", err)
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit", "error", err)
	}
	defer pub.Close()

	bus, err := push.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal("redis", "error", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// worker events reach this process's SSE clients through redis
	hub := push.NewHub(log)
	if err := bus.Forward(ctx, hub.Deliver); err != nil {
		log.Fatal("redis forward", "error", err)
	}
	if err := bus.OnComplete(ctx, func(c push.Completion) {
		log.Debug("ai response complete", "room_id", c.ChatroomID, "message_id", c.MessageID, "total_tokens", c.TotalTokens)
	}); err != nil {
		log.Fatal("redis completion subscribe", "error", err)
	}

	h := handlers.NewHandler(chat.NewRepo(gdb), pub, hub, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg.CORSAllowedOrigins, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
}
