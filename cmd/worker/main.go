package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/billing"
	"github.com/suPer8Hu/chat-agents/internal/config"
	"github.com/suPer8Hu/chat-agents/internal/db"
	"github.com/suPer8Hu/chat-agents/internal/dispatch"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-agents/internal/streamer"
	"github.com/suPer8Hu/chat-agents/internal/worker"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := ai.DefaultRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatal("ai provider", "provider", cfg.AIProvider, "error", err)
	}
	model := cfg.OpenAIModel
	switch cfg.AIProvider {
	case "ollama":
		model = cfg.OllamaModel
	case "openrouter":
		model = cfg.OpenRouterModel
	}

	bus, err := push.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal("redis", "error", err)
	}
	defer bus.Close()

	handler := worker.NewPipeline(gdb, worker.PipelineConfig{
		LLM: agent.LLM{
			Completer:   completer,
			Provider:    cfg.AIProvider,
			Model:       model,
			MaxTokens:   cfg.MaxOutputTokens,
			Temperature: cfg.Temperature,
		},
		Pricing:        billing.Pricing{PerKInput: cfg.PricePer1kIn, PerKOutput: cfg.PricePer1kOut},
		MaxPromptChars: cfg.MaxPromptChars,
		SummaryWindow:  cfg.SummaryWindowSize,
		Retry:          streamer.DefaultRetryPolicy(),
		JobStaleAfter:  cfg.JobStaleAfter,
	}, bus, bus, log)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, log)
	if err != nil {
		log.Fatal("rabbit", "error", err)
	}
	defer consumer.Close()

	pool := dispatch.NewPool(context.WithoutCancel(ctx), cfg.WorkerConcurrency, cfg.WorkerConcurrency*2, func(r any, stack []byte) {
		log.Error("turn panicked", "panic", r, "stack", string(stack))
	}, log)

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", cfg.WorkerConcurrency, "provider", cfg.AIProvider, "model", model)

	err = consumer.Run(ctx, pool, func(ctx context.Context, m rabbitmq.JobMessage) error {
		err := handler.Handle(ctx, m.JobID)
		if errors.Is(err, worker.ErrSkipped) {
			log.Info("job already taken", "job_id", m.JobID)
			return nil
		}
		return err
	})
	if err != nil {
		log.Error("consumer stopped", "error", err)
	}

	log.Info("worker shutting down, draining in-flight turns")
	pool.Close()
}
