// Package streamer is the single-agent reply path: one streamed completion
// with bounded retry, per-frame billing and a cross-process completion
// notification.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/billing"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/textutil"
)

type Prompter interface {
	SystemPrompt(ctx context.Context, roomID string) string
	MaxChars() int
}

type UsageRecorder interface {
	Record(ctx context.Context, u billing.Usage) (*billing.AiUsageEvent, error)
}

// RetryPolicy bounds retries of transient transport failures.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: time.Second, Multiplier: 2}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.InitialInterval << p.MaxRetries
	return b
}

type Deps struct {
	LLM      agent.LLM
	Prompts  Prompter
	Messages agent.MessageWriter
	Billing  UsageRecorder
	Pricing  billing.Pricing
	Pub      push.Publisher
	Notifier push.Notifier
	Retry    RetryPolicy
	Log      *logger.Logger
}

type Streamer struct {
	d   Deps
	log *logger.Logger
}

func New(d Deps) *Streamer {
	if d.Retry.MaxRetries <= 0 && d.Retry.InitialInterval <= 0 {
		d.Retry = DefaultRetryPolicy()
	}
	if d.Retry.Multiplier <= 0 {
		d.Retry.Multiplier = 2
	}
	return &Streamer{d: d, log: logger.OrNop(d.Log).With("component", "streamer")}
}

type attempt struct {
	text  string
	usage ai.Usage
}

// Stream answers msg. Only the final successful attempt is stored; when
// retries run out an ai_error is pushed and nothing is stored.
func (s *Streamer) Stream(ctx context.Context, userID uint64, msg *chat.Message) error {
	if msg == nil {
		return errors.New("streamer: nil message")
	}
	start := time.Now()
	defer func() {
		metrics.TurnDuration.WithLabelValues(string(chat.ModeSingle)).Observe(time.Since(start).Seconds())
	}()

	room := msg.ChatroomID
	requestID := uuid.NewString()
	log := s.log.With("room_id", room, "message_id", msg.ID, "request_id", requestID)

	maxChars := s.d.Prompts.MaxChars()
	req := ai.Request{
		SystemPrompt: s.d.Prompts.SystemPrompt(ctx, room),
		UserContent:  textutil.Truncate(msg.Content, maxChars),
		Model:        s.d.LLM.Model,
		MaxTokens:    s.d.LLM.MaxTokens,
		Temperature:  s.d.LLM.Temperature,
	}

	s.d.Pub.Publish(ctx, room, push.EventAIInfo, map[string]any{
		"provider": s.d.LLM.Provider,
		"model":    s.d.LLM.Model,
	})

	op := func() (attempt, error) {
		a, err := s.once(ctx, userID, room, requestID, req)
		if err != nil && !ai.IsTransient(err) {
			return a, backoff.Permanent(err)
		}
		return a, err
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.d.Retry.backOff()),
		backoff.WithMaxTries(uint(s.d.Retry.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.StreamRetries.Inc()
			log.Warn("completion failed, retrying", "error", err, "next", next)
		}),
	)
	if err != nil {
		log.Error("completion failed", "error", err)
		s.d.Pub.Publish(ctx, room, push.EventAIError, push.ErrorEvent("streamer", err.Error()))
		return fmt.Errorf("stream reply: %w", err)
	}

	bot := &chat.Message{
		ChatroomID:       room,
		SenderType:       chat.SenderBot,
		Content:          res.text,
		ContentType:      "text",
		TokenCount:       res.usage.OutputTokens,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if err := s.d.Messages.InsertMessage(context.WithoutCancel(ctx), bot); err != nil {
		log.Error("reply not stored", "error", err)
		s.d.Pub.Publish(ctx, room, push.EventAIError, push.ErrorEvent("streamer", err.Error()))
		return fmt.Errorf("store reply: %w", err)
	}

	costIn, costOut := billing.CostFor(s.d.Pricing, res.usage.InputTokens, res.usage.OutputTokens)
	s.d.Pub.Publish(ctx, room, push.EventAIResponseDone, map[string]any{"messageId": bot.ID})
	s.d.Pub.Publish(ctx, room, push.EventAIUsageTotal, map[string]any{
		"inputTokens":  res.usage.InputTokens,
		"outputTokens": res.usage.OutputTokens,
		"totalTokens":  res.usage.Total(),
		"totalCost":    costIn + costOut,
	})
	if s.d.Notifier != nil {
		err := s.d.Notifier.NotifyComplete(context.WithoutCancel(ctx), push.Completion{
			ChatroomID:  room,
			MessageID:   bot.ID,
			Content:     res.text,
			TotalTokens: res.usage.Total(),
		})
		if err != nil {
			log.Warn("completion notification failed", "error", err)
		}
	}
	return nil
}

// once runs a single attempt. Fragments and usage frames are pushed and
// billed as they arrive, including on attempts that later fail.
func (s *Streamer) once(ctx context.Context, userID uint64, room, requestID string, req ai.Request) (attempt, error) {
	frames, errs := s.d.LLM.Completer.Stream(ctx, req)

	var b strings.Builder
	var total ai.Usage
	for f := range frames {
		if f.Text != "" {
			b.WriteString(f.Text)
			s.d.Pub.Publish(ctx, room, push.EventAIResponse, map[string]any{"chunk": f.Text})
		}
		if f.Usage != nil && !f.Usage.IsEmpty() {
			total.InputTokens += f.Usage.InputTokens
			total.OutputTokens += f.Usage.OutputTokens
			s.bill(ctx, userID, room, requestID, *f.Usage)
		}
	}
	if err := <-errs; err != nil {
		return attempt{}, err
	}
	return attempt{text: b.String(), usage: total}, nil
}

func (s *Streamer) bill(ctx context.Context, userID uint64, room, requestID string, u ai.Usage) {
	costIn, costOut := billing.CostFor(s.d.Pricing, u.InputTokens, u.OutputTokens)
	if s.d.Billing != nil {
		_, err := s.d.Billing.Record(context.WithoutCancel(ctx), billing.Usage{
			UserID:       userID,
			ChatroomID:   room,
			Provider:     s.d.LLM.Provider,
			Model:        s.d.LLM.Model,
			RequestID:    requestID,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			CostIn:       costIn,
			CostOut:      costOut,
		})
		if err != nil {
			s.log.Warn("usage not recorded", "room_id", room, "request_id", requestID, "error", err)
		}
	}
	s.d.Pub.Publish(ctx, room, push.EventAIUsage, map[string]any{
		"inputTokens":  u.InputTokens,
		"outputTokens": u.OutputTokens,
		"costIn":       costIn,
		"costOut":      costOut,
		"totalCost":    costIn + costOut,
	})
}
