package agent

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/push"
)

type SystemPrompter interface {
	SystemPrompt(ctx context.Context, roomID string) string
}

type MessageWriter interface {
	InsertMessage(ctx context.Context, m *chat.Message) error
}

// Conversation streams the bot reply to the room and stores it.
type Conversation struct {
	llm      LLM
	prompts  SystemPrompter
	messages MessageWriter
	pub      push.Publisher
	meter    UsageMeter
	log      *logger.Logger
}

func NewConversation(llm LLM, prompts SystemPrompter, messages MessageWriter, pub push.Publisher, meter UsageMeter, log *logger.Logger) *Conversation {
	return &Conversation{
		llm:      llm,
		prompts:  prompts,
		messages: messages,
		pub:      pub,
		meter:    meterOrNop(meter),
		log:      logger.OrNop(log).With("agent", "conversation"),
	}
}

// Respond pushes every fragment as it arrives. The reply is stored only when
// the stream finishes cleanly; otherwise an ai_error is pushed and nothing is
// stored.
func (a *Conversation) Respond(ctx context.Context, turn Turn, content string) ConversationResponse {
	start := time.Now()
	room := turn.ChatroomID

	req := a.llm.request(a.prompts.SystemPrompt(ctx, room), content)
	res, err := ai.Collect(ctx, a.llm.Completer, req, func(f ai.Frame) {
		if f.Text != "" {
			a.pub.Publish(ctx, room, push.EventConversationChunk, map[string]any{"chunk": f.Text})
		}
	})
	a.meter.Observe(ctx, turn, "conversation", res.Usage)
	if err == nil && res.Text == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		a.fail(ctx, room, "stream", err)
		return ConversationResponse{Usage: res.Usage, Err: err}
	}

	msg := &chat.Message{
		ChatroomID:       room,
		SenderType:       chat.SenderBot,
		Content:          res.Text,
		ContentType:      "text",
		TokenCount:       res.Usage.OutputTokens,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	// the reply is kept even if the requester went away mid-stream
	if err := a.messages.InsertMessage(context.WithoutCancel(ctx), msg); err != nil {
		a.fail(ctx, room, "persist", err)
		return ConversationResponse{Content: res.Text, Usage: res.Usage, Err: err}
	}

	out := ConversationResponse{MessageID: msg.ID, Content: res.Text, Usage: res.Usage}
	a.pub.Publish(ctx, room, push.EventConversationComplete, Payload(out))
	metrics.AgentRuns.WithLabelValues("conversation", "ok").Inc()
	return out
}

func (a *Conversation) fail(ctx context.Context, room, stage string, err error) {
	a.log.Warn("conversation failed", "room_id", room, "stage", stage, "error", err)
	metrics.AgentRuns.WithLabelValues("conversation", "error").Inc()
	a.pub.Publish(ctx, room, push.EventAIError, push.ErrorEvent("conversation", err.Error()))
}
