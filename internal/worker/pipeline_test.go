package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/ai/aitest"
	"github.com/suPer8Hu/chat-agents/internal/billing"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/db/dbtest"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/push/pushtest"
	"github.com/suPer8Hu/chat-agents/internal/streamer"
)

func TestPipeline_EndToEnd(t *testing.T) {
	db := dbtest.Open(t, &chat.ChatRoom{}, &chat.Chatbot{}, &chat.Message{}, &chat.IntimacyProgress{},
		&chat.TurnJob{}, &billing.AiUsageEvent{}, &billing.MonthlyUserCost{})
	repo := chat.NewRepo(db)
	ctx := context.Background()

	bot := &chat.Chatbot{Name: "dora", SystemPrompt: "너는 도라야."}
	require.NoError(t, repo.CreateChatbot(ctx, bot))
	const room = "01PIPELINEROOM000000000000"
	require.NoError(t, repo.CreateRoom(ctx, &chat.ChatRoom{ID: room, UserID: 9, ChatbotID: bot.ID}))

	fake := &aitest.Fake{Respond: func(req ai.Request, _ int) aitest.Script {
		switch {
		case strings.Contains(req.SystemPrompt, "대화 요약가"):
			return aitest.Reply(`{"summary": {"facts": []}, "keywords": ["인사"]}`, 10, 10)
		case strings.Contains(req.SystemPrompt, "친밀도"):
			return aitest.Reply(`{"detectedLevel": 3, "corrections": ""}`, 10, 10)
		case strings.Contains(req.SystemPrompt, "어려운 어휘"):
			return aitest.Reply(`{}`, 10, 10)
		default:
			return aitest.Reply("안녕!", 10, 10)
		}
	}}
	pub := &pushtest.Recorder{}
	h := NewPipeline(db, PipelineConfig{
		LLM:     agent.LLM{Completer: fake, Provider: "fake", Model: "m", MaxTokens: 100},
		Pricing: billing.Pricing{PerKInput: 1, PerKOutput: 1},
		Retry:   streamer.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond},
	}, pub, pub, nil)

	svc := chat.NewService(repo, noQueue{}, nil)
	multi, err := svc.SubmitMessage(ctx, chat.SubmitInput{UserID: 9, ChatroomID: room, Content: "안녕"})
	require.NoError(t, err)
	single, err := svc.SubmitMessage(ctx, chat.SubmitInput{UserID: 9, ChatroomID: room, Content: "또 안녕", Mode: chat.ModeSingle})
	require.NoError(t, err)

	require.NoError(t, h.Handle(ctx, multi.Job.ID))
	require.NoError(t, h.Handle(ctx, single.Job.ID))

	assert.Len(t, pub.OfType(push.EventConversationComplete), 1)
	assert.Len(t, pub.OfType(push.EventAggregatedComplete), 1)
	assert.Len(t, pub.OfType(push.EventAIResponseDone), 1)
	assert.Len(t, pub.Completions(), 1)

	var bots int64
	require.NoError(t, db.Model(&chat.Message{}).Where("sender_type = ?", chat.SenderBot).Count(&bots).Error)
	assert.Equal(t, int64(2), bots)

	// four agent calls plus one streamer call, 20 tokens each
	m, err := billing.NewRecorder(db, nil).Monthly(ctx, 9, billing.Month(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(50), m.InputTokens)
	assert.InDelta(t, m.CostIn+m.CostOut, m.TotalCost, 1e-9)
}
