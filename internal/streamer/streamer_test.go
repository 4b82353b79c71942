package streamer

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/ai/aitest"
	"github.com/suPer8Hu/chat-agents/internal/billing"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/db/dbtest"
	"github.com/suPer8Hu/chat-agents/internal/prompt"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/push/pushtest"
)

const roomID = "01STREAMROOM00000000000000"

var unavailable = &ai.StatusError{Provider: "fake", Code: 503}

type env struct {
	repo     *chat.Repo
	recorder *billing.Recorder
	pub      *pushtest.Recorder
	userMsg  *chat.Message
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t, &chat.ChatRoom{}, &chat.Chatbot{}, &chat.Message{}, &chat.IntimacyProgress{},
		&billing.AiUsageEvent{}, &billing.MonthlyUserCost{})
	repo := chat.NewRepo(db)
	ctx := context.Background()

	bot := &chat.Chatbot{Name: "dora", SystemPrompt: "너는 도라야."}
	require.NoError(t, repo.CreateChatbot(ctx, bot))
	require.NoError(t, repo.CreateRoom(ctx, &chat.ChatRoom{ID: roomID, UserID: 1, ChatbotID: bot.ID, Name: "r"}))

	msg := &chat.Message{ChatroomID: roomID, SenderType: chat.SenderUser, Content: "안녕"}
	require.NoError(t, repo.InsertMessage(ctx, msg))

	return &env{repo: repo, recorder: billing.NewRecorder(db, nil), pub: &pushtest.Recorder{}, userMsg: msg}
}

func (e *env) streamer(t *testing.T, c ai.Completer, maxChars int) *Streamer {
	t.Helper()
	return New(Deps{
		LLM:      agent.LLM{Completer: c, Provider: "fake", Model: "m", MaxTokens: 100},
		Prompts:  prompt.NewComposer(e.repo, chat.NewProgressStore(e.repo.DB()), maxChars, nil),
		Messages: e.repo,
		Billing:  e.recorder,
		Pricing:  billing.Pricing{PerKInput: 0.1, PerKOutput: 0.2},
		Pub:      e.pub,
		Notifier: e.pub,
		Retry:    RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 2},
	})
}

func (e *env) botMessages(t *testing.T) []chat.Message {
	t.Helper()
	var out []chat.Message
	require.NoError(t, e.repo.DB().Where("chatroom_id = ? AND sender_type = ?", roomID, chat.SenderBot).Find(&out).Error)
	return out
}

func TestStream_RetriesTransientThenSucceeds(t *testing.T) {
	e := newEnv(t)
	fake := aitest.Sequence(
		aitest.Fail(unavailable),
		aitest.Fail(unavailable),
		aitest.Script{Chunks: []string{"안녕", "하세요"}, Usage: &ai.Usage{InputTokens: 1000, OutputTokens: 500}},
	)

	err := e.streamer(t, fake, 0).Stream(context.Background(), 1, e.userMsg)
	require.NoError(t, err)
	assert.Len(t, fake.Calls(), 3)

	bots := e.botMessages(t)
	require.Len(t, bots, 1)
	assert.Equal(t, "안녕하세요", bots[0].Content)
	assert.Equal(t, 500, bots[0].TokenCount)

	assert.Len(t, e.pub.OfType(push.EventAIResponse), 2)
	assert.Empty(t, e.pub.OfType(push.EventAIError))

	// announced once, before any chunk, not per attempt
	info := e.pub.OfType(push.EventAIInfo)
	require.Len(t, info, 1)
	assert.Equal(t, map[string]any{"provider": "fake", "model": "m"}, info[0].Data)
	assert.Equal(t, push.EventAIInfo, e.pub.Types()[0])

	done := e.pub.OfType(push.EventAIResponseDone)
	require.Len(t, done, 1)
	assert.Equal(t, bots[0].ID, done[0].Data["messageId"])

	usage := e.pub.OfType(push.EventAIUsage)
	require.Len(t, usage, 1)
	assert.InDelta(t, 0.2, usage[0].Data["totalCost"].(float64), 1e-9)

	total := e.pub.OfType(push.EventAIUsageTotal)
	require.Len(t, total, 1)
	assert.Equal(t, 1500, total[0].Data["totalTokens"])

	completions := e.pub.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, push.Completion{ChatroomID: roomID, MessageID: bots[0].ID, Content: "안녕하세요", TotalTokens: 1500}, completions[0])

	m, err := e.recorder.Monthly(context.Background(), 1, billing.Month(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.InputTokens)
	assert.Equal(t, int64(500), m.OutputTokens)
	assert.InDelta(t, 0.2, m.TotalCost, 1e-9)
}

func TestStream_ExhaustedRetriesPersistNothing(t *testing.T) {
	e := newEnv(t)
	fake := aitest.Fixed(aitest.Fail(unavailable))

	err := e.streamer(t, fake, 0).Stream(context.Background(), 1, e.userMsg)
	require.Error(t, err)
	assert.Len(t, fake.Calls(), 4)

	assert.Empty(t, e.botMessages(t))
	errs := e.pub.OfType(push.EventAIError)
	require.Len(t, errs, 1)
	assert.Equal(t, "streamer", errs[0].Data["agent"])
	assert.Empty(t, e.pub.OfType(push.EventAIResponseDone))
	assert.Empty(t, e.pub.Completions())
}

func TestStream_PermanentErrorIsNotRetried(t *testing.T) {
	e := newEnv(t)
	fake := aitest.Fixed(aitest.Fail(&ai.StatusError{Provider: "fake", Code: 401}))

	err := e.streamer(t, fake, 0).Stream(context.Background(), 1, e.userMsg)
	require.Error(t, err)
	assert.Len(t, fake.Calls(), 1)
	assert.Empty(t, e.botMessages(t))
	assert.Len(t, e.pub.OfType(push.EventAIError), 1)
}

func TestStream_TruncatesOversizedContent(t *testing.T) {
	e := newEnv(t)
	e.userMsg.Content = strings.Repeat("가", 500)
	fake := aitest.Fixed(aitest.Reply("응", 1, 1))

	require.NoError(t, e.streamer(t, fake, 100).Stream(context.Background(), 1, e.userMsg))

	sent := fake.Calls()[0].UserContent
	assert.Equal(t, 100, utf8.RuneCountInString(sent))
	assert.True(t, strings.HasSuffix(sent, "..."))
}
