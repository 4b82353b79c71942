package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/ai/aitest"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/db/dbtest"
	"github.com/suPer8Hu/chat-agents/internal/prompt"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/push/pushtest"
)

const roomID = "01ORCHROOM0000000000000000"

type routes struct {
	intimacy, vocabulary, summary, conversation aitest.Script
}

func defaultRoutes() routes {
	return routes{
		intimacy:     aitest.Reply(`{"detectedLevel": 2, "correctedSentence": "안녕하세요", "feedback": {"ko": "좋아요", "en": "good"}, "corrections": "요 추가"}`, 10, 5),
		vocabulary:   aitest.Reply(`[{"word": "결재", "difficulty": 3, "context": {"roma": "Gyeoljae", "ko": "승인", "en": "approval"}}]`, 10, 5),
		summary:      aitest.Reply(`{"summary": {"facts": ["인사함"]}, "keywords": ["인사", "결재"]}`, 10, 5),
		conversation: aitest.Script{Chunks: []string{"안녕", "하세요"}, Usage: &ai.Usage{InputTokens: 20, OutputTokens: 3}},
	}
}

// router answers by looking at which agent's system prompt it was sent.
func router(r routes) *aitest.Fake {
	return &aitest.Fake{Respond: func(req ai.Request, _ int) aitest.Script {
		switch {
		case strings.Contains(req.SystemPrompt, "대화 요약가"):
			return r.summary
		case strings.Contains(req.SystemPrompt, "친밀도"):
			return r.intimacy
		case strings.Contains(req.SystemPrompt, "어려운 어휘"):
			return r.vocabulary
		default:
			return r.conversation
		}
	}}
}

type env struct {
	repo  *chat.Repo
	store *chat.ProgressStore
	pub   *pushtest.Recorder
	orch  *Orchestrator
}

func newEnv(t *testing.T, c ai.Completer, override func(*Agents)) *env {
	t.Helper()
	db := dbtest.Open(t, &chat.ChatRoom{}, &chat.Chatbot{}, &chat.Message{}, &chat.IntimacyProgress{})
	repo := chat.NewRepo(db)
	store := chat.NewProgressStore(db).WithMaxAttempts(50)
	pub := &pushtest.Recorder{}

	bot := &chat.Chatbot{Name: "dora", SystemPrompt: "너는 도라야."}
	require.NoError(t, repo.CreateChatbot(context.Background(), bot))
	require.NoError(t, repo.CreateRoom(context.Background(), &chat.ChatRoom{ID: roomID, UserID: 1, ChatbotID: bot.ID, Name: "r"}))

	llm := agent.LLM{Completer: c, Provider: "fake", Model: "m", MaxTokens: 100}
	composer := prompt.NewComposer(repo, store, 0, nil)
	agents := Agents{
		Conversation: agent.NewConversation(llm, composer, repo, pub, nil, nil),
		Intimacy:     agent.NewIntimacy(llm, composer, store, pub, nil, nil),
		Vocabulary:   agent.NewVocabulary(llm, pub, nil, nil),
		Summarizer:   agent.NewSummarizer(llm, repo, nil, nil),
	}
	if override != nil {
		override(&agents)
	}
	return &env{repo: repo, store: store, pub: pub, orch: New(agents, store, pub, 20, nil)}
}

func (e *env) send(t *testing.T, content string) (*chat.Message, error) {
	t.Helper()
	msg := &chat.Message{ChatroomID: roomID, SenderType: chat.SenderUser, Content: content}
	require.NoError(t, e.repo.InsertMessage(context.Background(), msg))
	return msg, e.orch.ProcessUserMessage(context.Background(), roomID, 1, msg)
}

func TestProcessUserMessage_FullTurn(t *testing.T) {
	e := newEnv(t, router(defaultRoutes()), nil)

	_, err := e.send(t, "안녕")
	require.NoError(t, err)

	types := e.pub.Types()
	at := func(ev string) int { return slices.Index(types, ev) }
	for _, ev := range []string{
		push.EventIntimacyAnalysis,
		push.EventVocabularyExtracted,
		push.EventConversationChunk,
		push.EventConversationComplete,
		push.EventAggregatedComplete,
	} {
		require.GreaterOrEqual(t, at(ev), 0, ev)
	}
	assert.Greater(t, at(push.EventAggregatedComplete), at(push.EventIntimacyAnalysis))
	assert.Greater(t, at(push.EventAggregatedComplete), at(push.EventVocabularyExtracted))
	assert.Less(t, slices.Index(types, push.EventConversationChunk), at(push.EventConversationComplete))
	assert.Empty(t, e.pub.OfType(push.EventAIError))

	agg := e.pub.OfType(push.EventAggregatedComplete)
	require.Len(t, agg, 1)
	assert.Equal(t, 2, agg[0].Data["intimacy"].(map[string]any)["detectedLevel"])
	assert.Equal(t, 1, agg[0].Data["vocabulary"].(map[string]any)["words"])

	msgs, err := e.repo.ListRecentMessages(context.Background(), roomID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.SenderBot, msgs[1].SenderType)
	assert.Equal(t, "안녕하세요", msgs[1].Content)

	p, err := e.store.Get(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.IntimacyLevel)
	assert.Equal(t, 1, p.TotalCorrections)

	doc := p.Doc()
	require.Len(t, doc.SummaryHistory, 1)
	assert.Equal(t, `{"facts":["인사함"]}`, doc.SummaryHistory[0].Summary)
	assert.Len(t, doc.KeywordIndex.Items, 2)
	require.NotNil(t, doc.LastContextSnapshot)
	assert.Equal(t, doc.SummaryHistory[0].ID, doc.LastContextSnapshot.SummaryID)
	assert.Equal(t, int64(1), doc.LastContextSnapshot.WindowStartSeq)
	assert.Equal(t, int64(2), doc.LastContextSnapshot.WindowEndSeq)
	assert.Len(t, doc.CorrectionsHistory, 1)
}

func TestProcessUserMessage_SummaryHistoryIsCapped(t *testing.T) {
	e := newEnv(t, router(defaultRoutes()), nil)

	for i := 0; i < 3; i++ {
		_, err := e.send(t, "또 안녕")
		require.NoError(t, err)
	}

	p, err := e.store.Get(context.Background(), roomID)
	require.NoError(t, err)
	doc := p.Doc()
	assert.Len(t, doc.SummaryHistory, 2)
	assert.Len(t, doc.CorrectionsHistory, 3)
	assert.Equal(t, int64(6), doc.SummaryHistory[1].WindowEndSeq)
	for _, k := range doc.KeywordIndex.Items {
		assert.Equal(t, 3, k.Score)
	}
}

func TestProcessUserMessage_ConversationFailureSkipsSummary(t *testing.T) {
	r := defaultRoutes()
	r.conversation = aitest.Fail(errors.New("upstream 503"))
	e := newEnv(t, router(r), nil)

	_, err := e.send(t, "안녕")
	require.Error(t, err)

	assert.Len(t, e.pub.OfType(push.EventAggregatedComplete), 1)
	assert.Len(t, e.pub.OfType(push.EventAIError), 1)

	msgs, err := e.repo.ListRecentMessages(context.Background(), roomID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	p, err := e.store.Get(context.Background(), roomID)
	require.NoError(t, err)
	assert.Empty(t, p.Doc().SummaryHistory)
	assert.Equal(t, 2, p.IntimacyLevel)
}

type panickingVocabulary struct{}

func (panickingVocabulary) Extract(context.Context, agent.Turn, string, int) agent.VocabularyResponse {
	panic("boom")
}

func TestProcessUserMessage_PanicIsIsolated(t *testing.T) {
	e := newEnv(t, router(defaultRoutes()), func(a *Agents) {
		a.Vocabulary = panickingVocabulary{}
	})

	_, err := e.send(t, "안녕")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocabulary")

	errs := e.pub.OfType(push.EventAIError)
	require.Len(t, errs, 1)
	assert.Equal(t, "vocabulary", errs[0].Data["agent"])

	agg := e.pub.OfType(push.EventAggregatedComplete)
	require.Len(t, agg, 1)
	assert.Equal(t, 0, agg[0].Data["vocabulary"].(map[string]any)["words"])

	assert.Len(t, e.pub.OfType(push.EventConversationComplete), 1)
	assert.Len(t, e.pub.OfType(push.EventIntimacyAnalysis), 1)
}
