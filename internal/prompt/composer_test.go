package prompt

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-agents/internal/chat"
)

type fakeRooms struct {
	room *chat.ChatRoom
	bot  *chat.Chatbot
}

func (f fakeRooms) GetRoomWithBot(ctx context.Context, roomID string) (*chat.ChatRoom, *chat.Chatbot, error) {
	if f.room == nil {
		return nil, nil, gorm.ErrRecordNotFound
	}
	return f.room, f.bot, nil
}

type fixedLevel int

func (l fixedLevel) Level(ctx context.Context, roomID string) int { return int(l) }

func TestSystemPrompt_MissingRoomUsesDefault(t *testing.T) {
	c := NewComposer(fakeRooms{}, fixedLevel(1), 0, nil)
	assert.Equal(t, DefaultSystemPrompt, c.SystemPrompt(context.Background(), "nope"))
}

func TestSystemPrompt_MergesBotAndRoom(t *testing.T) {
	bot := &chat.Chatbot{
		SystemPrompt: "너는 친절한 비서야.",
		Personality: datatypes.JSON(`{
			"traits": ["친절함", "신속함"],
			"speakingStyle": {"honorific": true, "formality": "polite", "length": "short"},
			"guardrails": {"refuseTopics": ["정치"], "escalationHint": "전문가 상담을 권유하세요"},
			"domainKnowledge": ["java", "spring"],
			"fewShot": [{"user": "안녕", "assistant": "안녕하세요!"}]
		}`),
		Capabilities: datatypes.JSON(`{
			"responseStyle": {"format": "markdown", "bulletPreference": "prefer", "maxLength": 300},
			"safety": {"profanityFilter": true, "piiRedaction": true}
		}`),
	}
	room := &chat.ChatRoom{
		ID:       "r1",
		Settings: datatypes.JSON(`{"concept":"COWORKER"}`),
		ContextData: datatypes.JSON(`{
			"conversationSummary": "요약입니다",
			"userPreferences": {"responseLength": "short", "language": "ko", "topics": ["java", "spring"]},
			"sessionData": {"currentTopic": "테스트"}
		}`),
	}

	got := NewComposer(fakeRooms{room: room, bot: bot}, fixedLevel(2), 0, nil).SystemPrompt(context.Background(), "r1")

	for _, want := range []string{
		"너는 친절한 비서야.",
		"성격 특성: 친절함, 신속함",
		"존댓말을 사용하세요",
		"말투 격식: polite",
		"답변 길이 선호: short",
		"아래 주제는 답변을 정중히 거부하세요: 정치",
		"필요 시 다음 안내를 덧붙이세요: 전문가 상담을 권유하세요",
		"선호/전문 도메인: java, spring",
		"사용자: 안녕",
		"어시스턴트: 안녕하세요!",
		"응답 포맷: markdown",
		"불릿 사용: prefer",
		"최대 길이: 300",
		"욕설/비속어는 완곡하게 표현을 바꾸세요",
		"개인정보는 식별 불가하게 마스킹하세요",
		"요약입니다",
		"선호 응답 길이: short",
		"언어: ko",
		"관심 주제: java, spring",
		"[현재 주제] 테스트",
		"직장 동료처럼",
		"부드러운 존댓말",
		"응답은 한국어로, 핵심 위주로 간결하게 작성하세요",
	} {
		assert.Contains(t, got, want)
	}

	// persona before capabilities before room context before closing
	assert.Less(t, strings.Index(got, "성격 특성"), strings.Index(got, "응답 포맷"))
	assert.Less(t, strings.Index(got, "응답 포맷"), strings.Index(got, "[대화 요약]"))
	assert.Less(t, strings.Index(got, "[대화 요약]"), strings.Index(got, closingInstruction))
}

func TestSystemPrompt_MalformedJSONIsSkipped(t *testing.T) {
	bot := &chat.Chatbot{
		SystemPrompt: "base",
		Personality:  datatypes.JSON(`{"traits": "not-an-array"`),
		Capabilities: datatypes.JSON(`[1,2,3]`),
	}
	room := &chat.ChatRoom{ID: "r1", ContextData: datatypes.JSON(`{oops}`)}

	got := Build(room, bot, 1, DefaultMaxChars)
	assert.True(t, strings.HasPrefix(got, "base"))
	assert.Contains(t, got, closingInstruction)
	assert.NotContains(t, got, "성격 특성")
}

func TestSystemPrompt_TruncatesToCap(t *testing.T) {
	bot := &chat.Chatbot{SystemPrompt: strings.Repeat("a", 9000)}
	room := &chat.ChatRoom{ID: "r1"}

	got := NewComposer(fakeRooms{room: room, bot: bot}, fixedLevel(1), 0, nil).SystemPrompt(context.Background(), "r1")
	require.Equal(t, 8000, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestIntimacyPrompt(t *testing.T) {
	room := &chat.ChatRoom{ID: "r1", Settings: datatypes.JSON(`{"concept":"SENIOR"}`)}

	p, level := NewComposer(fakeRooms{room: room, bot: &chat.Chatbot{}}, fixedLevel(3), 0, nil).IntimacyPrompt(context.Background(), "r1")
	assert.Equal(t, 3, level)
	assert.Contains(t, p, "외국인의 한국어 친밀도")
	assert.Contains(t, p, "현재 학습자의 목표 레벨: 3")
	assert.Contains(t, p, "선배와의 대화")
	assert.Contains(t, p, `"detectedLevel"`)

	custom := BuildIntimacy(room, &chat.Chatbot{IntimacySystemPrompt: "custom base"}, 1)
	assert.True(t, strings.HasPrefix(custom, "custom base"))
}
