// Package prompt builds the system prompts sent to the completion endpoint
// from bot persona, capabilities and room context.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/textutil"
)

const (
	DefaultMaxChars = 8000

	DefaultSystemPrompt = "당신은 도란도란의 AI 어시스턴트입니다. 사용자의 질문에 간결하고 도움이 되게 답변하세요."

	closingInstruction = "- 응답은 한국어로, 핵심 위주로 간결하게 작성하세요."
)

type RoomSource interface {
	GetRoomWithBot(ctx context.Context, roomID string) (*chat.ChatRoom, *chat.Chatbot, error)
}

type LevelSource interface {
	Level(ctx context.Context, roomID string) int
}

type Composer struct {
	rooms    RoomSource
	levels   LevelSource
	maxChars int
	log      *logger.Logger
}

func NewComposer(rooms RoomSource, levels LevelSource, maxChars int, log *logger.Logger) *Composer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Composer{rooms: rooms, levels: levels, maxChars: maxChars, log: logger.OrNop(log).With("component", "prompt.Composer")}
}

func (c *Composer) MaxChars() int { return c.maxChars }

// SystemPrompt never fails: a missing room yields DefaultSystemPrompt.
func (c *Composer) SystemPrompt(ctx context.Context, roomID string) string {
	room, bot, err := c.rooms.GetRoomWithBot(ctx, roomID)
	if err != nil || room == nil {
		if err != nil {
			c.log.Debug("room lookup failed, using default prompt", "room_id", roomID, "error", err)
		}
		return DefaultSystemPrompt
	}
	return Build(room, bot, c.levels.Level(ctx, roomID), c.maxChars)
}

// IntimacyPrompt returns the analysis prompt and the level it was built for.
func (c *Composer) IntimacyPrompt(ctx context.Context, roomID string) (string, int) {
	level := c.levels.Level(ctx, roomID)
	room, bot, err := c.rooms.GetRoomWithBot(ctx, roomID)
	if err != nil {
		room, bot = nil, nil
	}
	return BuildIntimacy(room, bot, level), level
}

// Build assembles the conversation prompt. It is pure so it can be tested
// without a store.
func Build(room *chat.ChatRoom, bot *chat.Chatbot, level, maxChars int) string {
	if room == nil {
		return DefaultSystemPrompt
	}
	var b strings.Builder

	if bot != nil {
		if sp := strings.TrimSpace(bot.SystemPrompt); sp != "" {
			b.WriteString(sp)
			b.WriteString("\n\n")
		}
		writePersonality(&b, bot.Personality)
		writeCapabilities(&b, bot.Capabilities)
	}
	writeRoomContext(&b, room.ContextData)

	b.WriteString("\n[대화 컨셉]\n")
	b.WriteString(conceptGuideline(room.Concept()))
	b.WriteString("\n[말투 지시]\n")
	b.WriteString(registerGuideline(level))

	b.WriteString("\n\n")
	b.WriteString(closingInstruction)
	b.WriteString("\n")

	return textutil.Truncate(b.String(), maxChars)
}

type personality struct {
	Traits        []string `json:"traits"`
	SpeakingStyle *struct {
		Honorific bool   `json:"honorific"`
		Formality string `json:"formality"`
		Length    string `json:"length"`
	} `json:"speakingStyle"`
	Guardrails *struct {
		RefuseTopics   []string `json:"refuseTopics"`
		EscalationHint string   `json:"escalationHint"`
	} `json:"guardrails"`
	DomainKnowledge []string `json:"domainKnowledge"`
	FewShot         []struct {
		User      string `json:"user"`
		Assistant string `json:"assistant"`
	} `json:"fewShot"`
}

func writePersonality(b *strings.Builder, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var p personality
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(b, "- 성격 특성: %s\n", strings.Join(p.Traits, ", "))
	}
	if s := p.SpeakingStyle; s != nil {
		if s.Honorific {
			b.WriteString("- 존댓말을 사용하세요.\n")
		}
		if s.Formality != "" {
			fmt.Fprintf(b, "- 말투 격식: %s\n", s.Formality)
		}
		if s.Length != "" {
			fmt.Fprintf(b, "- 답변 길이 선호: %s\n", s.Length)
		}
	}
	if g := p.Guardrails; g != nil {
		if len(g.RefuseTopics) > 0 {
			fmt.Fprintf(b, "- 아래 주제는 답변을 정중히 거부하세요: %s\n", strings.Join(g.RefuseTopics, ", "))
		}
		if g.EscalationHint != "" {
			fmt.Fprintf(b, "- 필요 시 다음 안내를 덧붙이세요: %s\n", g.EscalationHint)
		}
	}
	if len(p.DomainKnowledge) > 0 {
		fmt.Fprintf(b, "- 선호/전문 도메인: %s\n", strings.Join(p.DomainKnowledge, ", "))
	}
	if len(p.FewShot) > 0 {
		b.WriteString("\n[예시 대화]\n")
		for _, ex := range p.FewShot {
			if ex.User == "" || ex.Assistant == "" {
				continue
			}
			fmt.Fprintf(b, "사용자: %s\n어시스턴트: %s\n", ex.User, ex.Assistant)
		}
	}
}

type capabilities struct {
	ResponseStyle *struct {
		Format           string `json:"format"`
		BulletPreference string `json:"bulletPreference"`
		MaxLength        *int   `json:"maxLength"`
	} `json:"responseStyle"`
	Safety *struct {
		ProfanityFilter bool `json:"profanityFilter"`
		PIIRedaction    bool `json:"piiRedaction"`
	} `json:"safety"`
}

func writeCapabilities(b *strings.Builder, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var c capabilities
	if err := json.Unmarshal(raw, &c); err != nil {
		return
	}
	if rs := c.ResponseStyle; rs != nil {
		if rs.Format != "" {
			fmt.Fprintf(b, "- 응답 포맷: %s\n", rs.Format)
		}
		if rs.BulletPreference != "" {
			fmt.Fprintf(b, "- 불릿 사용: %s\n", rs.BulletPreference)
		}
		if rs.MaxLength != nil {
			fmt.Fprintf(b, "- 최대 길이: %d\n", *rs.MaxLength)
		}
	}
	if s := c.Safety; s != nil {
		if s.ProfanityFilter {
			b.WriteString("- 욕설/비속어는 완곡하게 표현을 바꾸세요.\n")
		}
		if s.PIIRedaction {
			b.WriteString("- 개인정보는 식별 불가하게 마스킹하세요.\n")
		}
	}
}

type roomContext struct {
	ConversationSummary *string `json:"conversationSummary"`
	UserPreferences     *struct {
		ResponseLength string   `json:"responseLength"`
		Language       string   `json:"language"`
		Topics         []string `json:"topics"`
	} `json:"userPreferences"`
	SessionData *struct {
		CurrentTopic string `json:"currentTopic"`
	} `json:"sessionData"`
}

func writeRoomContext(b *strings.Builder, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var rc roomContext
	if err := json.Unmarshal(raw, &rc); err != nil {
		return
	}
	if rc.ConversationSummary != nil {
		fmt.Fprintf(b, "\n[대화 요약]\n%s\n", *rc.ConversationSummary)
	}
	if p := rc.UserPreferences; p != nil {
		b.WriteString("[사용자 선호]\n")
		if p.ResponseLength != "" {
			fmt.Fprintf(b, "- 선호 응답 길이: %s\n", p.ResponseLength)
		}
		if p.Language != "" {
			fmt.Fprintf(b, "- 언어: %s\n", p.Language)
		}
		if len(p.Topics) > 0 {
			fmt.Fprintf(b, "- 관심 주제: %s\n", strings.Join(p.Topics, ", "))
		}
	}
	if s := rc.SessionData; s != nil && s.CurrentTopic != "" {
		fmt.Fprintf(b, "[현재 주제] %s\n", s.CurrentTopic)
	}
}

func conceptGuideline(concept string) string {
	switch concept {
	case "FRIEND":
		return "- 친구처럼 편하고 자연스럽게 대화하세요\n- 가벼운 농담이나 친근한 표현을 사용해도 좋습니다"
	case "HONEY":
		return "- 연인처럼 애정 어린 톤으로 대화하세요\n- 따뜻하고 사랑스러운 표현을 사용하세요"
	case "COWORKER":
		return "- 직장 동료처럼 예의 바르고 전문적으로 대화하세요\n- 업무와 관련된 주제를 우선적으로 다루세요"
	case "SENIOR":
		return "- 선배에게 대하듯 공손하고 정중하게 대화하세요\n- 존경과 예의를 바탕으로 한 대화를 하세요"
	default:
		return "- 일반적인 상황에 맞게 대화하세요"
	}
}

func registerGuideline(level int) string {
	switch level {
	case 1:
		return "- 격식체(~습니다, ~입니다)를 사용하세요\n- 정중하고 공손한 표현을 사용하세요"
	case 2:
		return "- 부드러운 존댓말(~해요, ~이에요)을 사용하세요\n- 친근하면서도 예의 바른 표현을 사용하세요"
	case 3:
		return "- 친근한 반말(~야, ~어, ~지)을 사용하세요\n- 편하고 자연스러운 표현을 사용하세요"
	default:
		return "- 적절한 말투로 대화하세요"
	}
}
