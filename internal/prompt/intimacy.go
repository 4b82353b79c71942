package prompt

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/chat-agents/internal/chat"
)

const defaultIntimacyBase = `당신은 외국인의 한국어 친밀도를 분석하는 전문가입니다.

사용자의 문장을 분석하여 반드시 JSON 형식으로만 답변하세요.
다른 텍스트나 설명은 포함하지 마세요.
`

const intimacyResponseFormat = `
[응답 형식]
반드시 아래 JSON 형식으로만 응답하세요. 다른 텍스트는 포함하지 마세요:
{
  "detectedLevel": 1-3,
  "correctedSentence": "교정된 문장",
  "feedback": {"ko": "한국어 피드백", "en": "English feedback"},
  "corrections": "변경사항 요약 (없으면 빈 문자열)"
}
`

// BuildIntimacy assembles the register-analysis prompt. room and bot may be nil.
func BuildIntimacy(room *chat.ChatRoom, bot *chat.Chatbot, level int) string {
	base := defaultIntimacyBase
	if bot != nil && strings.TrimSpace(bot.IntimacySystemPrompt) != "" {
		base = strings.TrimSpace(bot.IntimacySystemPrompt) + "\n"
	}

	concept := "FRIEND"
	if room != nil {
		concept = room.Concept()
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n[분석 컨텍스트]\n")
	fmt.Fprintf(&b, "현재 학습자의 목표 레벨: %d (1=격식체/존댓말, 2=부드러운 존댓말, 3=친근한 반말)\n", level)
	fmt.Fprintf(&b, "대화 컨셉: %s\n", concept)
	b.WriteString("\n[컨셉별 지침]\n")
	b.WriteString(intimacyConceptGuideline(concept))
	b.WriteString("\n")
	b.WriteString(intimacyResponseFormat)
	return b.String()
}

func intimacyConceptGuideline(concept string) string {
	switch concept {
	case "FRIEND":
		return "친구와의 대화 상황을 고려하여 자연스럽고 편한 표현을 교정하세요."
	case "HONEY":
		return "연인과의 대화 상황을 고려하여 애정 어린 표현을 교정하세요."
	case "COWORKER":
		return "직장 동료와의 대화 상황을 고려하여 예의 바르고 전문적인 표현을 교정하세요."
	case "SENIOR":
		return "선배와의 대화 상황을 고려하여 공손하고 정중한 표현을 교정하세요."
	default:
		return "일반적인 상황에 맞는 적절한 표현을 교정하세요."
	}
}
