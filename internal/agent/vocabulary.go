package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/push"
)

const vocabularyPrompt = `너는 한국어 문장에서 외국인 학습자가 이해하기 어려운 어휘를 골라 친절하게 설명하는 전문가야.

[입력]
- 학습자 레벨: %d
- 분석 대상: 사용자 메시지 전체

[난이도]
- 1: 일상 기본 어휘 (오늘, 하다, 좋다)
- 2: 한자어 일반 어휘, 관용 표현, 일반 업무 용어 (참고, 요청, 말씀)
- 3: 한자 숙어, 신조어, 문어체, 비즈니스 전문 용어 (결재, 품의, 송구스럽습니다)

[규칙]
1. 메시지에 실제로 포함된 단어만 고를 것
2. 난이도 2 이상만 고를 것
3. 최대 1개만 반환할 것
4. context.ko 는 100자 이내, ko/en 모두 부드럽고 친근한 말투
5. 어려운 어휘가 없으면 {} 만 반환할 것

[응답 형식] JSON 외의 텍스트 금지
[{"word": "결재", "difficulty": 3, "context": {"roma": "Gyeoljae", "ko": "설명", "en": "explanation"}}]
`

// Vocabulary picks at most one hard word from the user's message.
type Vocabulary struct {
	llm   LLM
	pub   push.Publisher
	meter UsageMeter
	log   *logger.Logger
}

func NewVocabulary(llm LLM, pub push.Publisher, meter UsageMeter, log *logger.Logger) *Vocabulary {
	return &Vocabulary{llm: llm, pub: pub, meter: meterOrNop(meter), log: logger.OrNop(log).With("agent", "vocabulary")}
}

// Extract returns an empty result on any failure; no word is a normal outcome.
func (a *Vocabulary) Extract(ctx context.Context, turn Turn, content string, level int) VocabularyResponse {
	system := fmt.Sprintf(vocabularyPrompt, clampLevel(level))
	res, err := ai.Collect(ctx, a.llm.Completer, a.llm.request(system, content), nil)
	a.meter.Observe(ctx, turn, "vocabulary", res.Usage)

	out := VocabularyResponse{}
	outcome := "ok"
	if err != nil {
		a.log.Warn("vocabulary call failed", "room_id", turn.ChatroomID, "error", err)
		outcome = "error"
	} else if words, ok := ParseVocabulary(res.Text); ok {
		out.Words = words
	} else {
		a.log.Warn("vocabulary output unparsable", "room_id", turn.ChatroomID, "raw", res.Text)
		outcome = "degraded"
	}

	metrics.AgentRuns.WithLabelValues("vocabulary", outcome).Inc()
	a.pub.Publish(ctx, turn.ChatroomID, push.EventVocabularyExtracted, Payload(out))
	return out
}

// ParseVocabulary accepts a bare array, a {"words": [...]} wrapper, a single
// word object or {}. Entries without a word or explanation are dropped and at
// most one word is kept.
func ParseVocabulary(text string) ([]Word, bool) {
	var raw json.RawMessage
	if err := decodeLenient(text, &raw); err != nil {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)

	var candidates []Word
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil, true
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &candidates); err != nil {
			return nil, false
		}
	case raw[0] == '{':
		var wrapper struct {
			Words []Word `json:"words"`
			Word
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, false
		}
		if wrapper.Words != nil {
			candidates = wrapper.Words
		} else if wrapper.Word.Word != "" {
			candidates = []Word{wrapper.Word}
		}
	default:
		return nil, false
	}

	for _, w := range candidates {
		w.Word = strings.TrimSpace(w.Word)
		if w.Word == "" || (w.Context.Ko == "" && w.Context.En == "") {
			continue
		}
		if w.Difficulty < 1 {
			w.Difficulty = 1
		}
		return []Word{w}, true
	}
	return nil, true
}
