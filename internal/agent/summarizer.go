package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/progress"
	"github.com/suPer8Hu/chat-agents/internal/textutil"
)

const (
	MaxSummaryKeywords = 10
	MaxKeywordRunes    = 50

	emptySummary = "{}"

	summarizerSystem = "당신은 대화 요약가입니다. 핵심 인물, 결정사항, 할 일, 선호, 사실을 구조적으로 요약하고, 상위 키워드를 반환하세요. 반드시 JSON만 반환하세요."

	summarizerFormat = `
JSON 형식으로만 응답:
{"summary": {"participants": [], "decisions": [], "tasks": [{"title": "", "due": null, "status": null}], "preferences": [], "facts": []}, "keywords": ["키워드1", "키워드2"]}`
)

type MessageLister interface {
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// Summary is one summarization pass over a message window. The zero window
// [0,0] with summary "{}" means nothing was summarized.
type Summary struct {
	CreatedAt      time.Time
	Summary        string
	Keywords       []string
	WindowStartSeq int64
	WindowEndSeq   int64
	TokenEstimate  int
}

func (s Summary) Empty() bool {
	return s.WindowStartSeq == 0 && s.WindowEndSeq == 0
}

// Entry converts s into a progress document entry with the given id.
func (s Summary) Entry(id string) progress.SummaryEntry {
	return progress.SummaryEntry{
		ID:             id,
		CreatedAt:      s.CreatedAt,
		Summary:        s.Summary,
		Keywords:       append([]string(nil), s.Keywords...),
		WindowStartSeq: s.WindowStartSeq,
		WindowEndSeq:   s.WindowEndSeq,
		TokenEstimate:  s.TokenEstimate,
	}
}

type Summarizer struct {
	llm      LLM
	messages MessageLister
	meter    UsageMeter
	log      *logger.Logger
	now      func() time.Time
}

func NewSummarizer(llm LLM, messages MessageLister, meter UsageMeter, log *logger.Logger) *Summarizer {
	return &Summarizer{
		llm:      llm,
		messages: messages,
		meter:    meterOrNop(meter),
		log:      logger.OrNop(log).With("agent", "summarizer"),
		now:      time.Now,
	}
}

// Summarize folds the last window messages of the room into a structured
// summary. previous is the last compact summary ("" when there is none).
// It never fails; any problem yields the empty summary.
func (s *Summarizer) Summarize(ctx context.Context, turn Turn, window int, previous string) Summary {
	empty := Summary{CreatedAt: s.now(), Summary: emptySummary, Keywords: []string{}}

	msgs, err := s.messages.ListRecentMessages(ctx, turn.ChatroomID, window)
	if err != nil {
		s.log.Warn("summary window not loaded", "room_id", turn.ChatroomID, "error", err)
		metrics.AgentRuns.WithLabelValues("summarizer", "error").Inc()
		return empty
	}
	if len(msgs) == 0 {
		return empty
	}

	user := buildSummaryInput(msgs, previous)
	res, err := ai.Collect(ctx, s.llm.Completer, s.llm.request(summarizerSystem, user), nil)
	s.meter.Observe(ctx, turn, "summarizer", res.Usage)
	if err != nil {
		s.log.Warn("summary call failed", "room_id", turn.ChatroomID, "error", err)
		metrics.AgentRuns.WithLabelValues("summarizer", "error").Inc()
		return empty
	}

	summary, keywords, ok := ParseSummary(res.Text)
	if !ok {
		s.log.Warn("summary output unparsable", "room_id", turn.ChatroomID)
		metrics.AgentRuns.WithLabelValues("summarizer", "degraded").Inc()
		return empty
	}

	metrics.AgentRuns.WithLabelValues("summarizer", "ok").Inc()
	return Summary{
		CreatedAt:      s.now(),
		Summary:        summary,
		Keywords:       keywords,
		WindowStartSeq: msgs[0].SequenceNumber,
		WindowEndSeq:   msgs[len(msgs)-1].SequenceNumber,
		TokenEstimate:  textutil.EstimateTokens(summarizerSystem+user) + textutil.EstimateTokens(res.Text),
	}
}

// buildSummaryInput masks PII in every line before it leaves the process.
func buildSummaryInput(msgs []chat.Message, previous string) string {
	if strings.TrimSpace(previous) == "" {
		previous = emptySummary
	}
	var b strings.Builder
	fmt.Fprintf(&b, "이전 요약(있으면 참고하되 덮어쓰지 말 것): %s\n\n최근 대화:\n", textutil.MaskPII(previous))
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.SequenceNumber, m.SenderType, textutil.MaskPII(m.Content))
	}
	b.WriteString(summarizerFormat)
	return b.String()
}

// ParseSummary returns the compact summary JSON and the capped keyword list.
func ParseSummary(text string) (string, []string, bool) {
	var raw struct {
		Summary  json.RawMessage `json:"summary"`
		Keywords []any           `json:"keywords"`
	}
	if err := decodeLenient(text, &raw); err != nil {
		return "", nil, false
	}

	summary := emptySummary
	if body := bytes.TrimSpace(raw.Summary); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err == nil {
			summary = buf.String()
		}
	}

	keywords := make([]string, 0, MaxSummaryKeywords)
	for _, k := range raw.Keywords {
		if len(keywords) == MaxSummaryKeywords {
			break
		}
		str, ok := k.(string)
		if !ok {
			continue
		}
		if str = strings.TrimSpace(str); str != "" {
			keywords = append(keywords, textutil.Truncate(str, MaxKeywordRunes))
		}
	}
	return summary, keywords, true
}
