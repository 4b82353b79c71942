package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/progress"
	"github.com/suPer8Hu/chat-agents/internal/push"
)

var defaultFeedback = Feedback{
	Ko: "분석 중 오류가 발생했습니다.",
	En: "An error occurred during analysis.",
}

type IntimacyPrompter interface {
	IntimacyPrompt(ctx context.Context, roomID string) (string, int)
}

type ProgressWriter interface {
	Update(ctx context.Context, roomID string, userID uint64, fn func(p *chat.IntimacyProgress) error) (*chat.IntimacyProgress, error)
}

// Intimacy classifies the register of the user's sentence and records the
// result in the room's progress.
type Intimacy struct {
	llm      LLM
	prompts  IntimacyPrompter
	progress ProgressWriter
	pub      push.Publisher
	meter    UsageMeter
	log      *logger.Logger
	now      func() time.Time
}

func NewIntimacy(llm LLM, prompts IntimacyPrompter, store ProgressWriter, pub push.Publisher, meter UsageMeter, log *logger.Logger) *Intimacy {
	return &Intimacy{
		llm:      llm,
		prompts:  prompts,
		progress: store,
		pub:      pub,
		meter:    meterOrNop(meter),
		log:      logger.OrNop(log).With("agent", "intimacy"),
		now:      time.Now,
	}
}

// Analyze never fails: transport or parse problems yield the default analysis.
// The progress row is written either way.
func (a *Intimacy) Analyze(ctx context.Context, turn Turn, content string) IntimacyResponse {
	system, _ := a.prompts.IntimacyPrompt(ctx, turn.ChatroomID)
	res, err := ai.Collect(ctx, a.llm.Completer, a.llm.request(system, content), nil)
	a.meter.Observe(ctx, turn, "intimacy", res.Usage)

	var out IntimacyResponse
	if err != nil {
		a.log.Warn("intimacy call failed", "room_id", turn.ChatroomID, "error", err)
		out = defaultIntimacy()
	} else {
		var ok bool
		if out, ok = ParseIntimacy(res.Text); !ok {
			a.log.Warn("intimacy output unparsable", "room_id", turn.ChatroomID, "raw", res.Text)
		}
	}

	a.record(ctx, turn, out)

	outcome := "ok"
	if out.Degraded {
		outcome = "degraded"
	}
	metrics.AgentRuns.WithLabelValues("intimacy", outcome).Inc()
	a.pub.Publish(ctx, turn.ChatroomID, push.EventIntimacyAnalysis, Payload(out))
	return out
}

func (a *Intimacy) record(ctx context.Context, turn Turn, r IntimacyResponse) {
	now := a.now()
	_, err := a.progress.Update(context.WithoutCancel(ctx), turn.ChatroomID, turn.UserID, func(p *chat.IntimacyProgress) error {
		p.IntimacyLevel = r.DetectedLevel
		if strings.TrimSpace(r.Corrections) != "" {
			p.TotalCorrections++
		}
		if fb, err := json.Marshal(r.Feedback); err == nil {
			p.LastFeedback = string(fb)
		}
		p.SetDoc(progress.AppendCorrection(p.Doc(), progress.Correction{
			At:                now,
			DetectedLevel:     r.DetectedLevel,
			CorrectedSentence: r.CorrectedSentence,
			Corrections:       r.Corrections,
		}))
		return nil
	})
	if err != nil {
		a.log.Error("intimacy progress not saved", "room_id", turn.ChatroomID, "error", err)
		a.pub.Publish(ctx, turn.ChatroomID, push.EventAIError, push.ErrorEvent("intimacy", err.Error()))
	}
}

func defaultIntimacy() IntimacyResponse {
	return IntimacyResponse{DetectedLevel: 1, Feedback: defaultFeedback, Degraded: true}
}

type rawIntimacy struct {
	DetectedLevel     flexInt         `json:"detectedLevel"`
	CorrectedSentence string          `json:"correctedSentence"`
	Feedback          json.RawMessage `json:"feedback"`
	Corrections       json.RawMessage `json:"corrections"`
}

// ParseIntimacy decodes the analysis JSON. On failure it returns the default
// analysis and false.
func ParseIntimacy(text string) (IntimacyResponse, bool) {
	var raw rawIntimacy
	if err := decodeLenient(text, &raw); err != nil {
		return defaultIntimacy(), false
	}
	return IntimacyResponse{
		DetectedLevel:     clampLevel(int(raw.DetectedLevel)),
		CorrectedSentence: strings.TrimSpace(raw.CorrectedSentence),
		Feedback:          parseFeedback(raw.Feedback),
		Corrections:       parseCorrections(raw.Corrections),
	}, true
}

// feedback comes back either as {"ko","en"} or as a bare string
func parseFeedback(raw json.RawMessage) Feedback {
	if len(raw) == 0 {
		return Feedback{}
	}
	var fb Feedback
	if err := json.Unmarshal(raw, &fb); err == nil {
		return fb
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Feedback{Ko: s}
	}
	return Feedback{}
}

func parseCorrections(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		case nil:
		default:
			if b, err := json.Marshal(v); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "; ")
}
