// Package agent holds the single-purpose LLM agents run for each user
// message: conversation, intimacy (register) analysis, vocabulary extraction
// and rolling summarization.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/suPer8Hu/chat-agents/internal/ai"
	"github.com/suPer8Hu/chat-agents/internal/billing"
	"github.com/suPer8Hu/chat-agents/internal/logger"
)

// Turn identifies the user message being answered.
type Turn struct {
	ChatroomID string
	UserID     uint64
	RequestID  string
}

// LLM is the model configuration shared by the agents.
type LLM struct {
	Completer   ai.Completer
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float32
}

func (l LLM) request(system, user string) ai.Request {
	return ai.Request{
		SystemPrompt: system,
		UserContent:  user,
		Model:        l.Model,
		MaxTokens:    l.MaxTokens,
		Temperature:  l.Temperature,
	}
}

// UsageMeter observes the token usage of every agent call.
type UsageMeter interface {
	Observe(ctx context.Context, turn Turn, agent string, u ai.Usage)
}

type nopMeter struct{}

func (nopMeter) Observe(context.Context, Turn, string, ai.Usage) {}

func meterOrNop(m UsageMeter) UsageMeter {
	if m == nil {
		return nopMeter{}
	}
	return m
}

// BillingMeter records agent usage in the billing ledger.
type BillingMeter struct {
	Recorder *billing.Recorder
	Pricing  billing.Pricing
	Provider string
	Model    string
	Log      *logger.Logger
}

func (m *BillingMeter) Observe(ctx context.Context, turn Turn, agent string, u ai.Usage) {
	if u.IsEmpty() {
		return
	}
	costIn, costOut := billing.CostFor(m.Pricing, u.InputTokens, u.OutputTokens)
	_, err := m.Recorder.Record(context.WithoutCancel(ctx), billing.Usage{
		UserID:       turn.UserID,
		ChatroomID:   turn.ChatroomID,
		Provider:     m.Provider,
		Model:        m.Model,
		RequestID:    turn.RequestID + ":" + agent,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostIn:       costIn,
		CostOut:      costOut,
	})
	if err != nil {
		logger.OrNop(m.Log).Warn("agent usage not recorded", "agent", agent, "room_id", turn.ChatroomID, "error", err)
	}
}

// decodeLenient unmarshals model output into v. It strips markdown fences,
// then retries once through jsonrepair.
func decodeLenient(text string, v any) error {
	s := stripFences(text)
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}
	repaired, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the info string, e.g. ```json
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// flexInt accepts 2, 2.0 and "2".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			*f = flexInt(i)
			return nil
		}
		if x, err := n.Float64(); err == nil {
			*f = flexInt(int(x))
			return nil
		}
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if i, err := json.Number(strings.TrimSpace(s)).Int64(); err == nil {
			*f = flexInt(i)
			return nil
		}
	}
	// anything else (null, objects) leaves the zero value
	return nil
}

func clampLevel(l int) int {
	if l < 1 {
		return 1
	}
	if l > 3 {
		return 3
	}
	return l
}
