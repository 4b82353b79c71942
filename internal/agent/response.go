package agent

import "github.com/suPer8Hu/chat-agents/internal/ai"

// Response is the closed set of agent results. The unexported method keeps
// other packages from adding variants, so type switches over it are exhaustive.
type Response interface {
	agentResponse()
}

type Feedback struct {
	Ko string `json:"ko"`
	En string `json:"en"`
}

type IntimacyResponse struct {
	DetectedLevel     int
	CorrectedSentence string
	Feedback          Feedback
	Corrections       string
	// Degraded is set when the model output could not be used and the
	// defaults were returned instead.
	Degraded bool
}

type WordContext struct {
	Roma string `json:"roma"`
	Ko   string `json:"ko"`
	En   string `json:"en"`
}

type Word struct {
	Word       string      `json:"word"`
	Difficulty int         `json:"difficulty"`
	Context    WordContext `json:"context"`
}

type VocabularyResponse struct {
	Words []Word
}

type ConversationResponse struct {
	MessageID uint64
	Content   string
	Usage     ai.Usage
	Err       error
}

func (IntimacyResponse) agentResponse()     {}
func (VocabularyResponse) agentResponse()   {}
func (ConversationResponse) agentResponse() {}

// Name is the agent label used in logs, metrics and ai_error payloads.
func Name(r Response) string {
	switch r.(type) {
	case IntimacyResponse:
		return "intimacy"
	case VocabularyResponse:
		return "vocabulary"
	case ConversationResponse:
		return "conversation"
	default:
		panic("agent: unknown response type")
	}
}

// Payload renders r as the data of its push event.
func Payload(r Response) map[string]any {
	switch v := r.(type) {
	case IntimacyResponse:
		return map[string]any{
			"detectedLevel":     v.DetectedLevel,
			"correctedSentence": v.CorrectedSentence,
			"feedback":          v.Feedback,
			"corrections":       v.Corrections,
		}
	case VocabularyResponse:
		words := v.Words
		if words == nil {
			words = []Word{}
		}
		return map[string]any{"words": words}
	case ConversationResponse:
		return map[string]any{"messageId": v.MessageID, "content": v.Content}
	default:
		panic("agent: unknown response type")
	}
}
