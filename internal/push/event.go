// Package push delivers typed events to clients watching a chat room, either
// in-process (Hub) or across processes over Redis pub/sub (RedisBus).
package push

import "context"

const (
	EventIntimacyAnalysis     = "intimacy_analysis"
	EventVocabularyExtracted  = "vocabulary_extracted"
	EventConversationChunk    = "conversation_chunk"
	EventConversationComplete = "conversation_complete"
	EventAggregatedComplete   = "aggregated_complete"
	EventAIUsage              = "ai_usage"
	EventAIUsageTotal         = "ai_usage_total"
	EventAIInfo               = "ai_info"
	EventAIResponse           = "ai_response"
	EventAIResponseDone       = "ai_response_done"
	EventAIError              = "ai_error"
	EventPing                 = "ping"
)

type Event struct {
	ChatroomID string         `json:"chatroom_id"`
	Type       string         `json:"event"`
	Data       map[string]any `json:"data"`
}

// Publisher sends an event to everyone watching a room. Delivery is best
// effort: a room with no listeners makes Publish a no-op.
type Publisher interface {
	Publish(ctx context.Context, roomID, eventType string, data map[string]any)
}

// Completion is the cross-process "AI response complete" notification.
type Completion struct {
	ChatroomID  string `json:"chatroomId"`
	MessageID   uint64 `json:"messageId"`
	Content     string `json:"content"`
	TotalTokens int    `json:"totalTokens"`
}

type Notifier interface {
	NotifyComplete(ctx context.Context, c Completion) error
}

// ErrorEvent is the payload of ai_error.
func ErrorEvent(agent, message string) map[string]any {
	return map[string]any{"agent": agent, "message": message}
}
