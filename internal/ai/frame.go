package ai

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const doneMarker = "[DONE]"

// ParseFrame decodes one raw SSE payload. ok is false for frames that should be
// skipped: malformed JSON, the [DONE] marker, and frames carrying neither text
// nor usage.
func ParseFrame(raw string) (Frame, bool) {
	data := strings.TrimSpace(raw)
	data = strings.TrimSpace(strings.TrimPrefix(data, "data:"))
	if data == "" || data == doneMarker {
		return Frame{}, false
	}

	var decoded openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		return Frame{}, false
	}

	f := Frame{Raw: data}
	var b strings.Builder
	for _, ch := range decoded.Choices {
		b.WriteString(ch.Delta.Content)
	}
	f.Text = b.String()

	if decoded.Usage != nil {
		u := Usage{InputTokens: decoded.Usage.PromptTokens, OutputTokens: decoded.Usage.CompletionTokens}
		if !u.IsEmpty() {
			f.Usage = &u
		}
	}

	if f.Text == "" && f.Usage == nil {
		return Frame{}, false
	}
	return f, true
}
