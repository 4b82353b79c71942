package ai

import "context"

// Request is a single system+user completion call.
type Request struct {
	SystemPrompt string
	UserContent  string
	Model        string
	MaxTokens    int
	Temperature  float32
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) IsEmpty() bool { return u.InputTokens == 0 && u.OutputTokens == 0 }

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Frame is one parsed protocol frame of a streaming completion.
type Frame struct {
	Raw   string
	Text  string
	Usage *Usage
}

// Completer streams a chat completion.
// It returns immediately with two channels; the frame channel is closed when
// streaming ends and at most one terminal error is delivered on the error channel.
type Completer interface {
	Stream(ctx context.Context, req Request) (<-chan Frame, <-chan error)
}
