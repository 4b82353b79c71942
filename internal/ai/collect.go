package ai

import (
	"context"
	"strings"
)

type Result struct {
	Text  string
	Usage Usage
}

// Collect drains a stream. onFrame, when non-nil, sees every frame in order
// before it is accumulated.
func Collect(ctx context.Context, c Completer, req Request, onFrame func(Frame)) (Result, error) {
	frames, errs := c.Stream(ctx, req)

	var b strings.Builder
	var usage Usage
	for f := range frames {
		if onFrame != nil {
			onFrame(f)
		}
		b.WriteString(f.Text)
		if f.Usage != nil {
			usage.InputTokens += f.Usage.InputTokens
			usage.OutputTokens += f.Usage.OutputTokens
		}
	}

	// frames is closed before errs, so a pending error is already buffered
	if err := <-errs; err != nil {
		return Result{Text: b.String(), Usage: usage}, err
	}
	return Result{Text: b.String(), Usage: usage}, nil
}
