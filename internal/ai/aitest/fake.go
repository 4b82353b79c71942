// Package aitest provides a scripted ai.Completer for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/suPer8Hu/chat-agents/internal/ai"
)

// Script is what one Stream call produces: the chunks in order, an optional
// trailing usage frame, then Err (nil for a clean end).
type Script struct {
	Chunks []string
	Usage  *ai.Usage
	Err    error
}

func Reply(text string, in, out int) Script {
	return Script{Chunks: []string{text}, Usage: &ai.Usage{InputTokens: in, OutputTokens: out}}
}

func Fail(err error) Script { return Script{Err: err} }

// Fake answers each call with Respond(req, n) where n counts calls from 0.
type Fake struct {
	Respond func(req ai.Request, n int) Script

	mu    sync.Mutex
	calls []ai.Request
}

func Fixed(s Script) *Fake {
	return &Fake{Respond: func(ai.Request, int) Script { return s }}
}

// Sequence answers the n-th call with scripts[n], repeating the last one.
func Sequence(scripts ...Script) *Fake {
	return &Fake{Respond: func(_ ai.Request, n int) Script {
		if n >= len(scripts) {
			n = len(scripts) - 1
		}
		return scripts[n]
	}}
}

func (f *Fake) Calls() []ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ai.Request(nil), f.calls...)
}

func (f *Fake) Stream(ctx context.Context, req ai.Request) (<-chan ai.Frame, <-chan error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	s := f.Respond(req, n)
	frames := make(chan ai.Frame)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(frames)
		for _, c := range s.Chunks {
			select {
			case frames <- ai.Frame{Text: c}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if s.Usage != nil {
			u := *s.Usage
			frames <- ai.Frame{Usage: &u}
		}
		if s.Err != nil {
			errs <- s.Err
		}
	}()
	return frames, errs
}
