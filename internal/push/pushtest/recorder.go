// Package pushtest provides an in-memory push.Publisher/push.Notifier for tests.
package pushtest

import (
	"context"
	"sync"

	"github.com/suPer8Hu/chat-agents/internal/push"
)

type Recorder struct {
	mu          sync.Mutex
	events      []push.Event
	completions []push.Completion
}

func (r *Recorder) Publish(ctx context.Context, roomID, eventType string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, push.Event{ChatroomID: roomID, Type: eventType, Data: data})
}

func (r *Recorder) NotifyComplete(ctx context.Context, c push.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
	return nil
}

func (r *Recorder) Events() []push.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Event(nil), r.events...)
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *Recorder) OfType(t string) []push.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []push.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Completions() []push.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Completion(nil), r.completions...)
}
