// Package orchestrator runs the agents for one user message: intimacy and
// vocabulary analysis next to the streamed conversation reply, followed by a
// summary merge into the room's progress document.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/common"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/progress"
	"github.com/suPer8Hu/chat-agents/internal/push"
)

const DefaultSummaryWindow = 20

type Conversation interface {
	Respond(ctx context.Context, turn agent.Turn, content string) agent.ConversationResponse
}

type Intimacy interface {
	Analyze(ctx context.Context, turn agent.Turn, content string) agent.IntimacyResponse
}

type Vocabulary interface {
	Extract(ctx context.Context, turn agent.Turn, content string, level int) agent.VocabularyResponse
}

type Summarizer interface {
	Summarize(ctx context.Context, turn agent.Turn, window int, previous string) agent.Summary
}

type ProgressStore interface {
	Level(ctx context.Context, roomID string) int
	Get(ctx context.Context, roomID string) (*chat.IntimacyProgress, error)
	Update(ctx context.Context, roomID string, userID uint64, fn func(p *chat.IntimacyProgress) error) (*chat.IntimacyProgress, error)
}

type Agents struct {
	Conversation Conversation
	Intimacy     Intimacy
	Vocabulary   Vocabulary
	Summarizer   Summarizer
}

type Orchestrator struct {
	agents   Agents
	progress ProgressStore
	pub      push.Publisher
	window   int
	log      *logger.Logger
	now      func() time.Time
}

func New(agents Agents, store ProgressStore, pub push.Publisher, window int, log *logger.Logger) *Orchestrator {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	return &Orchestrator{
		agents:   agents,
		progress: store,
		pub:      pub,
		window:   window,
		log:      logger.OrNop(log).With("component", "orchestrator"),
		now:      time.Now,
	}
}

// ProcessUserMessage returns once every branch has finished. Agent failures
// are pushed to the room by the agents themselves; the returned error only
// reports a failed reply or a panicking branch.
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, chatroomID string, userID uint64, msg *chat.Message) error {
	if msg == nil {
		return errors.New("orchestrator: nil message")
	}
	start := time.Now()
	defer func() {
		metrics.TurnDuration.WithLabelValues(string(chat.ModeMulti)).Observe(time.Since(start).Seconds())
	}()

	turn := agent.Turn{ChatroomID: chatroomID, UserID: userID, RequestID: uuid.NewString()}
	log := o.log.With("room_id", chatroomID, "message_id", msg.ID, "request_id", turn.RequestID)
	level := o.progress.Level(ctx, chatroomID)

	var g errgroup.Group
	g.Go(func() error {
		return o.analyze(ctx, turn, msg.Content, level)
	})
	g.Go(func() error {
		return o.converse(ctx, turn, msg.Content)
	})

	err := g.Wait()
	if err != nil {
		log.Warn("turn finished with errors", "error", err)
	} else {
		log.Debug("turn finished", "elapsed", time.Since(start))
	}
	return err
}

// analyze runs intimacy and vocabulary side by side and pushes the digest
// once both are done.
func (o *Orchestrator) analyze(ctx context.Context, turn agent.Turn, content string, level int) error {
	intimacy := agent.IntimacyResponse{DetectedLevel: chat.DefaultIntimacyLevel, Degraded: true}
	var vocab agent.VocabularyResponse

	var g errgroup.Group
	g.Go(func() error {
		return o.guard(ctx, turn, "intimacy", func() {
			intimacy = o.agents.Intimacy.Analyze(ctx, turn, content)
		})
	})
	g.Go(func() error {
		return o.guard(ctx, turn, "vocabulary", func() {
			vocab = o.agents.Vocabulary.Extract(ctx, turn, content, level)
		})
	})
	err := g.Wait()

	o.pub.Publish(ctx, turn.ChatroomID, push.EventAggregatedComplete, map[string]any{
		"intimacy": map[string]any{
			"detectedLevel":     intimacy.DetectedLevel,
			"correctedSentence": intimacy.CorrectedSentence,
			"feedback":          intimacy.Feedback,
		},
		"vocabulary": map[string]any{
			"words": len(vocab.Words),
		},
	})
	return err
}

// converse streams the reply and, only when it was stored, folds a fresh
// summary into the progress document.
func (o *Orchestrator) converse(ctx context.Context, turn agent.Turn, content string) error {
	var reply agent.ConversationResponse
	if err := o.guard(ctx, turn, "conversation", func() {
		reply = o.agents.Conversation.Respond(ctx, turn, content)
	}); err != nil {
		return err
	}
	if reply.Err != nil {
		return fmt.Errorf("conversation: %w", reply.Err)
	}
	return o.guard(ctx, turn, "summarizer", func() {
		o.mergeSummary(ctx, turn)
	})
}

func (o *Orchestrator) mergeSummary(ctx context.Context, turn agent.Turn) {
	room := turn.ChatroomID
	previous := ""
	if p, err := o.progress.Get(ctx, room); err == nil {
		if s, ok := p.Doc().LatestSummary(); ok {
			previous = s.Summary
		}
	}

	sum := o.agents.Summarizer.Summarize(ctx, turn, o.window, previous)
	if sum.Empty() {
		return
	}

	entry := sum.Entry(common.MustULID())
	now := o.now()
	_, err := o.progress.Update(context.WithoutCancel(ctx), room, turn.UserID, func(p *chat.IntimacyProgress) error {
		p.SetDoc(progress.MergeSummary(p.Doc(), entry, p.IntimacyLevel, now))
		return nil
	})
	if err != nil {
		o.log.Error("summary merge failed", "room_id", room, "summary_id", entry.ID, "error", err)
		o.pub.Publish(ctx, room, push.EventAIError, push.ErrorEvent("summarizer", err.Error()))
	}
}

// guard turns a panic in fn into an ai_error event and a returned error.
func (o *Orchestrator) guard(ctx context.Context, turn agent.Turn, name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s agent panic: %v", name, r)
			o.log.Error("agent panic", "agent", name, "room_id", turn.ChatroomID, "panic", r, "stack", string(debug.Stack()))
			metrics.AgentRuns.WithLabelValues(name, "panic").Inc()
			o.pub.Publish(ctx, turn.ChatroomID, push.EventAIError, push.ErrorEvent(name, "internal error"))
		}
	}()
	fn()
	return nil
}
