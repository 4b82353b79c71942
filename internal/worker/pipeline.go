package worker

import (
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-agents/internal/agent"
	"github.com/suPer8Hu/chat-agents/internal/billing"
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/orchestrator"
	"github.com/suPer8Hu/chat-agents/internal/prompt"
	"github.com/suPer8Hu/chat-agents/internal/push"
	"github.com/suPer8Hu/chat-agents/internal/streamer"
)

type PipelineConfig struct {
	LLM            agent.LLM
	Pricing        billing.Pricing
	MaxPromptChars int
	SummaryWindow  int
	Retry          streamer.RetryPolicy
	// zero keeps DefaultStaleAfter
	JobStaleAfter time.Duration
}

// NewPipeline wires both reply paths over one database and returns the job
// handler that drives them.
func NewPipeline(db *gorm.DB, pc PipelineConfig, pub push.Publisher, notifier push.Notifier, log *logger.Logger) *Handler {
	log = logger.OrNop(log)

	repo := chat.NewRepo(db)
	store := chat.NewProgressStore(db)
	composer := prompt.NewComposer(repo, store, pc.MaxPromptChars, log)
	recorder := billing.NewRecorder(db, log)
	meter := &agent.BillingMeter{
		Recorder: recorder,
		Pricing:  pc.Pricing,
		Provider: pc.LLM.Provider,
		Model:    pc.LLM.Model,
		Log:      log,
	}

	orch := orchestrator.New(orchestrator.Agents{
		Conversation: agent.NewConversation(pc.LLM, composer, repo, pub, meter, log),
		Intimacy:     agent.NewIntimacy(pc.LLM, composer, store, pub, meter, log),
		Vocabulary:   agent.NewVocabulary(pc.LLM, pub, meter, log),
		Summarizer:   agent.NewSummarizer(pc.LLM, repo, meter, log),
	}, store, pub, pc.SummaryWindow, log)

	single := streamer.New(streamer.Deps{
		LLM:      pc.LLM,
		Prompts:  composer,
		Messages: repo,
		Billing:  recorder,
		Pricing:  pc.Pricing,
		Pub:      pub,
		Notifier: notifier,
		Retry:    pc.Retry,
		Log:      log,
	})

	h := NewHandler(repo, orch, single, log)
	if pc.JobStaleAfter > 0 {
		h.WithStaleAfter(pc.JobStaleAfter)
	}
	return h
}
