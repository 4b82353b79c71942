// Package worker executes queued chat turns.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
)

// DefaultStaleAfter bounds how long a running job may go without an update
// before a redelivery re-claims it.
const DefaultStaleAfter = 10 * time.Minute

// ErrSkipped marks a job that was not run because it is finished or another
// live worker holds it. Callers should ack it.
var ErrSkipped = errors.New("turn job already taken")

type MultiAgent interface {
	ProcessUserMessage(ctx context.Context, chatroomID string, userID uint64, msg *chat.Message) error
}

type SingleAgent interface {
	Stream(ctx context.Context, userID uint64, msg *chat.Message) error
}

type Handler struct {
	repo       *chat.Repo
	multi      MultiAgent
	single     SingleAgent
	staleAfter time.Duration
	log        *logger.Logger
}

func NewHandler(repo *chat.Repo, multi MultiAgent, single SingleAgent, log *logger.Logger) *Handler {
	return &Handler{
		repo:       repo,
		multi:      multi,
		single:     single,
		staleAfter: DefaultStaleAfter,
		log:        logger.OrNop(log).With("component", "worker.Handler"),
	}
}

// WithStaleAfter overrides DefaultStaleAfter; d <= 0 disables re-claiming.
func (h *Handler) WithStaleAfter(d time.Duration) *Handler {
	h.staleAfter = d
	return h
}

// Handle runs one turn job to completion and records its final status.
func (h *Handler) Handle(ctx context.Context, jobID string) error {
	start := time.Now()

	ok, err := h.repo.MarkJobRunning(ctx, jobID, h.staleAfter)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		return ErrSkipped
	}

	job, err := h.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return h.fail(ctx, jobID, fmt.Errorf("load job: %w", err))
	}
	msg, err := h.repo.GetMessage(ctx, job.MessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("message %d not found", job.MessageID)
		}
		return h.fail(ctx, jobID, err)
	}

	switch job.Mode {
	case chat.ModeSingle:
		err = h.single.Stream(ctx, job.UserID, msg)
	default:
		err = h.multi.ProcessUserMessage(ctx, job.ChatroomID, job.UserID, msg)
	}
	if err != nil {
		return h.fail(ctx, jobID, err)
	}

	if err := h.repo.MarkJobSucceeded(context.WithoutCancel(ctx), jobID); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		h.log.Info("slow turn", "job_id", jobID, "mode", job.Mode, "elapsed", d)
	}
	return nil
}

func (h *Handler) fail(ctx context.Context, jobID string, cause error) error {
	if err := h.repo.MarkJobFailed(context.WithoutCancel(ctx), jobID, cause.Error()); err != nil {
		h.log.Error("mark failed", "job_id", jobID, "error", err)
	}
	return cause
}
