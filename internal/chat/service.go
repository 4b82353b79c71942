package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-agents/internal/common"
	"github.com/suPer8Hu/chat-agents/internal/logger"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrRoomNotFound = errors.New("chat room not found")
)

// Enqueuer hands a turn job to the worker fleet.
type Enqueuer interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Service struct {
	repo  *Repo
	queue Enqueuer
	log   *logger.Logger
}

func NewService(repo *Repo, queue Enqueuer, log *logger.Logger) *Service {
	return &Service{repo: repo, queue: queue, log: logger.OrNop(log).With("component", "chat.Service")}
}

type SubmitInput struct {
	UserID         uint64
	ChatroomID     string
	Content        string
	Mode           TurnMode
	IdempotencyKey string
}

type SubmitResult struct {
	Job     *TurnJob
	Message *Message // nil when an existing job was returned
	Created bool
}

// SubmitMessage persists the user message, records a queued turn job and
// publishes it. It returns as soon as the job is on the queue.
func (s *Service) SubmitMessage(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if in.Mode == "" {
		in.Mode = ModeMulti
	}

	room, err := s.repo.GetRoom(ctx, in.ChatroomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	// don't leak other users' rooms
	if room.UserID != in.UserID {
		return nil, ErrRoomNotFound
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	uid := in.UserID
	msg := &Message{
		ChatroomID:  room.ID,
		SenderType:  SenderUser,
		SenderID:    &uid,
		Content:     content,
		ContentType: "text",
	}
	job := &TurnJob{
		ID:     jobID,
		UserID: in.UserID,
		Mode:   in.Mode,
		Status: JobQueued,
	}
	if k := strings.TrimSpace(in.IdempotencyKey); k != "" {
		job.IdempotencyKey = &k
	}

	got, created, err := s.repo.CreateTurn(ctx, msg, job)
	if err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	if !created {
		return &SubmitResult{Job: got}, nil
	}

	if err := s.queue.PublishJob(ctx, got.ID); err != nil {
		s.log.Error("publish turn job failed", "job_id", got.ID, "room_id", room.ID, "error", err)
		_ = s.repo.MarkJobFailed(context.WithoutCancel(ctx), got.ID, "enqueue failed: "+err.Error())
		return nil, fmt.Errorf("enqueue turn: %w", err)
	}

	return &SubmitResult{Job: got, Message: msg, Created: true}, nil
}
