package handlers

import (
	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/push"
)

type Handler struct {
	Repo    *chat.Repo
	ChatSvc *chat.Service
	Hub     *push.Hub
	Log     *logger.Logger
}

func NewHandler(repo *chat.Repo, queue chat.Enqueuer, hub *push.Hub, log *logger.Logger) *Handler {
	log = logger.OrNop(log)
	return &Handler{
		Repo:    repo,
		ChatSvc: chat.NewService(repo, queue, log),
		Hub:     hub,
		Log:     log.With("component", "httpapi"),
	}
}
