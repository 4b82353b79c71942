package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/common"
	"github.com/suPer8Hu/chat-agents/internal/httpapi/middleware"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type sendMessageReq struct {
	Content string `json:"content" binding:"required"`
	Mode    string `json:"mode"`
}

// SendMessage stores the user message and queues the turn. The reply arrives
// on the room's event stream.
func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var mode chat.TurnMode
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", string(chat.ModeMulti):
		mode = chat.ModeMulti
	case string(chat.ModeSingle):
		mode = chat.ModeSingle
	default:
		common.Fail(c, http.StatusBadRequest, 10004, "mode must be multi or single")
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(key) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	roomID := c.Param("room_id")
	res, err := h.ChatSvc.SubmitMessage(c.Request.Context(), chat.SubmitInput{
		UserID:         uid,
		ChatroomID:     roomID,
		Content:        req.Content,
		Mode:           mode,
		IdempotencyKey: key,
	})
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		common.Fail(c, http.StatusBadRequest, 10002, "content is empty")
		return
	case errors.Is(err, chat.ErrRoomNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "room not found")
		return
	case err != nil:
		h.Log.Error("submit message failed", "user_id", uid, "room_id", roomID, "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	data := gin.H{
		"job_id":  res.Job.ID,
		"mode":    res.Job.Mode,
		"created": res.Created,
	}
	if res.Message != nil {
		data["message_id"] = res.Message.ID
		data["sequence_number"] = res.Message.SequenceNumber
	} else {
		data["message_id"] = res.Job.MessageID
	}
	common.OK(c, data)
}

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	j, err := h.Repo.GetJobByID(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":          j.ID,
			"chatroom_id": j.ChatroomID,
			"message_id":  j.MessageID,
			"mode":        j.Mode,
			"status":      j.Status,
			"error":       j.Error,
			"created_at":  j.CreatedAt,
			"updated_at":  j.UpdatedAt,
		},
	})
}

// RoomEvents streams the room's push events as SSE until the client leaves.
func (h *Handler) RoomEvents(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	roomID := c.Param("room_id")
	room, err := h.Repo.GetRoom(c.Request.Context(), roomID)
	if err != nil || room.UserID != uid {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		common.Fail(c, http.StatusNotFound, 40401, "room not found")
		return
	}

	h.Hub.ServeSSE(c.Writer, c.Request, roomID)
}
