package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-agents/internal/chat"
	"github.com/suPer8Hu/chat-agents/internal/db/dbtest"
	"github.com/suPer8Hu/chat-agents/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-agents/internal/push"
)

const roomID = "01HTTPROOM0000000000000000"

type queue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *queue) PublishJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobID)
	return nil
}

type envelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func setup(t *testing.T) (*gin.Engine, *queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t, &chat.ChatRoom{}, &chat.Chatbot{}, &chat.Message{}, &chat.TurnJob{})
	repo := chat.NewRepo(db)
	bot := &chat.Chatbot{Name: "dora"}
	require.NoError(t, repo.CreateChatbot(context.Background(), bot))
	require.NoError(t, repo.CreateRoom(context.Background(), &chat.ChatRoom{ID: roomID, UserID: 5, ChatbotID: bot.ID}))

	q := &queue{}
	return NewRouter(handlers.NewHandler(repo, q, push.NewHub(nil), nil), []string{"http://localhost:3000"}, nil), q
}

func do(t *testing.T, r http.Handler, method, path, user, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestPing(t *testing.T) {
	r, _ := setup(t)
	w, env := do(t, r, http.MethodGet, "/ping", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSendMessage(t *testing.T) {
	r, q := setup(t)
	path := "/chat/rooms/" + roomID + "/messages"

	w, env := do(t, r, http.MethodPost, path, "5", `{"content":"안녕","mode":"single"}`, map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "single", env.Data["mode"])
	assert.Equal(t, true, env.Data["created"])
	jobID := env.Data["job_id"].(string)
	assert.Equal(t, []string{jobID}, q.jobs)

	// replay with the same key
	w, env = do(t, r, http.MethodPost, path, "5", `{"content":"안녕","mode":"single"}`, map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, env.Data["created"])
	assert.Equal(t, jobID, env.Data["job_id"])
	assert.Len(t, q.jobs, 1)

	w, env = do(t, r, http.MethodGet, "/chat/jobs/"+jobID, "5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", env.Data["job"].(map[string]any)["status"])

	w, _ = do(t, r, http.MethodGet, "/chat/jobs/"+jobID, "6", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage_Errors(t *testing.T) {
	r, q := setup(t)
	path := "/chat/rooms/" + roomID + "/messages"

	w, env := do(t, r, http.MethodPost, path, "", `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40101, env.Code)

	w, _ = do(t, r, http.MethodPost, path, "6", `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, path, "5", `{"content":"   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, path, "5", `{"content":"hi","mode":"turbo"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, path, "5", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, q.jobs)
}

func TestRoomEvents_ForeignRoom(t *testing.T) {
	r, _ := setup(t)
	w, env := do(t, r, http.MethodGet, "/chat/rooms/"+roomID+"/events", "6", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)
}

func TestNoRoute(t *testing.T) {
	r, _ := setup(t)
	w, env := do(t, r, http.MethodGet, "/nope", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _ := setup(t)
	w, _ := do(t, r, http.MethodOptions, "/chat/rooms/"+roomID+"/messages", "", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
