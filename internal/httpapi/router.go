package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/chat-agents/internal/common"
	"github.com/suPer8Hu/chat-agents/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-agents/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-agents/internal/logger"
)

func NewRouter(h *handlers.Handler, corsOrigins []string, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	if len(corsOrigins) > 0 {
		r.Use(middleware.CORS(corsOrigins))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// user id comes from the gateway
	chatGroup := r.Group("/chat")
	chatGroup.Use(middleware.GatewayUser())
	chatGroup.POST("/rooms/:room_id/messages", h.SendMessage)
	chatGroup.GET("/rooms/:room_id/events", h.RoomEvents)
	chatGroup.GET("/jobs/:job_id", h.GetJob)
	return r
}
