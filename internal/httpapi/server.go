// Package httpapi is the outer surface: REST endpoints, the websocket
// upgrade, auth resolution and the middleware chain.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"chatcore/internal/config"
	"chatcore/internal/obs"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Chat           ChatHandler
	WS             *WSHandler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	obsMW.Logger.Info("gin initialized", "mode", mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	api.POST("/conversations", h.Chat.CreateConversation)
	api.GET("/conversations", h.Chat.ListConversations)
	api.GET("/conversations/:id", h.Chat.GetConversation)
	api.GET("/conversations/:id/messages", h.Chat.ListMessages)
	api.POST("/conversations/:id/messages", h.Chat.SendMessage)
	api.POST("/conversations/:id/read", h.Chat.MarkRead)
	api.GET("/conversations/:id/search", h.Chat.SearchMessages)
	api.GET("/conversations/:id/analytics", h.Chat.ConversationAnalytics)
	api.GET("/analytics/engagement", h.Chat.UserEngagement)

	api.PATCH("/messages/:id", h.Chat.EditMessage)
	api.DELETE("/messages/:id", h.Chat.DeleteMessage)
	api.POST("/messages/:id/reactions", h.Chat.React)
	api.DELETE("/messages/:id/reactions", h.Chat.RemoveReaction)
	api.GET("/messages/:id/reactions", h.Chat.ListReactions)

	api.POST("/keys/rotate", h.Chat.RotateKey)
	api.GET("/keys/:id", h.Chat.PublicKey)
	api.GET("/presence/online", h.Chat.OnlineStatus)

	api.POST("/tasks/analytics", h.Chat.TriggerAnalytics)
	api.POST("/tasks/cleanup", h.Chat.TriggerCleanup)
	api.GET("/tasks/:id", h.Chat.JobStatus)

	if h.WS != nil {
		router.GET("/ws/conversations/:id", h.WS.Connect)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
