package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Board/internal/adapters/signal"
	"github.com/dkeye/Board/internal/app/hub"
	"github.com/dkeye/Board/internal/config"
	"github.com/dkeye/Board/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("BoardSessions", store))
	r.Use(ClientTokenMiddleware())

	ctl := signal.NewController(h, signal.Options{ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod})
	rooms := &roomHandlers{hub: h}

	api := r.Group("/api")
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "users": len(h.Devices().Users())})
	})
	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleConnect(ctx, c)
	})
	api.GET("/rooms/:room/presence", rooms.presence)
	api.GET("/rooms/:room/lock", rooms.lockState)
	api.POST("/rooms/:room/lock", rooms.setLock(true))
	api.DELETE("/rooms/:room/lock", rooms.setLock(false))
	api.DELETE("/users/:user/devices", func(c *gin.Context) {
		user := domain.UserID(c.Param("user"))
		c.JSON(http.StatusOK, gin.H{"user": user, "kicked": h.Devices().Kick(user)})
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type roomHandlers struct {
	hub *hub.Hub
}

func (rh *roomHandlers) presence(c *gin.Context) {
	room := domain.WhiteboardID(c.Param("room"))
	rows, err := rh.hub.ReadRows(c.Request.Context(), room)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("whiteboard_id", string(room)).Msg("read presence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "rows": rows})
}

func (rh *roomHandlers) lockState(c *gin.Context) {
	room := domain.WhiteboardID(c.Param("room"))
	locked, err := rh.hub.Locked(c.Request.Context(), room)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("whiteboard_id", string(room)).Msg("read lock")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "locked": locked})
}

func (rh *roomHandlers) setLock(locked bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := domain.WhiteboardID(c.Param("room"))
		if err := rh.hub.SetLocked(c.Request.Context(), room, locked); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("whiteboard_id", string(room)).Msg("set lock")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "locked": locked})
	}
}
