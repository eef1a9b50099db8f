package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/api/handlers"
	"github.com/teamclash/backend/internal/config"
	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/game"
	"github.com/teamclash/backend/internal/middleware"
	"github.com/teamclash/backend/internal/store"
	"github.com/teamclash/backend/internal/ws"
)

// Deps are the collaborators the routes hand to their handlers
type Deps struct {
	Config      *config.Config
	Store       store.Store
	Broadcaster events.Broadcaster
	Rules       game.Rules
	WS          *ws.Handler
	Log         zerolog.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.RequestLogger(d.Log))
	router.Use(middleware.CORSMiddleware(d.Config, d.Log))

	if !d.Config.IsProduction() {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
	}

	health := handlers.HealthCheck(d.Config.StoreDriver)
	router.GET("/health", health)

	requirePlayer := middleware.RequirePlayer(d.Config.JWTSecret)

	if d.WS != nil {
		router.GET("/ws",
			middleware.WebSocketOriginCheck(d.Config),
			requirePlayer,
			d.WS.Serve(middleware.PlayerIDKey),
		)
	}

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check (also served at /health)
		v1.GET("/health", health)

		game := v1.Group("/game", requirePlayer)
		{
			game.POST("/match/join", handlers.JoinMatch(d.Store, d.Broadcaster, d.Rules))
			game.POST("/match/leave", handlers.LeaveMatch(d.Store, d.Broadcaster, d.Rules))
			game.GET("/match/status", handlers.MatchStatus(d.Store, d.Rules))

			game.GET("/room/current", handlers.CurrentRoom(d.Store))
			game.GET("/room/:roomId", handlers.GetRoom(d.Store))
			game.POST("/room/:roomId/finish", handlers.FinishRoom(d.Store, d.Broadcaster, d.Rules))
		}

		admin := v1.Group("/admin", middleware.RequireAdmin(d.Config.AdminTokenHash))
		{
			admin.PUT("/players/:id/rank", handlers.AdminSetRank(d.Store))
			admin.POST("/players/:id/diamonds", handlers.AdminGrantDiamonds(d.Store))
		}
	}
}
