package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/game"
	"github.com/teamclash/backend/internal/middleware"
	"github.com/teamclash/backend/internal/store"
)

// CurrentRoom returns the caller's unfinished room and team, or null data
func CurrentRoom(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := game.CurrentRoom(c.Request.Context(), st, middleware.PlayerID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "", view)
	}
}

// GetRoom returns a room's roster; only its participants may read it
func GetRoom(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := game.GetRoom(c.Request.Context(), st, c.Param("roomId"), middleware.PlayerID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "", room)
	}
}

// FinishRoom settles a room. The caller must hold a seat in it.
func FinishRoom(st store.Store, bc events.Broadcaster, rules game.Rules) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			WinnerTeamIDs []string `json:"winnerTeamIds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "Invalid request. winnerTeamIds required.")
			return
		}

		res, err := game.Finish(c.Request.Context(), st, bc, rules, game.FinishRequest{
			RoomID:         c.Param("roomId"),
			WinningTeamIDs: req.WinnerTeamIDs,
			CallerID:       middleware.PlayerID(c),
		}, time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "game settled", res)
	}
}
