package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/game"
	"github.com/teamclash/backend/internal/middleware"
	"github.com/teamclash/backend/internal/store"
)

// JoinMatch charges the entry cost and puts the caller in the match queue
func JoinMatch(st store.Store, bc events.Broadcaster, rules game.Rules) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := game.JoinQueue(c.Request.Context(), st, bc, rules, middleware.PlayerID(c), time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "joined match queue", res)
	}
}

// LeaveMatch takes the caller out of the queue and refunds the entry cost.
// Leaving without a queue entry is reported as not_queued.
func LeaveMatch(st store.Store, bc events.Broadcaster, rules game.Rules) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := game.LeaveQueue(c.Request.Context(), st, bc, rules, middleware.PlayerID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		if !res.Left {
			respondError(c, game.ErrNotQueued)
			return
		}
		respondOK(c, "left match queue", res)
	}
}

// MatchStatus reports whether the caller is queued and how many players are waiting
func MatchStatus(st store.Store, rules game.Rules) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := game.GetQueueStatus(c.Request.Context(), st, rules, middleware.PlayerID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "", status)
	}
}
