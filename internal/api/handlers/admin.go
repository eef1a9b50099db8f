package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teamclash/backend/internal/admin"
	"github.com/teamclash/backend/internal/store"
)

// AdminSetRank overwrites a player's skill rank
func AdminSetRank(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Rank *int `json:"rank" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "Invalid request. rank required.")
			return
		}

		player, err := admin.AdjustRank(c.Request.Context(), st, c.Param("id"), *req.Rank)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "rank updated", player)
	}
}

// AdminGrantDiamonds credits diamonds to a player
func AdminGrantDiamonds(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Amount int64 `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "Invalid request. amount required.")
			return
		}

		balance, err := admin.GrantDiamonds(c.Request.Context(), st, c.Param("id"), req.Amount)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, "diamonds granted", gin.H{"playerId": c.Param("id"), "diamonds": balance})
	}
}
