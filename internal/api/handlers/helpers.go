package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/accounts"
	"github.com/teamclash/backend/internal/admin"
	"github.com/teamclash/backend/internal/game"
	"github.com/teamclash/backend/internal/store"
)

type apiError struct {
	status int
	code   string
}

// errorTable maps domain sentinels to their HTTP status and stable code.
// Order matters only where errors alias each other.
var errorTable = []struct {
	err error
	apiError
}{
	{game.ErrInsufficientFunds, apiError{http.StatusBadRequest, "insufficient_funds"}},
	{game.ErrAlreadyQueued, apiError{http.StatusBadRequest, "already_queued"}},
	{game.ErrNotQueued, apiError{http.StatusBadRequest, "not_queued"}},
	{game.ErrInActiveRoom, apiError{http.StatusConflict, "in_active_room"}},
	{game.ErrInvalidWinners, apiError{http.StatusBadRequest, "invalid_winners"}},
	{game.ErrPlayerNotFound, apiError{http.StatusNotFound, "player_not_found"}},
	{game.ErrRoomNotFound, apiError{http.StatusNotFound, "room_not_found"}},
	{game.ErrNotRoomMember, apiError{http.StatusForbidden, "not_room_member"}},
	{game.ErrAlreadySettled, apiError{http.StatusConflict, "already_settled"}},
	{accounts.ErrInvalidAmount, apiError{http.StatusBadRequest, "invalid_amount"}},
	{admin.ErrInvalidRank, apiError{http.StatusBadRequest, "invalid_rank"}},
	{store.ErrConflict, apiError{http.StatusConflict, "state_conflict"}},
}

// respondError writes the failure envelope. Unknown errors are logged and
// reported as 500 without detail.
func respondError(c *gin.Context, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			fail(c, e.status, e.code, e.err.Error())
			return
		}
	}

	zerolog.Ctx(c.Request.Context()).Error().Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("request failed")
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func respondOK(c *gin.Context, message string, data interface{}) {
	body := gin.H{"success": true, "data": data}
	if message != "" {
		body["message"] = message
	}
	c.JSON(http.StatusOK, body)
}
