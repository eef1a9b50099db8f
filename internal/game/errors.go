package game

import (
	"errors"

	"github.com/teamclash/backend/internal/accounts"
)

var (
	ErrInsufficientFunds = accounts.ErrInsufficientFunds
	ErrPlayerNotFound    = accounts.ErrPlayerNotFound

	ErrAlreadyQueued  = errors.New("player is already in the match queue")
	ErrNotQueued      = errors.New("player is not in the match queue")
	ErrInActiveRoom   = errors.New("player already has an unfinished room")
	ErrQueueNotReady  = errors.New("not enough queued players to form a room")
	ErrRoomNotFound   = errors.New("game room not found")
	ErrAlreadySettled = errors.New("game room already settled")
	ErrNotRoomMember  = errors.New("player is not in this game room")
	ErrInvalidWinners = errors.New("winnerTeamIds must name at least one team of the room")
)
