package game

import (
	"fmt"
	"time"
)

// Rewards are the settlement constants applied per record.
// Rank changes are recorded on the record but not applied to the player.
type Rewards struct {
	WinRankChange  int
	LoseRankChange int
	WinDiamonds    int64
	LoseDiamonds   int64
}

// Rules is everything the matchmaking operations need to know about the economy
// and room shape. It is built from config at startup and passed into every call.
type Rules struct {
	EntryCost         int64
	Capacity          int
	TeamCount         int
	QueueTimeout      time.Duration
	RoomTimeout       time.Duration
	MaxMatchesPerTick int
	Rewards           Rewards
}

// DefaultRules mirrors the production defaults: 16 players in 8 teams of 2, 10 diamonds to enter.
func DefaultRules() Rules {
	return Rules{
		EntryCost:         10,
		Capacity:          16,
		TeamCount:         8,
		QueueTimeout:      300 * time.Second,
		RoomTimeout:       300 * time.Second,
		MaxMatchesPerTick: 4,
		Rewards: Rewards{
			WinRankChange:  30,
			LoseRankChange: -20,
			WinDiamonds:    20,
			LoseDiamonds:   0,
		},
	}
}

// Validate rejects room shapes the team assignment cannot produce.
func (r Rules) Validate() error {
	if r.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", r.Capacity)
	}
	if r.TeamCount <= 0 {
		return fmt.Errorf("team count must be positive, got %d", r.TeamCount)
	}
	if r.Capacity%r.TeamCount != 0 {
		return fmt.Errorf("capacity %d is not a multiple of team count %d", r.Capacity, r.TeamCount)
	}
	if r.EntryCost < 0 {
		return fmt.Errorf("entry cost must not be negative, got %d", r.EntryCost)
	}
	if r.QueueTimeout <= 0 || r.RoomTimeout <= 0 {
		return fmt.Errorf("queue and room timeouts must be positive")
	}
	if r.Rewards.WinDiamonds < 0 || r.Rewards.LoseDiamonds < 0 {
		return fmt.Errorf("diamond rewards must not be negative")
	}
	return nil
}

// TeamSize is the number of players seated on each team
func (r Rules) TeamSize() int {
	return r.Capacity / r.TeamCount
}

// NeedPlayers is how many more entries the queue needs before a room can form
func (r Rules) NeedPlayers(queueCount int) int {
	if need := r.Capacity - queueCount; need > 0 {
		return need
	}
	return 0
}
