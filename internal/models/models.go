package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// RoomStatus is the persisted lifecycle state of a game room
type RoomStatus string

const (
	RoomReady    RoomStatus = "READY"
	RoomPlaying  RoomStatus = "PLAYING"
	RoomFinished RoomStatus = "FINISHED"
)

// RecordResult is the settled outcome of one player's seat in a room
type RecordResult string

const (
	ResultWin  RecordResult = "WIN"
	ResultLose RecordResult = "LOSE"
)

// LedgerReason labels why a balance moved
type LedgerReason string

const (
	ReasonMatchEntry  LedgerReason = "MATCH_ENTRY"
	ReasonMatchRefund LedgerReason = "MATCH_REFUND"
	ReasonMatchReward LedgerReason = "MATCH_REWARD"
	ReasonAdminGrant  LedgerReason = "ADMIN_GRANT"
)

// Player represents a user in the system
type Player struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Nickname  string    `db:"nickname" json:"nickname"`
	Balance   int64     `db:"balance" json:"diamonds"`
	Rank      int       `db:"rank" json:"rank"`
	Wins      int       `db:"wins" json:"wins"`
	Losses    int       `db:"losses" json:"losses"`
	IsOnline  bool      `db:"is_online" json:"is_online"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// QueueEntry represents a charged player waiting for a match.
// EntryCost is what the join debited and what a refund returns.
type QueueEntry struct {
	PlayerID     string    `db:"player_id" json:"player_id"`
	RankSnapshot int       `db:"rank_snapshot" json:"rank"`
	EntryCost    int64     `db:"entry_cost" json:"entry_cost"`
	JoinedAt     time.Time `db:"joined_at" json:"joined_at"`
}

// Room is one formed match
type Room struct {
	ID          string       `db:"id" json:"id"`
	Status      RoomStatus   `db:"status" json:"status"`
	PlayerCount int          `db:"player_count" json:"player_count"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	StartedAt   sql.NullTime `db:"started_at" json:"-"`
	EndedAt     sql.NullTime `db:"ended_at" json:"-"`
}

// Team belongs to exactly one room
type Team struct {
	ID         string `db:"id" json:"id"`
	RoomID     string `db:"room_id" json:"room_id"`
	TeamNumber int    `db:"team_number" json:"team_number"`
	AvgRank    int    `db:"avg_rank" json:"avg_rank"`
}

// Record links a player to the team they were seated on
type Record struct {
	ID             string         `db:"id" json:"id"`
	PlayerID       string         `db:"player_id" json:"player_id"`
	RoomID         string         `db:"room_id" json:"room_id"`
	TeamID         string         `db:"team_id" json:"team_id"`
	Result         sql.NullString `db:"result" json:"-"`
	RankChange     int            `db:"rank_change" json:"rank_change"`
	DiamondsEarned int64          `db:"diamonds_earned" json:"diamonds_earned"`
	EntryCost      int64          `db:"entry_cost" json:"entry_cost"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Settled reports whether settlement has stamped this record
func (r Record) Settled() bool {
	return r.Result.Valid
}

// MarshalJSON exposes the result as "WIN", "LOSE" or null
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	var result *string
	if r.Result.Valid {
		result = &r.Result.String
	}
	return json.Marshal(struct {
		plain
		Result *string `json:"result"`
	}{plain(r), result})
}

// LedgerEntry is an audit row for a single balance movement
type LedgerEntry struct {
	ID           int64        `db:"id" json:"id"`
	PlayerID     string       `db:"player_id" json:"player_id"`
	Amount       int64        `db:"amount" json:"amount"`
	BalanceAfter int64        `db:"balance_after" json:"balance_after"`
	Reason       LedgerReason `db:"reason" json:"reason"`
	Reference    string       `db:"reference" json:"reference,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}
