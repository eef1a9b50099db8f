// Package events defines the notifications pushed to clients and the
// Broadcaster capability that delivers them. Delivery is best-effort and
// at-most-once; a client that misses an event reconciles through the status
// endpoints.
package events

import (
	"context"
	"sync"
)

// Event names are part of the client contract.
const (
	QueueUpdate   = "queue_update"
	MatchFound    = "match_found"
	MatchFailed   = "match_failed"
	MatchCreated  = "match_created"
	GameResults   = "game_results"
	MatchCanceled = "match_canceled"

	// room presence, relayed between clients following a room
	PlayerJoined = "player_joined"
	PlayerLeft   = "player_left"
	PlayerReady  = "player_ready"
)

// AudienceKind selects who receives an event
type AudienceKind string

const (
	AudiencePlayer AudienceKind = "player"
	AudienceRoom   AudienceKind = "room"
	AudienceAll    AudienceKind = "all"
)

// Audience addresses one player, a room's participants or every connected client.
// Members lists the room's players so delivery does not depend on clients
// having subscribed to the room. Except names a player who must not receive it.
type Audience struct {
	Kind    AudienceKind `json:"kind"`
	ID      string       `json:"id,omitempty"`
	Members []string     `json:"members,omitempty"`
	Except  string       `json:"except,omitempty"`
}

func ToPlayer(playerID string) Audience {
	return Audience{Kind: AudiencePlayer, ID: playerID}
}

func ToRoom(roomID string, members []string) Audience {
	return Audience{Kind: AudienceRoom, ID: roomID, Members: members}
}

func ToAll() Audience {
	return Audience{Kind: AudienceAll}
}

// Without returns a copy of the audience that skips playerID
func (a Audience) Without(playerID string) Audience {
	a.Except = playerID
	return a
}

// Event is the wire envelope {"type": ..., "data": ...}
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Broadcaster delivers events. Implementations must not block on slow clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, to Audience, e Event)
}

// Payloads

type QueueUpdatePayload struct {
	QueueCount  int `json:"queueCount"`
	NeedPlayers int `json:"needPlayers"`
}

type RosterMember struct {
	PlayerID string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Rank     int    `json:"rank"`
}

type TeamRoster struct {
	ID         string         `json:"id"`
	TeamNumber int            `json:"teamNumber"`
	AvgRank    int            `json:"avgRank"`
	Players    []RosterMember `json:"players"`
}

type MatchFoundPayload struct {
	RoomID  string       `json:"roomId"`
	Teams   []TeamRoster `json:"teams"`
	Message string       `json:"message,omitempty"`
}

type MatchFailedPayload struct {
	Message string `json:"message"`
}

type MatchCreatedPayload struct {
	RoomID      string `json:"roomId"`
	PlayerCount int    `json:"playerCount"`
	TeamsCount  int    `json:"teamsCount"`
}

type GameResultsPayload struct {
	RoomID        string   `json:"roomId"`
	WinnerTeamIDs []string `json:"winnerTeamIds"`
}

type MatchCanceledPayload struct {
	RoomID string `json:"roomId"`
}

type PlayerPresencePayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Nop drops every event
type Nop struct{}

func (Nop) Broadcast(context.Context, Audience, Event) {}

// Delivery is one recorded Broadcast call
type Delivery struct {
	To    Audience
	Event Event
}

// Recorder keeps every event in memory; used by tests and diagnostics
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (r *Recorder) Broadcast(_ context.Context, to Audience, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{To: to, Event: e})
}

// Deliveries returns a copy of everything recorded so far
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// OfType returns the deliveries with the given event name
func (r *Recorder) OfType(name string) []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries() {
		if d.Event.Type == name {
			out = append(out, d)
		}
	}
	return out
}
