// Package store defines the transactional persistence contract used by the
// matchmaking, economy and settlement operations. Every state change goes
// through Store.RunInTx; implementations must make a transaction all-or-nothing
// and serialize transactions touching the same player, queue entry or room.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/teamclash/backend/internal/models"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict marks a transaction that lost a serialization race and may be retried.
	ErrConflict = errors.New("store: conflict")
)

// Store opens transactions.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations available inside one transaction.
type Tx interface {
	// Players
	CreatePlayer(ctx context.Context, p models.Player) error
	Player(ctx context.Context, id string) (models.Player, error)
	PlayerForUpdate(ctx context.Context, id string) (models.Player, error)
	PlayersByIDs(ctx context.Context, ids []string) ([]models.Player, error)
	AddBalance(ctx context.Context, playerID string, delta int64) (int64, error)
	AddStats(ctx context.Context, playerID string, wins, losses int) error
	SetRank(ctx context.Context, playerID string, rank int) error
	SetOnline(ctx context.Context, playerID string, online bool) error
	InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error
	LedgerEntries(ctx context.Context, playerID string) ([]models.LedgerEntry, error)

	// Queue
	InsertQueueEntry(ctx context.Context, e models.QueueEntry) error
	QueueEntry(ctx context.Context, playerID string) (models.QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, playerID string) (models.QueueEntry, error)
	DeleteQueueEntries(ctx context.Context, playerIDs []string) ([]models.QueueEntry, error)
	OldestQueueEntries(ctx context.Context, limit int) ([]models.QueueEntry, error)
	QueueEntriesJoinedBefore(ctx context.Context, cutoff time.Time) ([]models.QueueEntry, error)
	QueueCount(ctx context.Context) (int, error)

	// Rooms
	InsertRoom(ctx context.Context, r models.Room) error
	InsertTeam(ctx context.Context, t models.Team) error
	InsertRecord(ctx context.Context, r models.Record) error
	Room(ctx context.Context, id string) (models.Room, error)
	RoomForUpdate(ctx context.Context, id string) (models.Room, error)
	TeamsByRoom(ctx context.Context, roomID string) ([]models.Team, error)
	RecordsByRoom(ctx context.Context, roomID string) ([]models.Record, error)
	ActiveRecordForPlayer(ctx context.Context, playerID string) (models.Record, error)
	FinishRoom(ctx context.Context, roomID string, endedAt time.Time) error
	SettleRecord(ctx context.Context, recordID string, result models.RecordResult, rankChange int, diamonds int64) error
	DeleteRoom(ctx context.Context, roomID string) error
	ReadyRoomsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Room, error)
}
