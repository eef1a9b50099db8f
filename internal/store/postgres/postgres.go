// Package postgres implements store.Store on PostgreSQL through sqlx.
//
// Rows that a transaction is about to change are locked with SELECT ... FOR
// UPDATE; batch claims on the queue use FOR UPDATE SKIP LOCKED so the sweeper
// never waits on an entry a concurrent leave is already removing.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

const (
	playerColumns = `id, username, nickname, balance, rank, wins, losses, is_online, created_at`
	queueColumns  = `player_id, rank_snapshot, entry_cost, joined_at`
	roomColumns   = `id, status, player_count, created_at, started_at, ended_at`
	teamColumns   = `id, room_id, team_number, avg_rank`
	recordColumns = `id, player_id, room_id, team_id, result, rank_change, diamonds_earned, entry_cost, created_at`
	ledgerColumns = `id, player_id, amount, balance_after, reason, reference, created_at`

	defaultScanLimit = 100
)

// Store is a PostgreSQL-backed store.Store
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection pool
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// RunInTx begins a transaction, runs fn and commits. Any error rolls back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapErr(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err))
	}
	return nil
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pqErr.Message)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Message)
		}
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Tx is one open database transaction
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) CreatePlayer(ctx context.Context, p models.Player) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO players (id, username, nickname, balance, rank, wins, losses, is_online, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Username, p.Nickname, p.Balance, p.Rank, p.Wins, p.Losses, p.IsOnline, p.CreatedAt)
	return mapErr(err)
}

func (t *Tx) Player(ctx context.Context, id string) (models.Player, error) {
	var p models.Player
	err := t.tx.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	return p, mapErr(err)
}

func (t *Tx) PlayerForUpdate(ctx context.Context, id string) (models.Player, error) {
	var p models.Player
	err := t.tx.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, id)
	return p, mapErr(err)
}

func (t *Tx) PlayersByIDs(ctx context.Context, ids []string) ([]models.Player, error) {
	var players []models.Player
	if len(ids) == 0 {
		return players, nil
	}
	err := t.tx.SelectContext(ctx, &players, `SELECT `+playerColumns+` FROM players WHERE id = ANY($1)`, pq.Array(ids))
	return players, mapErr(err)
}

func (t *Tx) AddBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowxContext(ctx, `
		UPDATE players SET balance = balance + $1 WHERE id = $2 RETURNING balance
	`, delta, playerID).Scan(&balance)
	return balance, mapErr(err)
}

func (t *Tx) AddStats(ctx context.Context, playerID string, wins, losses int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE players SET wins = wins + $1, losses = losses + $2 WHERE id = $3
	`, wins, losses, playerID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (t *Tx) SetRank(ctx context.Context, playerID string, rank int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE players SET rank = $1 WHERE id = $2`, rank, playerID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (t *Tx) SetOnline(ctx context.Context, playerID string, online bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE players SET is_online = $1 WHERE id = $2`, online, playerID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (t *Tx) InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (player_id, amount, balance_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.PlayerID, e.Amount, e.BalanceAfter, string(e.Reason), e.Reference, e.CreatedAt)
	return mapErr(err)
}

func (t *Tx) LedgerEntries(ctx context.Context, playerID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := t.tx.SelectContext(ctx, &entries, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE player_id = $1 ORDER BY id`, playerID)
	return entries, mapErr(err)
}

func (t *Tx) InsertQueueEntry(ctx context.Context, e models.QueueEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO match_queue (player_id, rank_snapshot, entry_cost, joined_at) VALUES ($1, $2, $3, $4)
	`, e.PlayerID, e.RankSnapshot, e.EntryCost, e.JoinedAt)
	return mapErr(err)
}

func (t *Tx) QueueEntry(ctx context.Context, playerID string) (models.QueueEntry, error) {
	var e models.QueueEntry
	err := t.tx.GetContext(ctx, &e, `SELECT `+queueColumns+` FROM match_queue WHERE player_id = $1`, playerID)
	return e, mapErr(err)
}

func (t *Tx) DeleteQueueEntry(ctx context.Context, playerID string) (models.QueueEntry, error) {
	var e models.QueueEntry
	err := t.tx.GetContext(ctx, &e, `DELETE FROM match_queue WHERE player_id = $1 RETURNING `+queueColumns, playerID)
	return e, mapErr(err)
}

func (t *Tx) DeleteQueueEntries(ctx context.Context, playerIDs []string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if len(playerIDs) == 0 {
		return entries, nil
	}
	err := t.tx.SelectContext(ctx, &entries, `
		DELETE FROM match_queue WHERE player_id = ANY($1) RETURNING `+queueColumns, pq.Array(playerIDs))
	return entries, mapErr(err)
}

func (t *Tx) OldestQueueEntries(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := t.tx.SelectContext(ctx, &entries, `
		SELECT `+queueColumns+`
		FROM match_queue
		ORDER BY joined_at, player_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	return entries, mapErr(err)
}

func (t *Tx) QueueEntriesJoinedBefore(ctx context.Context, cutoff time.Time) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := t.tx.SelectContext(ctx, &entries, `
		SELECT `+queueColumns+`
		FROM match_queue
		WHERE joined_at < $1
		ORDER BY joined_at, player_id
		FOR UPDATE SKIP LOCKED
	`, cutoff)
	return entries, mapErr(err)
}

func (t *Tx) QueueCount(ctx context.Context) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM match_queue`)
	return n, mapErr(err)
}

func (t *Tx) InsertRoom(ctx context.Context, r models.Room) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO game_rooms (id, status, player_count, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, string(r.Status), r.PlayerCount, r.CreatedAt, r.StartedAt, r.EndedAt)
	return mapErr(err)
}

func (t *Tx) InsertTeam(ctx context.Context, team models.Team) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO teams (id, room_id, team_number, avg_rank) VALUES ($1, $2, $3, $4)
	`, team.ID, team.RoomID, team.TeamNumber, team.AvgRank)
	return mapErr(err)
}

func (t *Tx) InsertRecord(ctx context.Context, r models.Record) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO game_records (id, player_id, room_id, team_id, result, rank_change, diamonds_earned, entry_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.PlayerID, r.RoomID, r.TeamID, r.Result, r.RankChange, r.DiamondsEarned, r.EntryCost, r.CreatedAt)
	return mapErr(err)
}

func (t *Tx) Room(ctx context.Context, id string) (models.Room, error) {
	var r models.Room
	err := t.tx.GetContext(ctx, &r, `SELECT `+roomColumns+` FROM game_rooms WHERE id = $1`, id)
	return r, mapErr(err)
}

func (t *Tx) RoomForUpdate(ctx context.Context, id string) (models.Room, error) {
	var r models.Room
	err := t.tx.GetContext(ctx, &r, `SELECT `+roomColumns+` FROM game_rooms WHERE id = $1 FOR UPDATE`, id)
	return r, mapErr(err)
}

func (t *Tx) TeamsByRoom(ctx context.Context, roomID string) ([]models.Team, error) {
	var teams []models.Team
	err := t.tx.SelectContext(ctx, &teams, `SELECT `+teamColumns+` FROM teams WHERE room_id = $1 ORDER BY team_number`, roomID)
	return teams, mapErr(err)
}

func (t *Tx) RecordsByRoom(ctx context.Context, roomID string) ([]models.Record, error) {
	var records []models.Record
	err := t.tx.SelectContext(ctx, &records, `SELECT `+recordColumns+` FROM game_records WHERE room_id = $1 ORDER BY id`, roomID)
	return records, mapErr(err)
}

func (t *Tx) ActiveRecordForPlayer(ctx context.Context, playerID string) (models.Record, error) {
	var r models.Record
	err := t.tx.GetContext(ctx, &r, `
		SELECT r.id, r.player_id, r.room_id, r.team_id, r.result, r.rank_change, r.diamonds_earned, r.entry_cost, r.created_at
		FROM game_records r
		JOIN game_rooms g ON g.id = r.room_id
		WHERE r.player_id = $1 AND g.status IN ('READY', 'PLAYING')
		ORDER BY r.created_at DESC
		LIMIT 1
	`, playerID)
	return r, mapErr(err)
}

func (t *Tx) FinishRoom(ctx context.Context, roomID string, endedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE game_rooms SET status = 'FINISHED', ended_at = $1 WHERE id = $2
	`, endedAt, roomID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (t *Tx) SettleRecord(ctx context.Context, recordID string, result models.RecordResult, rankChange int, diamonds int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE game_records SET result = $1, rank_change = $2, diamonds_earned = $3 WHERE id = $4
	`, string(result), rankChange, diamonds, recordID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (t *Tx) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM game_records WHERE room_id = $1`, roomID); err != nil {
		return mapErr(err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM teams WHERE room_id = $1`, roomID); err != nil {
		return mapErr(err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM game_rooms WHERE id = $1`, roomID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (t *Tx) ReadyRoomsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Room, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}
	var rooms []models.Room
	err := t.tx.SelectContext(ctx, &rooms, `
		SELECT `+roomColumns+`
		FROM game_rooms
		WHERE status = 'READY' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	return rooms, mapErr(err)
}
