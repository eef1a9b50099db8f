// Package memstore is an in-process Store used for local development and
// tests. Transactions run one at a time against a private copy of the data
// that replaces the committed state only when the callback returns nil.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

type state struct {
	players  map[string]models.Player
	ledger   []models.LedgerEntry
	ledgerID int64
	queue    map[string]models.QueueEntry
	rooms    map[string]models.Room
	teams    map[string]models.Team
	records  map[string]models.Record
}

func newState() *state {
	return &state{
		players: make(map[string]models.Player),
		queue:   make(map[string]models.QueueEntry),
		rooms:   make(map[string]models.Room),
		teams:   make(map[string]models.Team),
		records: make(map[string]models.Record),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.players {
		c.players[k] = v
	}
	c.ledger = append([]models.LedgerEntry(nil), s.ledger...)
	c.ledgerID = s.ledgerID
	for k, v := range s.queue {
		c.queue[k] = v
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	return c
}

// Store keeps all rows in memory.
type Store struct {
	mu       sync.Mutex
	data     *state
	failures map[string]error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{data: newState(), failures: make(map[string]error)}
}

// FailNext makes the next call of the named Tx method return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// RunInTx runs fn with exclusive access to a copy of the data and commits
// the copy if fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{data: s.data.clone(), failures: s.failures}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

type memTx struct {
	data     *state
	failures map[string]error
}

func (t *memTx) fail(op string) error {
	if err, ok := t.failures[op]; ok {
		delete(t.failures, op)
		return err
	}
	return nil
}

func (t *memTx) CreatePlayer(ctx context.Context, p models.Player) error {
	if err := t.fail("CreatePlayer"); err != nil {
		return err
	}
	if _, ok := t.data.players[p.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range t.data.players {
		if existing.Username == p.Username {
			return store.ErrDuplicate
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	t.data.players[p.ID] = p
	return nil
}

func (t *memTx) Player(ctx context.Context, id string) (models.Player, error) {
	if err := t.fail("Player"); err != nil {
		return models.Player{}, err
	}
	p, ok := t.data.players[id]
	if !ok {
		return models.Player{}, store.ErrNotFound
	}
	return p, nil
}

func (t *memTx) PlayerForUpdate(ctx context.Context, id string) (models.Player, error) {
	if err := t.fail("PlayerForUpdate"); err != nil {
		return models.Player{}, err
	}
	return t.Player(ctx, id)
}

func (t *memTx) PlayersByIDs(ctx context.Context, ids []string) ([]models.Player, error) {
	if err := t.fail("PlayersByIDs"); err != nil {
		return nil, err
	}
	out := make([]models.Player, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.data.players[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) AddBalance(ctx context.Context, playerID string, delta int64) (int64, error) {
	if err := t.fail("AddBalance"); err != nil {
		return 0, err
	}
	p, ok := t.data.players[playerID]
	if !ok {
		return 0, store.ErrNotFound
	}
	p.Balance += delta
	t.data.players[playerID] = p
	return p.Balance, nil
}

func (t *memTx) AddStats(ctx context.Context, playerID string, wins, losses int) error {
	if err := t.fail("AddStats"); err != nil {
		return err
	}
	p, ok := t.data.players[playerID]
	if !ok {
		return store.ErrNotFound
	}
	p.Wins += wins
	p.Losses += losses
	t.data.players[playerID] = p
	return nil
}

func (t *memTx) SetRank(ctx context.Context, playerID string, rank int) error {
	if err := t.fail("SetRank"); err != nil {
		return err
	}
	p, ok := t.data.players[playerID]
	if !ok {
		return store.ErrNotFound
	}
	p.Rank = rank
	t.data.players[playerID] = p
	return nil
}

func (t *memTx) SetOnline(ctx context.Context, playerID string, online bool) error {
	if err := t.fail("SetOnline"); err != nil {
		return err
	}
	p, ok := t.data.players[playerID]
	if !ok {
		return store.ErrNotFound
	}
	p.IsOnline = online
	t.data.players[playerID] = p
	return nil
}

func (t *memTx) InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error {
	if err := t.fail("InsertLedgerEntry"); err != nil {
		return err
	}
	t.data.ledgerID++
	e.ID = t.data.ledgerID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	t.data.ledger = append(t.data.ledger, e)
	return nil
}

func (t *memTx) LedgerEntries(ctx context.Context, playerID string) ([]models.LedgerEntry, error) {
	if err := t.fail("LedgerEntries"); err != nil {
		return nil, err
	}
	var out []models.LedgerEntry
	for _, e := range t.data.ledger {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) InsertQueueEntry(ctx context.Context, e models.QueueEntry) error {
	if err := t.fail("InsertQueueEntry"); err != nil {
		return err
	}
	if _, ok := t.data.queue[e.PlayerID]; ok {
		return store.ErrDuplicate
	}
	t.data.queue[e.PlayerID] = e
	return nil
}

func (t *memTx) QueueEntry(ctx context.Context, playerID string) (models.QueueEntry, error) {
	if err := t.fail("QueueEntry"); err != nil {
		return models.QueueEntry{}, err
	}
	e, ok := t.data.queue[playerID]
	if !ok {
		return models.QueueEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (t *memTx) DeleteQueueEntry(ctx context.Context, playerID string) (models.QueueEntry, error) {
	if err := t.fail("DeleteQueueEntry"); err != nil {
		return models.QueueEntry{}, err
	}
	e, ok := t.data.queue[playerID]
	if !ok {
		return models.QueueEntry{}, store.ErrNotFound
	}
	delete(t.data.queue, playerID)
	return e, nil
}

func (t *memTx) DeleteQueueEntries(ctx context.Context, playerIDs []string) ([]models.QueueEntry, error) {
	if err := t.fail("DeleteQueueEntries"); err != nil {
		return nil, err
	}
	var out []models.QueueEntry
	for _, id := range playerIDs {
		if e, ok := t.data.queue[id]; ok {
			out = append(out, e)
			delete(t.data.queue, id)
		}
	}
	return out, nil
}

func (t *memTx) sortedQueue() []models.QueueEntry {
	entries := make([]models.QueueEntry, 0, len(t.data.queue))
	for _, e := range t.data.queue {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].PlayerID < entries[j].PlayerID
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries
}

func (t *memTx) OldestQueueEntries(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	if err := t.fail("OldestQueueEntries"); err != nil {
		return nil, err
	}
	entries := t.sortedQueue()
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (t *memTx) QueueEntriesJoinedBefore(ctx context.Context, cutoff time.Time) ([]models.QueueEntry, error) {
	if err := t.fail("QueueEntriesJoinedBefore"); err != nil {
		return nil, err
	}
	var out []models.QueueEntry
	for _, e := range t.sortedQueue() {
		if e.JoinedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) QueueCount(ctx context.Context) (int, error) {
	if err := t.fail("QueueCount"); err != nil {
		return 0, err
	}
	return len(t.data.queue), nil
}

func (t *memTx) InsertRoom(ctx context.Context, r models.Room) error {
	if err := t.fail("InsertRoom"); err != nil {
		return err
	}
	if _, ok := t.data.rooms[r.ID]; ok {
		return store.ErrDuplicate
	}
	t.data.rooms[r.ID] = r
	return nil
}

func (t *memTx) InsertTeam(ctx context.Context, team models.Team) error {
	if err := t.fail("InsertTeam"); err != nil {
		return err
	}
	if _, ok := t.data.rooms[team.RoomID]; !ok {
		return store.ErrNotFound
	}
	for _, existing := range t.data.teams {
		if existing.RoomID == team.RoomID && existing.TeamNumber == team.TeamNumber {
			return store.ErrDuplicate
		}
	}
	t.data.teams[team.ID] = team
	return nil
}

func (t *memTx) InsertRecord(ctx context.Context, r models.Record) error {
	if err := t.fail("InsertRecord"); err != nil {
		return err
	}
	if _, ok := t.data.teams[r.TeamID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.data.players[r.PlayerID]; !ok {
		return store.ErrNotFound
	}
	t.data.records[r.ID] = r
	return nil
}

func (t *memTx) Room(ctx context.Context, id string) (models.Room, error) {
	if err := t.fail("Room"); err != nil {
		return models.Room{}, err
	}
	r, ok := t.data.rooms[id]
	if !ok {
		return models.Room{}, store.ErrNotFound
	}
	return r, nil
}

func (t *memTx) RoomForUpdate(ctx context.Context, id string) (models.Room, error) {
	if err := t.fail("RoomForUpdate"); err != nil {
		return models.Room{}, err
	}
	return t.Room(ctx, id)
}

func (t *memTx) TeamsByRoom(ctx context.Context, roomID string) ([]models.Team, error) {
	if err := t.fail("TeamsByRoom"); err != nil {
		return nil, err
	}
	var out []models.Team
	for _, team := range t.data.teams {
		if team.RoomID == roomID {
			out = append(out, team)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamNumber < out[j].TeamNumber })
	return out, nil
}

func (t *memTx) RecordsByRoom(ctx context.Context, roomID string) ([]models.Record, error) {
	if err := t.fail("RecordsByRoom"); err != nil {
		return nil, err
	}
	var out []models.Record
	for _, r := range t.data.records {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ActiveRecordForPlayer(ctx context.Context, playerID string) (models.Record, error) {
	if err := t.fail("ActiveRecordForPlayer"); err != nil {
		return models.Record{}, err
	}
	for _, r := range t.data.records {
		if r.PlayerID != playerID {
			continue
		}
		room, ok := t.data.rooms[r.RoomID]
		if ok && (room.Status == models.RoomReady || room.Status == models.RoomPlaying) {
			return r, nil
		}
	}
	return models.Record{}, store.ErrNotFound
}

func (t *memTx) FinishRoom(ctx context.Context, roomID string, endedAt time.Time) error {
	if err := t.fail("FinishRoom"); err != nil {
		return err
	}
	r, ok := t.data.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = models.RoomFinished
	r.EndedAt.Time = endedAt
	r.EndedAt.Valid = true
	t.data.rooms[roomID] = r
	return nil
}

func (t *memTx) SettleRecord(ctx context.Context, recordID string, result models.RecordResult, rankChange int, diamonds int64) error {
	if err := t.fail("SettleRecord"); err != nil {
		return err
	}
	r, ok := t.data.records[recordID]
	if !ok {
		return store.ErrNotFound
	}
	r.Result.String = string(result)
	r.Result.Valid = true
	r.RankChange = rankChange
	r.DiamondsEarned = diamonds
	t.data.records[recordID] = r
	return nil
}

func (t *memTx) DeleteRoom(ctx context.Context, roomID string) error {
	if err := t.fail("DeleteRoom"); err != nil {
		return err
	}
	if _, ok := t.data.rooms[roomID]; !ok {
		return store.ErrNotFound
	}
	for id, r := range t.data.records {
		if r.RoomID == roomID {
			delete(t.data.records, id)
		}
	}
	for id, team := range t.data.teams {
		if team.RoomID == roomID {
			delete(t.data.teams, id)
		}
	}
	delete(t.data.rooms, roomID)
	return nil
}

func (t *memTx) ReadyRoomsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Room, error) {
	if err := t.fail("ReadyRoomsCreatedBefore"); err != nil {
		return nil, err
	}
	var out []models.Room
	for _, r := range t.data.rooms {
		if r.Status == models.RoomReady && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
