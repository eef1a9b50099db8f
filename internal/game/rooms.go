package game

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/accounts"
	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

const (
	matchFoundMessage  = "Match found, the game is about to start"
	matchFailedMessage = "Match failed, your diamonds have been refunded"

	// rooms considered per ExpireRooms call
	roomExpiryBatch = 50
)

// RoomDetail is a room with its full team roster
type RoomDetail struct {
	ID          string              `json:"id"`
	Status      models.RoomStatus   `json:"status"`
	PlayerCount int                 `json:"playerCount"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt"`
	EndedAt     *time.Time          `json:"endedAt"`
	Teams       []events.TeamRoster `json:"teams"`
}

// Members returns the ids of every seated player, team by team
func (d RoomDetail) Members() []string {
	var ids []string
	for _, t := range d.Teams {
		for _, p := range t.Players {
			ids = append(ids, p.PlayerID)
		}
	}
	return ids
}

// CurrentRoomView is the caller's unfinished room and the team they sit on
type CurrentRoomView struct {
	Room   RoomDetail  `json:"room"`
	MyTeam models.Team `json:"myTeam"`
}

// FormMatch claims the oldest Capacity queue entries and turns them into a
// READY room with TeamCount teams, all in one transaction.
//
// If the queue is short it returns ErrQueueNotReady and changes nothing. If a
// step fails after the batch was claimed, the transaction rolls back and the
// still-queued members of the batch are removed and refunded.
func FormMatch(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, now time.Time) (RoomDetail, error) {
	var (
		batch  []models.QueueEntry
		detail RoomDetail
	)

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		entries, err := PeekReady(ctx, tx, rules.Capacity)
		if err != nil {
			return err
		}
		if len(entries) < rules.Capacity {
			return ErrQueueNotReady
		}
		batch = entries

		assignments := AssignTeams(entries, rules.TeamCount)

		room := models.Room{
			ID:          newID(),
			Status:      models.RoomReady,
			PlayerCount: rules.Capacity,
			CreatedAt:   now,
			StartedAt:   validTime(now),
		}
		if err := tx.InsertRoom(ctx, room); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}

		for i, a := range assignments {
			team := models.Team{
				ID:         newID(),
				RoomID:     room.ID,
				TeamNumber: i + 1,
				AvgRank:    a.AvgRank,
			}
			if err := tx.InsertTeam(ctx, team); err != nil {
				return fmt.Errorf("insert team %d: %w", team.TeamNumber, err)
			}
			for _, m := range a.Members {
				rec := models.Record{
					ID:        newID(),
					PlayerID:  m.PlayerID,
					RoomID:    room.ID,
					TeamID:    team.ID,
					EntryCost: m.EntryCost,
					CreatedAt: now,
				}
				if err := tx.InsertRecord(ctx, rec); err != nil {
					return fmt.Errorf("insert record for %s: %w", m.PlayerID, err)
				}
			}
		}

		ids := entryIDs(entries)
		removed, err := tx.DeleteQueueEntries(ctx, ids)
		if err != nil {
			return fmt.Errorf("remove matched entries: %w", err)
		}
		if len(removed) != len(ids) {
			return fmt.Errorf("%w: claimed %d queue entries but removed %d", store.ErrConflict, len(ids), len(removed))
		}

		detail, err = loadRoomDetail(ctx, tx, room)
		return err
	})

	if err != nil {
		if errors.Is(err, ErrQueueNotReady) || batch == nil {
			return RoomDetail{}, err
		}
		compensateFailedMatch(ctx, st, bc, rules, entryIDs(batch), err)
		return RoomDetail{}, fmt.Errorf("form match: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("room_id", detail.ID).
		Int("players", detail.PlayerCount).
		Int("teams", len(detail.Teams)).
		Msg("match formed")

	payload := events.MatchFoundPayload{RoomID: detail.ID, Teams: detail.Teams, Message: matchFoundMessage}
	for _, id := range detail.Members() {
		notify(ctx, bc, events.ToPlayer(id), events.MatchFound, payload)
	}
	notify(ctx, bc, events.ToAll(), events.MatchCreated, events.MatchCreatedPayload{
		RoomID:      detail.ID,
		PlayerCount: detail.PlayerCount,
		TeamsCount:  len(detail.Teams),
	})
	return detail, nil
}

// compensateFailedMatch refunds the members of a batch whose room could not be
// created. Only entries still in the queue are refunded, so a player who left
// in the meantime is not paid twice.
func compensateFailedMatch(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, ids []string, cause error) {
	log := zerolog.Ctx(ctx)

	var refunded []string
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		removed, err := tx.DeleteQueueEntries(ctx, ids)
		if err != nil {
			return fmt.Errorf("remove failed batch: %w", err)
		}
		refunded = entryIDs(removed)
		return accounts.CreditMany(ctx, tx, entryRefunds(removed), models.ReasonMatchRefund, "")
	})
	if err != nil {
		// entries stay queued and charged; expiry or leave refunds them later
		log.Error().Err(err).AnErr("cause", cause).Msg("refund after failed match formation")
		return
	}

	log.Warn().Err(cause).Int("refunded", len(refunded)).Msg("match formation failed, batch refunded")
	for _, id := range refunded {
		notify(ctx, bc, events.ToPlayer(id), events.MatchFailed, events.MatchFailedPayload{Message: matchFailedMessage})
	}
}

// ExpireRoom tears down a READY room older than the room timeout and refunds
// every seated player. It reports false when the room is not eligible.
func ExpireRoom(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, roomID string, now time.Time) (bool, error) {
	cutoff := now.Add(-rules.RoomTimeout)

	var members []string
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		room, err := tx.RoomForUpdate(ctx, roomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRoomNotFound
			}
			return fmt.Errorf("lock room: %w", err)
		}
		if room.Status != models.RoomReady || !room.CreatedAt.Before(cutoff) {
			return nil
		}

		records, err := tx.RecordsByRoom(ctx, roomID)
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		for _, r := range records {
			if r.Settled() {
				return nil
			}
		}

		if err := tx.DeleteRoom(ctx, roomID); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		ids := make([]string, len(records))
		refunds := make([]accounts.Payout, len(records))
		for i, r := range records {
			ids[i] = r.PlayerID
			refunds[i] = accounts.Payout{PlayerID: r.PlayerID, Amount: r.EntryCost}
		}
		if err := accounts.CreditMany(ctx, tx, refunds, models.ReasonMatchRefund, roomID); err != nil {
			return err
		}
		members = ids
		return nil
	})
	if err != nil {
		return false, err
	}
	if members == nil {
		return false, nil
	}

	zerolog.Ctx(ctx).Info().
		Str("room_id", roomID).
		Int("refunded", len(members)).
		Msg("expired unstarted room")

	notify(ctx, bc, events.ToRoom(roomID, members), events.MatchCanceled, events.MatchCanceledPayload{RoomID: roomID})
	return true, nil
}

// ExpireRooms calls ExpireRoom for every stale READY room. One room failing
// does not stop the others; their errors are joined.
func ExpireRooms(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, now time.Time) (int, error) {
	var rooms []models.Room
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		rooms, err = tx.ReadyRoomsCreatedBefore(ctx, now.Add(-rules.RoomTimeout), roomExpiryBatch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list stale rooms: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, r := range rooms {
		ok, err := ExpireRoom(ctx, st, bc, rules, r.ID, now)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("room_id", r.ID).Msg("expire room")
			errs = append(errs, fmt.Errorf("room %s: %w", r.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// GetRoom returns a room's roster. Only seated players may look at it.
func GetRoom(ctx context.Context, st store.Store, roomID, callerID string) (RoomDetail, error) {
	var detail RoomDetail
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRoomNotFound
			}
			return fmt.Errorf("load room: %w", err)
		}
		detail, err = loadRoomDetail(ctx, tx, room)
		return err
	})
	if err != nil {
		return RoomDetail{}, err
	}

	for _, id := range detail.Members() {
		if id == callerID {
			return detail, nil
		}
	}
	return RoomDetail{}, ErrNotRoomMember
}

// CurrentRoom returns the player's READY or PLAYING room, or nil if they have none.
func CurrentRoom(ctx context.Context, st store.Store, playerID string) (*CurrentRoomView, error) {
	var view *CurrentRoomView
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		rec, err := tx.ActiveRecordForPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find active record: %w", err)
		}

		room, err := tx.Room(ctx, rec.RoomID)
		if err != nil {
			return fmt.Errorf("load room %s: %w", rec.RoomID, err)
		}
		detail, err := loadRoomDetail(ctx, tx, room)
		if err != nil {
			return err
		}
		teams, err := tx.TeamsByRoom(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("load teams: %w", err)
		}

		view = &CurrentRoomView{Room: detail}
		for _, t := range teams {
			if t.ID == rec.TeamID {
				view.MyTeam = t
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func loadRoomDetail(ctx context.Context, tx store.Tx, room models.Room) (RoomDetail, error) {
	teams, err := tx.TeamsByRoom(ctx, room.ID)
	if err != nil {
		return RoomDetail{}, fmt.Errorf("load teams: %w", err)
	}
	records, err := tx.RecordsByRoom(ctx, room.ID)
	if err != nil {
		return RoomDetail{}, fmt.Errorf("load records: %w", err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.PlayerID
	}
	players, err := tx.PlayersByIDs(ctx, ids)
	if err != nil {
		return RoomDetail{}, fmt.Errorf("load players: %w", err)
	}
	byID := make(map[string]models.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	rosters := make([]events.TeamRoster, len(teams))
	index := make(map[string]int, len(teams))
	for i, t := range teams {
		rosters[i] = events.TeamRoster{ID: t.ID, TeamNumber: t.TeamNumber, AvgRank: t.AvgRank, Players: []events.RosterMember{}}
		index[t.ID] = i
	}
	for _, r := range records {
		i, ok := index[r.TeamID]
		if !ok {
			continue
		}
		p := byID[r.PlayerID]
		rosters[i].Players = append(rosters[i].Players, events.RosterMember{
			PlayerID: r.PlayerID,
			Username: p.Username,
			Nickname: p.Nickname,
			Rank:     p.Rank,
		})
	}

	return RoomDetail{
		ID:          room.ID,
		Status:      room.Status,
		PlayerCount: room.PlayerCount,
		CreatedAt:   room.CreatedAt,
		StartedAt:   nullTimePtr(room.StartedAt),
		EndedAt:     nullTimePtr(room.EndedAt),
		Teams:       rosters,
	}, nil
}

// entryRefunds pays back what each entry was charged on join
func entryRefunds(entries []models.QueueEntry) []accounts.Payout {
	out := make([]accounts.Payout, len(entries))
	for i, e := range entries {
		out[i] = accounts.Payout{PlayerID: e.PlayerID, Amount: e.EntryCost}
	}
	return out
}

func entryIDs(entries []models.QueueEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
	}
	return ids
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
