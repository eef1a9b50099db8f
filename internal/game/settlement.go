package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/accounts"
	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
)

// FinishRequest names the winners of a room. CallerID, when set, must hold a
// record in the room.
type FinishRequest struct {
	RoomID         string
	WinningTeamIDs []string
	CallerID       string
}

// Settlement summarizes a finished room
type Settlement struct {
	RoomID        string          `json:"roomId"`
	WinnerTeamIDs []string        `json:"winnerTeamIds"`
	Records       []models.Record `json:"records"`
}

// Finish settles a room exactly once: the room becomes FINISHED, every record
// gets its result and rewards, and player stats and balances are updated.
func Finish(ctx context.Context, st store.Store, bc events.Broadcaster, rules Rules, req FinishRequest, now time.Time) (Settlement, error) {
	if len(req.WinningTeamIDs) == 0 {
		return Settlement{}, ErrInvalidWinners
	}
	winners := make(map[string]bool, len(req.WinningTeamIDs))
	for _, id := range req.WinningTeamIDs {
		winners[id] = true
	}

	var (
		settled []models.Record
		members []string
	)
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		room, err := tx.RoomForUpdate(ctx, req.RoomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRoomNotFound
			}
			return fmt.Errorf("lock room: %w", err)
		}

		records, err := tx.RecordsByRoom(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		if req.CallerID != "" && !holdsRecord(records, req.CallerID) {
			return ErrNotRoomMember
		}
		if room.Status == models.RoomFinished {
			return ErrAlreadySettled
		}

		teams, err := tx.TeamsByRoom(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("load teams: %w", err)
		}
		known := make(map[string]bool, len(teams))
		for _, t := range teams {
			known[t.ID] = true
		}
		for id := range winners {
			if !known[id] {
				return ErrInvalidWinners
			}
		}

		if err := tx.FinishRoom(ctx, room.ID, now); err != nil {
			return fmt.Errorf("finish room: %w", err)
		}

		for _, rec := range records {
			result, rankChange, diamonds := rules.Rewards.outcome(winners[rec.TeamID])
			if err := tx.SettleRecord(ctx, rec.ID, result, rankChange, diamonds); err != nil {
				return fmt.Errorf("settle record %s: %w", rec.ID, err)
			}

			wins, losses := 0, 1
			if result == models.ResultWin {
				wins, losses = 1, 0
			}
			if err := tx.AddStats(ctx, rec.PlayerID, wins, losses); err != nil {
				return fmt.Errorf("update stats for %s: %w", rec.PlayerID, err)
			}
			if _, err := accounts.Credit(ctx, tx, rec.PlayerID, diamonds, models.ReasonMatchReward, room.ID); err != nil {
				return err
			}

			rec.Result.String, rec.Result.Valid = string(result), true
			rec.RankChange = rankChange
			rec.DiamondsEarned = diamonds
			settled = append(settled, rec)
			members = append(members, rec.PlayerID)
		}
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("room_id", req.RoomID).
		Strs("winners", req.WinningTeamIDs).
		Int("records", len(settled)).
		Msg("room settled")

	notify(ctx, bc, events.ToRoom(req.RoomID, members), events.GameResults, events.GameResultsPayload{
		RoomID:        req.RoomID,
		WinnerTeamIDs: req.WinningTeamIDs,
	})
	return Settlement{RoomID: req.RoomID, WinnerTeamIDs: req.WinningTeamIDs, Records: settled}, nil
}

// outcome is the result, recorded rank change and credited diamonds for one seat.
// The rank change is stored on the record only; player rank is left alone.
func (r Rewards) outcome(won bool) (models.RecordResult, int, int64) {
	if won {
		return models.ResultWin, r.WinRankChange, r.WinDiamonds
	}
	return models.ResultLose, r.LoseRankChange, r.LoseDiamonds
}

func holdsRecord(records []models.Record, playerID string) bool {
	for _, r := range records {
		if r.PlayerID == playerID {
			return true
		}
	}
	return false
}
