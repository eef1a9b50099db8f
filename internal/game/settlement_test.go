package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/models"
)

func formRoom(t *testing.T, f *fixture, ids []string) RoomDetail {
	t.Helper()
	f.joinAll(t, ids, epoch)
	room, err := FormMatch(f.ctx, f.st, f.rec, f.rules, epoch.Add(time.Minute))
	require.NoError(t, err)
	return room
}

func TestEndToEndQueueMatchAndSettle(t *testing.T) {
	f := newFixture(t)

	// a lone player can join and back out for free
	f.addPlayer(t, "A", 50, 1000)
	_, err := JoinQueue(f.ctx, f.st, f.rec, f.rules, "A", epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(40), f.balance(t, "A"))
	_, err = LeaveQueue(f.ctx, f.st, f.rec, f.rules, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.balance(t, "A"))

	ids := f.addPlayers(t, "p", 16, 35)
	f.joinAll(t, ids, epoch.Add(time.Second))

	sweeper := NewSweeper(f.st, f.rec, f.rules)
	report := sweeper.Tick(f.ctx, epoch.Add(30*time.Second))
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.MatchesMade)
	assert.Equal(t, 0, f.queueLen(t))

	view, err := CurrentRoom(f.ctx, f.st, ids[0])
	require.NoError(t, err)
	require.NotNil(t, view)
	room := view.Room
	require.Len(t, room.Teams, 8)
	for _, team := range room.Teams {
		assert.Len(t, team.Players, 2)
	}
	for _, id := range ids {
		assert.Equal(t, int64(25), f.balance(t, id))
	}

	team3, team7 := room.Teams[2], room.Teams[6]
	require.Equal(t, 3, team3.TeamNumber)
	require.Equal(t, 7, team7.TeamNumber)
	winners := map[string]bool{team3.ID: true, team7.ID: true}

	res, err := Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{
		RoomID:         room.ID,
		WinningTeamIDs: []string{team3.ID, team7.ID},
		CallerID:       ids[0],
	}, epoch.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, res.Records, 16)

	for _, rec := range res.Records {
		p := f.player(t, rec.PlayerID)
		if winners[rec.TeamID] {
			assert.Equal(t, string(models.ResultWin), rec.Result.String)
			assert.Equal(t, int64(20), rec.DiamondsEarned)
			assert.Equal(t, 30, rec.RankChange)
			assert.Equal(t, 1, p.Wins)
			assert.Equal(t, 0, p.Losses)
			assert.Equal(t, int64(45), p.Balance)
		} else {
			assert.Equal(t, string(models.ResultLose), rec.Result.String)
			assert.Equal(t, int64(0), rec.DiamondsEarned)
			assert.Equal(t, -20, rec.RankChange)
			assert.Equal(t, 0, p.Wins)
			assert.Equal(t, 1, p.Losses)
			assert.Equal(t, int64(25), p.Balance)
		}
	}

	finished, err := GetRoom(f.ctx, f.st, room.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RoomFinished, finished.Status)
	require.NotNil(t, finished.EndedAt)
	assert.True(t, finished.EndedAt.Equal(epoch.Add(10*time.Minute)))

	results := f.rec.OfType(events.GameResults)
	require.Len(t, results, 1)
	assert.Equal(t, events.AudienceRoom, results[0].To.Kind)
	assert.ElementsMatch(t, ids, results[0].To.Members)
	assert.Equal(t, events.GameResultsPayload{RoomID: room.ID, WinnerTeamIDs: []string{team3.ID, team7.ID}}, results[0].Event.Data)

	// the untouched player never entered the room
	assert.Equal(t, int64(50), f.balance(t, "A"))
}

func TestFinishTwiceIsAlreadySettled(t *testing.T) {
	f := newFixture(t)
	ids := f.addPlayers(t, "p", 16, 100)
	room := formRoom(t, f, ids)
	req := FinishRequest{RoomID: room.ID, WinningTeamIDs: []string{room.Teams[0].ID}}

	_, err := Finish(f.ctx, f.st, f.rec, f.rules, req, epoch.Add(5*time.Minute))
	require.NoError(t, err)

	before := map[string]models.Player{}
	for _, id := range ids {
		before[id] = f.player(t, id)
	}

	_, err = Finish(f.ctx, f.st, f.rec, f.rules, req, epoch.Add(6*time.Minute))
	assert.ErrorIs(t, err, ErrAlreadySettled)

	for _, id := range ids {
		assert.Equal(t, before[id], f.player(t, id))
	}
	assert.Len(t, f.rec.OfType(events.GameResults), 1)
}

func TestFinishValidation(t *testing.T) {
	f := newFixture(t)
	ids := f.addPlayers(t, "p", 16, 100)
	f.addPlayer(t, "outsider", 100, 1000)
	room := formRoom(t, f, ids)
	now := epoch.Add(5 * time.Minute)

	_, err := Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{RoomID: room.ID}, now)
	assert.ErrorIs(t, err, ErrInvalidWinners)

	_, err = Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{RoomID: "nope", WinningTeamIDs: []string{"t"}}, now)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{RoomID: room.ID, WinningTeamIDs: []string{room.Teams[0].ID}, CallerID: "outsider"}, now)
	assert.ErrorIs(t, err, ErrNotRoomMember)

	_, err = Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{RoomID: room.ID, WinningTeamIDs: []string{room.Teams[0].ID, "someone-elses-team"}}, now)
	assert.ErrorIs(t, err, ErrInvalidWinners)

	// none of the rejected calls touched the room
	got, err := GetRoom(f.ctx, f.st, room.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RoomReady, got.Status)
	for _, id := range ids {
		p := f.player(t, id)
		assert.Zero(t, p.Wins+p.Losses)
		assert.Equal(t, int64(90), p.Balance)
	}
	assert.Empty(t, f.rec.OfType(events.GameResults))
}

func TestFinishRecordsButDoesNotApplyRankChange(t *testing.T) {
	f := newFixture(t)
	ids := f.addPlayers(t, "p", 16, 100)
	room := formRoom(t, f, ids)

	ranks := map[string]int{}
	for _, id := range ids {
		ranks[id] = f.player(t, id).Rank
	}

	_, err := Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{RoomID: room.ID, WinningTeamIDs: []string{room.Teams[1].ID}}, epoch.Add(time.Hour))
	require.NoError(t, err)

	for _, id := range ids {
		assert.Equal(t, ranks[id], f.player(t, id).Rank)
	}
}

func TestFinishUsesConfiguredRewards(t *testing.T) {
	f := newFixture(t)
	f.rules.Rewards = Rewards{WinRankChange: 10, LoseRankChange: -5, WinDiamonds: 7, LoseDiamonds: 2}
	ids := f.addPlayers(t, "p", 16, 100)
	room := formRoom(t, f, ids)

	res, err := Finish(f.ctx, f.st, f.rec, f.rules, FinishRequest{RoomID: room.ID, WinningTeamIDs: []string{room.Teams[4].ID}}, epoch.Add(time.Hour))
	require.NoError(t, err)

	for _, rec := range res.Records {
		if rec.TeamID == room.Teams[4].ID {
			assert.Equal(t, int64(97), f.balance(t, rec.PlayerID))
			assert.Equal(t, 10, rec.RankChange)
		} else {
			assert.Equal(t, int64(92), f.balance(t, rec.PlayerID))
			assert.Equal(t, -5, rec.RankChange)
		}
	}
}
