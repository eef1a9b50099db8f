package game

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamclash/backend/internal/models"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Helper to create queue entries with the given ranks, joined one second apart.
func entriesWithRanks(ranks ...int) []models.QueueEntry {
	out := make([]models.QueueEntry, len(ranks))
	for i, r := range ranks {
		out[i] = models.QueueEntry{
			PlayerID:     fmt.Sprintf("p%02d", i),
			RankSnapshot: r,
			JoinedAt:     epoch.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

// chunkTeams is the naive split: sort descending and cut into consecutive blocks.
func chunkTeams(entries []models.QueueEntry, teamCount int) []TeamAssignment {
	sorted := append([]models.QueueEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RankSnapshot > sorted[j].RankSnapshot })
	size := len(sorted) / teamCount
	teams := make([]TeamAssignment, teamCount)
	for i := range teams {
		teams[i].Members = sorted[i*size : (i+1)*size]
		teams[i].AvgRank = averageRank(teams[i].Members)
	}
	return teams
}

func spread(teams []TeamAssignment) int {
	lo, hi := teams[0].AvgRank, teams[0].AvgRank
	for _, t := range teams[1:] {
		if t.AvgRank < lo {
			lo = t.AvgRank
		}
		if t.AvgRank > hi {
			hi = t.AvgRank
		}
	}
	return hi - lo
}

func TestAssignTeamsPartitionsBatch(t *testing.T) {
	entries := entriesWithRanks(1500, 1200, 900, 2000, 1100, 1300, 1700, 1000,
		1600, 1400, 800, 1900, 1800, 950, 1250, 1050)

	teams := AssignTeams(entries, 8)
	require.Len(t, teams, 8)

	seen := map[string]bool{}
	total := 0
	for _, team := range teams {
		assert.Len(t, team.Members, 2)
		total += len(team.Members)
		for _, m := range team.Members {
			assert.False(t, seen[m.PlayerID], "player %s seated twice", m.PlayerID)
			seen[m.PlayerID] = true
		}
	}
	assert.Equal(t, 16, total)
	assert.Len(t, seen, 16)
}

func TestAssignTeamsSnakeOrder(t *testing.T) {
	// 4 teams of 2 from ranks 8..1: first lap 8,7,6,5; second lap reversed 4,3,2,1.
	entries := entriesWithRanks(1, 2, 3, 4, 5, 6, 7, 8)
	teams := AssignTeams(entries, 4)

	want := [][]int{{8, 1}, {7, 2}, {6, 3}, {5, 4}}
	for i, team := range teams {
		got := []int{team.Members[0].RankSnapshot, team.Members[1].RankSnapshot}
		assert.Equal(t, want[i], got, "team %d", i)
		assert.Equal(t, 5, team.AvgRank) // round(4.5) rounds half away from zero
	}
}

func TestAssignTeamsSnakeNoWorseThanChunking(t *testing.T) {
	ranks := []int{2300, 2200, 2100, 2000, 1900, 1800, 1700, 1600}
	entries := entriesWithRanks(append(append([]int{}, ranks...), ranks...)...)

	snake := AssignTeams(entries, 8)
	chunks := chunkTeams(entries, 8)

	assert.LessOrEqual(t, spread(snake), spread(chunks))
	assert.Equal(t, 0, spread(snake))
	assert.Equal(t, 700, spread(chunks))
	for _, team := range snake {
		assert.Equal(t, 1950, team.AvgRank)
	}
}

func TestAssignTeamsTiesKeepJoinOrder(t *testing.T) {
	entries := entriesWithRanks(1000, 1000, 1000, 1000)
	teams := AssignTeams(entries, 2)

	// p00 and p01 lead the first lap, p02 and p03 come back on the second.
	assert.Equal(t, "p00", teams[0].Members[0].PlayerID)
	assert.Equal(t, "p01", teams[1].Members[0].PlayerID)
	assert.Equal(t, "p02", teams[1].Members[1].PlayerID)
	assert.Equal(t, "p03", teams[0].Members[1].PlayerID)
}

func TestAssignTeamsDoesNotMutateInput(t *testing.T) {
	entries := entriesWithRanks(100, 300, 200, 400)
	before := append([]models.QueueEntry(nil), entries...)
	AssignTeams(entries, 2)
	assert.Equal(t, before, entries)
}

func TestAssignTeamsIsDeterministic(t *testing.T) {
	entries := entriesWithRanks(1500, 1500, 900, 2000, 1100, 1300, 1700, 1000)
	assert.Equal(t, AssignTeams(entries, 4), AssignTeams(entries, 4))
}

func TestAssignTeamsPanicsOnInvalidBatch(t *testing.T) {
	assert.Panics(t, func() { AssignTeams(entriesWithRanks(1, 2, 3), 2) })
	assert.Panics(t, func() { AssignTeams(nil, 2) })
	assert.Panics(t, func() { AssignTeams(entriesWithRanks(1, 2), 0) })
}
