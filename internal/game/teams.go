package game

import (
	"fmt"
	"math"
	"sort"

	"github.com/teamclash/backend/internal/models"
)

// TeamAssignment is one team produced by AssignTeams
type TeamAssignment struct {
	Members []models.QueueEntry
	AvgRank int
}

// AssignTeams splits a batch into teamCount balanced teams.
//
// Players are sorted by rank snapshot, highest first; equal ranks keep their
// input order, so earlier arrivals win ties. They are then dealt serpentine
// style: team 0..T-1, then T-1..0, and so on, which spreads strong and weak
// players more evenly than plain round robin.
//
// The batch must be non-empty and a multiple of teamCount. Anything else is a
// programming error and panics.
func AssignTeams(entries []models.QueueEntry, teamCount int) []TeamAssignment {
	if teamCount <= 0 || len(entries) == 0 || len(entries)%teamCount != 0 {
		panic(fmt.Sprintf("game: cannot split %d players into %d teams", len(entries), teamCount))
	}

	sorted := make([]models.QueueEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RankSnapshot > sorted[j].RankSnapshot
	})

	size := len(sorted) / teamCount
	teams := make([]TeamAssignment, teamCount)
	for i := range teams {
		teams[i].Members = make([]models.QueueEntry, 0, size)
	}

	idx, dir := 0, 1
	for _, e := range sorted {
		teams[idx].Members = append(teams[idx].Members, e)
		idx += dir
		switch {
		case idx == teamCount:
			idx, dir = teamCount-1, -1
		case idx < 0:
			idx, dir = 0, 1
		}
	}

	for i := range teams {
		teams[i].AvgRank = averageRank(teams[i].Members)
	}
	return teams
}

func averageRank(members []models.QueueEntry) int {
	if len(members) == 0 {
		return 0
	}
	sum := 0
	for _, m := range members {
		sum += m.RankSnapshot
	}
	return int(math.Round(float64(sum) / float64(len(members))))
}
