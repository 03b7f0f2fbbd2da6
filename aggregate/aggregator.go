package aggregate

import (
	"sort"
	"time"

	"github.com/brettboylen/mischief-tracker/hashtag"
	"github.com/brettboylen/mischief-tracker/models"
)

// DefaultLeaderboardLimit is how many players a published leaderboard keeps
const DefaultLeaderboardLimit = 50

// Aggregator folds claims into leaderboard, geography, mission and justice views
type Aggregator struct {
	limit int
	now   func() time.Time
}

// NewAggregator creates an aggregator keeping the top limit players
func NewAggregator(limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	return &Aggregator{
		limit: limit,
		now:   time.Now,
	}
}

// Empty returns a well-formed result with nothing in it
func Empty(source string) *models.AggregateResult {
	return &models.AggregateResult{
		Leaderboard: []models.LeaderboardEntry{},
		Geography:   models.Geography{},
		Missions:    models.MissionTally{},
		Justice:     []models.JusticeCase{},
		LastUpdated: time.Now().UTC(),
		Source:      source,
		Stats:       NewStats(0, 0),
	}
}

// NewStats builds run statistics. The verification rate is a percentage;
// with nothing processed there is nothing to disprove, so it is 100.
func NewStats(processed, verified int) models.Stats {
	rate := 100.0
	if processed > 0 {
		rate = float64(verified) / float64(processed) * 100
	}
	return models.Stats{
		PostsProcessed:   processed,
		PostsVerified:    verified,
		VerificationRate: rate,
	}
}

// Aggregate folds claims in arrival order. A player's location is taken
// from their first claim. Stats count every claim as processed and verified;
// callers with run-level numbers replace them.
func (a *Aggregator) Aggregate(source string, claims []models.Claim) *models.AggregateResult {
	result := Empty(source)
	result.LastUpdated = a.now().UTC()

	entries := make(map[string]int)
	players := make([]models.LeaderboardEntry, 0)

	for _, claim := range claims {
		idx, ok := entries[claim.Handle]
		if !ok {
			idx = len(players)
			entries[claim.Handle] = idx
			players = append(players, models.LeaderboardEntry{
				Handle:  claim.Handle,
				City:    claim.City,
				State:   claim.State,
				Country: claim.Country,
			})
		}
		players[idx].Points += claim.Points

		result.Geography.Add(claim.Country, claim.State, claim.City)
		result.Missions.Increment(claim.MissionID, claim.Platform)

		if jc, ok := hashtag.ParseJusticeCase(claim.Text, claim.Handle, claim.CreatedAt); ok {
			jc.ID = "case-" + claim.Identity
			result.Justice = append(result.Justice, jc)
		}
	}

	// stable, so equal totals keep first-seen order
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Points > players[j].Points
	})
	if len(players) > a.limit {
		players = players[:a.limit]
	}

	result.Leaderboard = players
	result.Stats = NewStats(len(claims), len(claims))

	return result
}
