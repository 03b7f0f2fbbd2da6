package reconcile

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/mischief-tracker/aggregate"
	"github.com/brettboylen/mischief-tracker/models"
)

var fixedNow = time.Date(2025, 11, 7, 0, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, names ...string) *Reconciler {
	t.Helper()
	r, err := NewReconciler(names)
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	return r
}

func leaderboard(n int) []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, models.LeaderboardEntry{
			Handle:  fmt.Sprintf("@player%d", i),
			Points:  100 - i,
			City:    "Unknown",
			State:   "Unknown",
			Country: "US",
		})
	}
	return entries
}

func TestNewReconcilerRequiresSources(t *testing.T) {
	_, err := NewReconciler(nil)
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestReconcileLengthMismatch(t *testing.T) {
	r := newTestReconciler(t, "a", "b")
	_, err := r.Reconcile([]*models.AggregateResult{aggregate.Empty("a")})
	assert.True(t, errors.Is(err, ErrSourceMismatch))
}

func TestReconcileLeaderboardLargestWins(t *testing.T) {
	a := aggregate.Empty("a")
	a.Leaderboard = leaderboard(2)
	b := aggregate.Empty("b")
	b.Leaderboard = leaderboard(5)
	c := aggregate.Empty("c")

	out, err := newTestReconciler(t, "a", "b", "c").Reconcile([]*models.AggregateResult{a, b, c})
	require.NoError(t, err)

	if diff := cmp.Diff(b.Leaderboard, out.Leaderboard); diff != "" {
		t.Errorf("leaderboard mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a+b+c", out.Source)
	assert.Equal(t, fixedNow, out.LastUpdated)
}

func TestReconcileLeaderboardTieGoesToFirst(t *testing.T) {
	a := aggregate.Empty("a")
	a.Leaderboard = []models.LeaderboardEntry{{Handle: "@from-a", Points: 1}}
	b := aggregate.Empty("b")
	b.Leaderboard = []models.LeaderboardEntry{{Handle: "@from-b", Points: 9}}

	out, err := newTestReconciler(t, "a", "b").Reconcile([]*models.AggregateResult{a, b})
	require.NoError(t, err)
	assert.Equal(t, "@from-a", out.Leaderboard[0].Handle)
}

func TestReconcileMissions(t *testing.T) {
	a := aggregate.Empty("A")
	a.Missions = models.MissionTally{7: {Instagram: 1}}
	b := aggregate.Empty("B")
	b.Missions = models.MissionTally{7: {Instagram: 3, Facebook: 1}, 3: {X: 2}}

	out, err := newTestReconciler(t, "A", "B").Reconcile([]*models.AggregateResult{a, b})
	require.NoError(t, err)

	want := models.MissionTally{
		7: {Instagram: 3, Facebook: 1, X: 0},
		3: {X: 2},
	}
	if diff := cmp.Diff(want, out.Missions); diff != "" {
		t.Errorf("missions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, models.PlatformWinners{Instagram: "B", Facebook: "B", X: "A"}, out.Winners[7])
	assert.Equal(t, models.PlatformWinners{Instagram: "A", Facebook: "A", X: "B"}, out.Winners[3])
}

func TestReconcileMaxInvariant(t *testing.T) {
	sources := []*models.AggregateResult{aggregate.Empty("a"), aggregate.Empty("b"), aggregate.Empty("c")}
	sources[0].Missions = models.MissionTally{1: {Instagram: 4, X: 1}, 2: {Facebook: 2}}
	sources[1].Missions = models.MissionTally{1: {Instagram: 2, X: 6}}
	sources[2].Missions = models.MissionTally{2: {Facebook: 5, Instagram: 1}, 9: {X: 1}}

	out, err := newTestReconciler(t, "a", "b", "c").Reconcile(sources)
	require.NoError(t, err)

	for id, counts := range out.Missions {
		for _, platform := range models.Platforms {
			max := 0
			for _, src := range sources {
				if n := src.Missions[id].Get(platform); n > max {
					max = n
				}
			}
			assert.Equal(t, max, counts.Get(platform), "mission %d %s", id, platform)
		}
	}
	assert.Len(t, out.Missions, 3)
}

func TestReconcileGeographyAndJustice(t *testing.T) {
	a := aggregate.Empty("a")
	a.Geography = models.Geography{"US": {"TX": {"Austin": 4}}}
	a.Justice = []models.JusticeCase{{ID: "case-1"}}
	b := aggregate.Empty("b")
	b.Geography = models.Geography{"US": {"WA": {"Seattle": 1}}, "UK": {"Unknown": {"London": 1}}}
	b.Justice = []models.JusticeCase{{ID: "case-1"}, {ID: "case-2"}}

	out, err := newTestReconciler(t, "a", "b").Reconcile([]*models.AggregateResult{a, b})
	require.NoError(t, err)

	assert.Equal(t, b.Geography, out.Geography)
	// concatenated, duplicates included
	assert.Len(t, out.Justice, 3)

	// the reconciled tables do not share storage with the winning source
	b.Geography.Add("US", "WA", "Seattle")
	b.Leaderboard = append(b.Leaderboard, models.LeaderboardEntry{Handle: "@late"})
	assert.Equal(t, 1, out.Geography["US"]["WA"]["Seattle"])
	assert.Empty(t, out.Leaderboard)
}

func TestReconcileStats(t *testing.T) {
	a := aggregate.Empty("a")
	a.Stats = aggregate.NewStats(10, 5)
	b := aggregate.Empty("b")
	b.Stats = aggregate.NewStats(10, 10)

	out, err := newTestReconciler(t, "a", "b").Reconcile([]*models.AggregateResult{a, b})
	require.NoError(t, err)
	assert.Equal(t, models.Stats{PostsProcessed: 20, PostsVerified: 15, VerificationRate: 75}, out.Stats)
}

func TestReconcileEmptySources(t *testing.T) {
	out, err := Reconcile([]*models.AggregateResult{aggregate.Empty("a"), nil}, []string{"a", "b"})
	require.NoError(t, err)

	assert.Empty(t, out.Leaderboard)
	assert.NotNil(t, out.Leaderboard)
	assert.Empty(t, out.Geography)
	assert.Empty(t, out.Missions)
	assert.Empty(t, out.Winners)
	assert.Empty(t, out.Justice)
	assert.Equal(t, 100.0, out.Stats.VerificationRate)
}
