package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brettboylen/mischief-tracker/aggregate"
	"github.com/brettboylen/mischief-tracker/models"
)

var (
	// ErrNoSources is returned when no source names are configured
	ErrNoSources = errors.New("reconcile: at least one source is required")
	// ErrSourceMismatch is returned when results and source names differ in length
	ErrSourceMismatch = errors.New("reconcile: results and source names differ in length")
)

// Reconciler merges per-source aggregates using a highest-count-wins policy
type Reconciler struct {
	names []string
	now   func() time.Time
}

// NewReconciler creates a reconciler for the given sources, in iteration order
func NewReconciler(sourceNames []string) (*Reconciler, error) {
	if len(sourceNames) == 0 {
		return nil, ErrNoSources
	}
	names := make([]string, len(sourceNames))
	copy(names, sourceNames)
	return &Reconciler{
		names: names,
		now:   time.Now,
	}, nil
}

// Sources returns the configured source names
func (r *Reconciler) Sources() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Reconcile is a convenience wrapper around NewReconciler and Reconciler.Reconcile
func Reconcile(results []*models.AggregateResult, sourceNames []string) (*models.ReconciledResult, error) {
	r, err := NewReconciler(sourceNames)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(results)
}

// Reconcile merges one result per configured source. A nil result counts as
// empty, so it loses every comparison.
func (r *Reconciler) Reconcile(results []*models.AggregateResult) (*models.ReconciledResult, error) {
	if len(results) != len(r.names) {
		return nil, fmt.Errorf("%w: %d results for %d sources", ErrSourceMismatch, len(results), len(r.names))
	}

	sources := make([]*models.AggregateResult, len(results))
	for i, res := range results {
		if res == nil {
			res = aggregate.Empty(r.names[i])
		}
		sources[i] = res
	}

	out := &models.ReconciledResult{
		AggregateResult: *aggregate.Empty(strings.Join(r.names, "+")),
		Winners:         make(map[models.MissionID]models.PlatformWinners),
	}
	out.LastUpdated = r.now().UTC()

	r.mergeMissions(sources, out)

	if best := r.pick(sources, func(res *models.AggregateResult) int { return len(res.Leaderboard) }); len(sources[best].Leaderboard) > 0 {
		out.Leaderboard = append(out.Leaderboard, sources[best].Leaderboard...)
	}
	if best := r.pick(sources, func(res *models.AggregateResult) int { return len(res.Geography) }); len(sources[best].Geography) > 0 {
		out.Geography = sources[best].Geography.Clone()
	}

	processed, verified := 0, 0
	for _, res := range sources {
		out.Justice = append(out.Justice, res.Justice...)
		processed += res.Stats.PostsProcessed
		verified += res.Stats.PostsVerified
	}
	out.Stats = aggregate.NewStats(processed, verified)

	return out, nil
}

// pick returns the index of the source with the largest size; the first wins ties
func (r *Reconciler) pick(sources []*models.AggregateResult, size func(*models.AggregateResult) int) int {
	best := 0
	for i := 1; i < len(sources); i++ {
		if size(sources[i]) > size(sources[best]) {
			best = i
		}
	}
	return best
}

func (r *Reconciler) mergeMissions(sources []*models.AggregateResult, out *models.ReconciledResult) {
	ids := make(map[models.MissionID]struct{})
	for _, res := range sources {
		for id := range res.Missions {
			ids[id] = struct{}{}
		}
	}

	ordered := make([]models.MissionID, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, id := range ordered {
		var counts models.PlatformCounts
		var winners models.PlatformWinners
		for _, platform := range models.Platforms {
			best, winner := -1, 0
			for i, res := range sources {
				// missing ids read as zero counts
				n := res.Missions[id].Get(platform)
				if n > best {
					best, winner = n, i
				}
			}
			counts.Set(platform, best)
			winners.Set(platform, r.names[winner])
		}
		out.Missions[id] = counts
		out.Winners[id] = winners
	}
}
