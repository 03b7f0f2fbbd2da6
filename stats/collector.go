package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brettboylen/mischief-tracker/aggregate"
	"github.com/brettboylen/mischief-tracker/api"
	"github.com/brettboylen/mischief-tracker/dedup"
	"github.com/brettboylen/mischief-tracker/models"
	"github.com/brettboylen/mischief-tracker/publish"
	"github.com/brettboylen/mischief-tracker/reconcile"
)

// Collector runs scrape cycles: every source is fetched, deduplicated
// against its history and aggregated in parallel, then the results are
// reconciled and published.
type Collector struct {
	sources     []api.Source
	history     dedup.HistoryStore
	dedup       *dedup.Deduplicator
	aggregator  *aggregate.Aggregator
	reconciler  *reconcile.Reconciler
	publisher   publish.Publisher
	metrics     *Metrics
	interval    time.Duration
	timeout     time.Duration
	log         *logrus.Logger
	mutex       sync.RWMutex
	runMutex    sync.Mutex
	lastSources map[string]models.Stats
}

// Options configures a Collector
type Options struct {
	Interval         time.Duration
	SourceTimeout    time.Duration
	LeaderboardLimit int
	Dedup            dedup.Options
}

// NewCollector creates a new collector
func NewCollector(
	sources []api.Source,
	history dedup.HistoryStore,
	publisher publish.Publisher,
	metrics *Metrics,
	opts Options,
	log *logrus.Logger,
) (*Collector, error) {
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	reconciler, err := reconcile.NewReconciler(names)
	if err != nil {
		return nil, err
	}

	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.SourceTimeout <= 0 {
		// sources must finish well before the next run starts
		opts.SourceTimeout = opts.Interval / 2
	}

	return &Collector{
		sources:     sources,
		history:     history,
		dedup:       dedup.NewDeduplicator(history, opts.Dedup, log),
		aggregator:  aggregate.NewAggregator(opts.LeaderboardLimit),
		reconciler:  reconciler,
		publisher:   publisher,
		metrics:     metrics,
		interval:    opts.Interval,
		timeout:     opts.SourceTimeout,
		log:         log,
		lastSources: make(map[string]models.Stats),
	}, nil
}

// Start runs immediately and then on every interval until ctx is done
func (c *Collector) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.WithFields(logrus.Fields{
		"interval": c.interval.String(),
		"sources":  c.reconciler.Sources(),
	}).Info("Collector started")

	if _, err := c.RunOnce(ctx); err != nil {
		c.log.WithError(err).Error("Scrape run failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.log.WithError(err).Error("Scrape run failed")
			}
		}
	}
}

// RunOnce performs one complete run. Concurrent calls are serialised. A
// failing source contributes an empty result; a failing publish sink is
// logged and the run still completes.
func (c *Collector) RunOnce(ctx context.Context) (*models.ReconciledResult, error) {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	start := time.Now()
	results := make([]*models.AggregateResult, len(c.sources))

	var g errgroup.Group
	for i, src := range c.sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = c.runSource(ctx, src)
			return nil
		})
	}
	// runSource never fails; failures become empty results
	_ = g.Wait()

	reconciled, err := c.reconciler.Reconcile(results)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile: %w", err)
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, reconciled); err != nil {
			c.metrics.PublishFailures.Inc()
			c.log.WithError(err).Warn("Publish incomplete")
		}
	}

	sourceStats := make(map[string]models.Stats, len(results))
	for _, res := range results {
		sourceStats[res.Source] = res.Stats
	}

	c.mutex.Lock()
	c.lastSources = sourceStats
	c.mutex.Unlock()

	elapsed := time.Since(start)
	c.metrics.RunDuration.Observe(elapsed.Seconds())
	c.metrics.LastRun.SetToCurrentTime()
	c.metrics.LeaderboardSize.Set(float64(len(reconciled.Leaderboard)))

	c.log.WithFields(logrus.Fields{
		"source":            reconciled.Source,
		"leaderboard":       len(reconciled.Leaderboard),
		"missions":          len(reconciled.Missions),
		"justice_cases":     len(reconciled.Justice),
		"posts_processed":   reconciled.Stats.PostsProcessed,
		"posts_verified":    reconciled.Stats.PostsVerified,
		"verification_rate": reconciled.Stats.VerificationRate,
		"duration_ms":       elapsed.Milliseconds(),
	}).Info("Scrape run complete")

	return reconciled, nil
}

// runSource fetches, admits and aggregates one source over its full history
func (c *Collector) runSource(ctx context.Context, src api.Source) *models.AggregateResult {
	name := src.Name()
	start := time.Now()
	defer func() {
		c.metrics.SourceDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	fail := func(err error, msg string) *models.AggregateResult {
		c.metrics.SourceFailures.WithLabelValues(name).Inc()
		c.log.WithError(err).WithField("source", name).Error(msg)
		return aggregate.Empty(name)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	posts, err := src.Fetch(fetchCtx)
	cancel()
	if err != nil {
		return fail(err, "Failed to fetch posts")
	}

	admitted, err := c.dedup.Admit(ctx, name, posts)
	if err != nil {
		return fail(err, "Failed to record posts")
	}

	claims, err := c.history.Claims(ctx, name)
	if err != nil {
		return fail(err, "Failed to load history")
	}

	c.metrics.PostsProcessed.WithLabelValues(name).Add(float64(admitted.Processed))
	c.metrics.PostsVerified.WithLabelValues(name).Add(float64(admitted.Verified))
	c.metrics.PostsDuplicate.WithLabelValues(name).Add(float64(admitted.Duplicates))

	result := c.aggregator.Aggregate(name, claims)
	result.Stats = aggregate.NewStats(admitted.Processed, admitted.Verified)

	c.log.WithFields(logrus.Fields{
		"source":     name,
		"fetched":    admitted.Processed,
		"verified":   admitted.Verified,
		"new":        len(admitted.Admitted),
		"duplicates": admitted.Duplicates,
		"history":    len(claims),
	}).Info("Source processed")

	return result
}

// SourceStats returns each source's stats from the last run
func (c *Collector) SourceStats() map[string]models.Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make(map[string]models.Stats, len(c.lastSources))
	for k, v := range c.lastSources {
		out[k] = v
	}
	return out
}
