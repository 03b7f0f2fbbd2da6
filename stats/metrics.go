package stats

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus metrics for scrape runs
type Metrics struct {
	PostsProcessed  *prometheus.CounterVec
	PostsVerified   *prometheus.CounterVec
	PostsDuplicate  *prometheus.CounterVec
	SourceFailures  *prometheus.CounterVec
	SourceDuration  *prometheus.HistogramVec
	RunDuration     prometheus.Histogram
	PublishFailures prometheus.Counter
	LastRun         prometheus.Gauge
	LeaderboardSize prometheus.Gauge
}

// NewMetrics creates and registers the run metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PostsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mischief_posts_processed_total",
			Help: "Posts returned by a source",
		}, []string{"source"}),
		PostsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mischief_posts_verified_total",
			Help: "Posts carrying the game marker",
		}, []string{"source"}),
		PostsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mischief_posts_duplicate_total",
			Help: "Verified posts already present in history",
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mischief_source_failures_total",
			Help: "Runs where a source contributed an empty result",
		}, []string{"source"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mischief_source_duration_seconds",
			Help:    "Time to fetch, dedupe and aggregate one source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mischief_run_duration_seconds",
			Help:    "Time for a full scrape run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mischief_publish_failures_total",
			Help: "Runs where at least one publish sink failed",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mischief_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
		LeaderboardSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mischief_leaderboard_size",
			Help: "Entries in the published leaderboard",
		}),
	}

	reg.MustRegister(
		m.PostsProcessed,
		m.PostsVerified,
		m.PostsDuplicate,
		m.SourceFailures,
		m.SourceDuration,
		m.RunDuration,
		m.PublishFailures,
		m.LastRun,
		m.LeaderboardSize,
	)
	return m
}
