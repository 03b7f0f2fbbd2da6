package stats

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/brettboylen/mischief-tracker/api"
	"github.com/brettboylen/mischief-tracker/db"
	"github.com/brettboylen/mischief-tracker/models"
	"github.com/brettboylen/mischief-tracker/publish"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-cache stops its janitor from a finalizer
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeSource struct {
	name  string
	mutex sync.Mutex
	posts []models.RawPost
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(context.Context) ([]models.RawPost, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls++
	return f.posts, f.err
}

var postedAt = time.Date(2025, 11, 6, 23, 50, 0, 0, time.UTC)

func post(platform models.Platform, id, text string) models.RawPost {
	return models.RawPost{Platform: platform, NativeID: id, Text: text, CreatedAt: postedAt}
}

func newTestCollector(t *testing.T, sources ...api.Source) (*Collector, *publish.MemoryCache) {
	t.Helper()
	cache := publish.NewMemoryCache(0)
	c, err := NewCollector(
		sources,
		db.NewMemoryHistory(),
		publish.NewFanout(testLogger(), cache),
		NewMetrics(prometheus.NewRegistry()),
		Options{Interval: time.Minute},
		testLogger(),
	)
	require.NoError(t, err)
	return c, cache
}

func TestNewCollectorRequiresSources(t *testing.T) {
	_, err := NewCollector(nil, db.NewMemoryHistory(), nil, NewMetrics(prometheus.NewRegistry()), Options{}, testLogger())
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	brightdata := &fakeSource{name: "brightdata", posts: []models.RawPost{
		post(models.PlatformInstagram, "1", "#missionmischief #@casper #missionmischiefpoints10 #missionmischiefcoffee"),
		post(models.PlatformInstagram, "2", "latte art"),
	}}
	x := &fakeSource{name: "x", posts: []models.RawPost{
		post(models.PlatformX, "7", "#missionmischief #@shady #missionmischiefcoffee"),
		post(models.PlatformX, "8", "#missionmischief #@shady #missionmischiefcoffee"),
		post(models.PlatformInstagram, "9", "#missionmischief #@mayhem #missionmischiefcoffee"),
	}}
	c, cache := newTestCollector(t, brightdata, x)

	_, found := cache.Latest()
	assert.False(t, found)

	result, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "brightdata+x", result.Source)
	// x has more players, so its leaderboard wins wholesale
	require.Len(t, result.Leaderboard, 2)
	assert.Equal(t, "@shady", result.Leaderboard[0].Handle)
	assert.Equal(t, 6, result.Leaderboard[0].Points)

	assert.Equal(t, models.PlatformCounts{Instagram: 1, X: 2}, result.Missions[7])
	assert.Equal(t, models.PlatformWinners{Instagram: "brightdata", Facebook: "brightdata", X: "x"}, result.Winners[7])

	assert.Equal(t, models.Stats{PostsProcessed: 5, PostsVerified: 4, VerificationRate: 80}, result.Stats)

	cached, found := cache.Latest()
	require.True(t, found)
	assert.Same(t, result, cached)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.PostsProcessed.WithLabelValues("brightdata")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.LeaderboardSize))
}

func TestRunOnceIsIdempotentOverHistory(t *testing.T) {
	src := &fakeSource{name: "brightdata", posts: []models.RawPost{
		post(models.PlatformFacebook, "1", "#missionmischief #@casper #missionmischiefpoints10"),
	}}
	c, _ := newTestCollector(t, src)

	first, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Leaderboard, second.Leaderboard)
	assert.Equal(t, 10, second.Leaderboard[0].Points)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.PostsDuplicate.WithLabelValues("brightdata")))
}

func TestRunOnceFailedSourceIsEmpty(t *testing.T) {
	ok := &fakeSource{name: "brightdata", posts: []models.RawPost{
		post(models.PlatformX, "1", "#missionmischief #@casper #missionmischiefbeer"),
	}}
	broken := &fakeSource{name: "x", err: errors.New("guest token expired")}
	c, _ := newTestCollector(t, ok, broken)

	result, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Leaderboard, 1)
	assert.Equal(t, "brightdata", result.Winners[3].X)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.SourceFailures.WithLabelValues("x")))

	stats := c.SourceStats()
	assert.Equal(t, 0, stats["x"].PostsProcessed)
	assert.Equal(t, 1, stats["brightdata"].PostsVerified)
}

func TestStartStopsOnCancel(t *testing.T) {
	src := &fakeSource{name: "brightdata"}
	c, cache := newTestCollector(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, found := cache.Latest()
		return found
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
