package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/api"
	"github.com/brettboylen/mischief-tracker/db"
	"github.com/brettboylen/mischief-tracker/dedup"
	"github.com/brettboylen/mischief-tracker/hashtag"
	"github.com/brettboylen/mischief-tracker/justice"
	"github.com/brettboylen/mischief-tracker/publish"
	"github.com/brettboylen/mischief-tracker/stats"
	"github.com/brettboylen/mischief-tracker/utils"
)

// app holds the wired components and everything that needs closing
type app struct {
	collector *stats.Collector
	cache     *publish.MemoryCache
	justice   *justice.Service
	database  *db.Database
	registry  *prometheus.Registry
	closers   []func() error
	log       *logrus.Logger
}

func newApp(ctx context.Context, config *utils.Config, log *logrus.Logger) (*app, error) {
	a := &app{
		registry: prometheus.NewRegistry(),
		log:      log,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	database, err := db.NewDatabase(config.History.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, database.Close)
	a.database = database
	a.justice = justice.NewService(database, log)

	var redisClient *redis.Client
	if config.History.RedisAddr != "" {
		redisClient, err = db.NewRedisClient(ctx, config.History.RedisAddr, config.History.RedisPassword, config.History.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, redisClient.Close)
	}

	var history dedup.HistoryStore
	switch config.History.Backend {
	case utils.BackendRedis:
		history = db.NewRedisHistory(redisClient, log)
	case utils.BackendMemory:
		history = db.NewMemoryHistory()
	default:
		history = database
	}

	a.cache = publish.NewMemoryCache(config.Publish.CacheTTL)
	sinks := []publish.Publisher{a.cache}
	if config.Publish.S3Bucket != "" {
		s3Sink, err := publish.NewS3Sink(config.Publish.S3Bucket, config.Publish.S3Key, config.Publish.S3Region)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, s3Sink)
	}
	if config.Publish.RedisKey != "" {
		sinks = append(sinks, publish.NewRedisSink(redisClient, config.Publish.RedisKey))
	}

	collector, err := stats.NewCollector(
		buildSources(config, log),
		history,
		publish.NewFanout(log, sinks...),
		stats.NewMetrics(a.registry),
		stats.Options{
			Interval:         config.Scrape.Interval,
			LeaderboardLimit: config.Scrape.LeaderboardLimit,
			Dedup: dedup.Options{
				Parser:         hashtag.Options{UsernameFallback: config.Scrape.UsernameFallback},
				AuthorFallback: config.Scrape.AuthorFallback,
			},
		},
		log,
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.collector = collector

	return a, nil
}

// buildSources creates sources in the order SourceNames reports them
func buildSources(config *utils.Config, log *logrus.Logger) []api.Source {
	sources := make([]api.Source, 0)
	if config.BrightData.Enabled() {
		sources = append(sources, api.NewBrightDataSource(api.BrightDataConfig{
			APIKey:               config.BrightData.APIKey,
			BaseURL:              config.BrightData.BaseURL,
			Hashtag:              config.Scrape.Hashtag,
			Datasets:             config.BrightData.Datasets,
			MaxRequestsPerMinute: config.BrightData.MaxRequestsPerMinute,
		}, log))
	}
	if config.Twitter.Enabled {
		sources = append(sources, api.NewTwitterSource(config.Scrape.Hashtag, config.Twitter.MaxTweets, log))
	}
	for _, h := range config.HTML {
		sources = append(sources, api.NewHTMLSource(h.Name, h.Platform, h.URL, log))
	}
	return sources
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}
