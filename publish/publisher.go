// Package publish delivers the reconciled result to its readers: an S3
// object for the static site, a redis key, and an in-process cache the
// HTTP API serves from.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/models"
)

// Publisher delivers a reconciled result to one destination
type Publisher interface {
	Name() string
	Publish(ctx context.Context, result *models.ReconciledResult) error
}

// Fanout publishes to every sink. A failing sink is logged and skipped so one
// broken destination never blocks the others.
type Fanout struct {
	sinks []Publisher
	log   *logrus.Logger
}

// NewFanout creates a publisher over sinks
func NewFanout(log *logrus.Logger, sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks, log: log}
}

func (f *Fanout) Name() string {
	return "fanout"
}

// Publish reports an error when any sink failed
func (f *Fanout) Publish(ctx context.Context, result *models.ReconciledResult) error {
	failed := 0
	for _, sink := range f.sinks {
		start := time.Now()
		if err := sink.Publish(ctx, result); err != nil {
			failed++
			f.log.WithError(err).WithField("sink", sink.Name()).Error("Failed to publish result")
			continue
		}
		f.log.WithFields(logrus.Fields{
			"sink":        sink.Name(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Published result")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sinks failed", failed, len(f.sinks))
	}
	return nil
}

func encode(result *models.ReconciledResult) ([]byte, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return body, nil
}
