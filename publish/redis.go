package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brettboylen/mischief-tracker/models"
)

// DefaultRedisKey holds the latest published result
const DefaultRedisKey = "mischief:published"

type stringSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSink stores the result JSON under a single key
type RedisSink struct {
	client stringSetter
	key    string
}

// NewRedisSink creates a redis sink
func NewRedisSink(client stringSetter, key string) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{client: client, key: key}
}

func (r *RedisSink) Name() string {
	return "redis"
}

func (r *RedisSink) Publish(ctx context.Context, result *models.ReconciledResult) error {
	body, err := encode(result)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, body, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", r.key, err)
	}
	return nil
}
