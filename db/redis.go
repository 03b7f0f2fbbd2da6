package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/models"
)

const redisKeyPrefix = "mischief"

// redisCommands is the subset of the go-redis client the history needs
type redisCommands interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisHistory keeps post history in redis so several workers can share it.
// SETNX on the post key is the conditional insert.
type RedisHistory struct {
	client redisCommands
	log    *logrus.Logger
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, database int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return client, nil
}

// NewRedisHistory creates a history store on an existing client
func NewRedisHistory(client redisCommands, log *logrus.Logger) *RedisHistory {
	return &RedisHistory{
		client: client,
		log:    log,
	}
}

func postKey(source, identity string) string {
	return fmt.Sprintf("%s:post:%s:%s", redisKeyPrefix, source, identity)
}

func claimsKey(source string) string {
	return fmt.Sprintf("%s:claims:%s", redisKeyPrefix, source)
}

// Exists reports whether source has already recorded identity
func (r *RedisHistory) Exists(ctx context.Context, source, identity string) (bool, error) {
	n, err := r.client.Exists(ctx, postKey(source, identity)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up post %s: %w", identity, err)
	}
	return n > 0, nil
}

// InsertIfAbsent records a claim unless source already has identity
func (r *RedisHistory) InsertIfAbsent(ctx context.Context, source, identity string, claim models.Claim) (bool, error) {
	payload, err := json.Marshal(claim)
	if err != nil {
		return false, fmt.Errorf("failed to encode claim: %w", err)
	}

	key := postKey(source, identity)
	inserted, err := r.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve post %s: %w", identity, err)
	}
	if !inserted {
		return false, nil
	}

	if err := r.client.RPush(ctx, claimsKey(source), payload).Err(); err != nil {
		// release the reservation so a retry can record the claim
		if delErr := r.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			r.log.WithError(delErr).WithFields(logrus.Fields{
				"source":  source,
				"post_id": identity,
			}).Error("Failed to release post reservation")
		}
		return false, fmt.Errorf("failed to append claim %s: %w", identity, err)
	}

	return true, nil
}

// Claims returns every claim source has recorded, oldest first
func (r *RedisHistory) Claims(ctx context.Context, source string) ([]models.Claim, error) {
	values, err := r.client.LRange(ctx, claimsKey(source), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read claims for %s: %w", source, err)
	}

	claims := make([]models.Claim, 0, len(values))
	for _, v := range values {
		var claim models.Claim
		if err := json.Unmarshal([]byte(v), &claim); err != nil {
			r.log.WithError(err).WithField("source", source).Warn("Skipping unreadable claim")
			continue
		}
		claims = append(claims, claim)
	}

	return claims, nil
}
