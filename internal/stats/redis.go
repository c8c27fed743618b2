package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	fieldVisits       = "visits"
	fieldAudioSeconds = "audio_seconds"
)

// RedisCounter keeps each (user, day) in a hash so increments are atomic
// across server instances
type RedisCounter struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisCounter creates a redis-backed counter. A positive retention
// expires day entries after that long.
func NewRedisCounter(client redis.UniversalClient, retention time.Duration) *RedisCounter {
	return &RedisCounter{client: client, retention: retention}
}

// NewRedisClient parses a redis:// URL into a client
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func dailyKey(userID, day string) string {
	return "stats:daily:" + userID + ":" + day
}

// Add increments the day's counters in one pipeline
func (c *RedisCounter) Add(ctx context.Context, userID, day string, visits int64, seconds float64) error {
	key := dailyKey(userID, day)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldVisits, visits)
		pipe.HIncrByFloat(ctx, key, fieldAudioSeconds, seconds)
		if c.retention > 0 {
			pipe.Expire(ctx, key, c.retention)
		}
		return nil
	})
	return err
}

// Get reads the day's counters, reporting zeros for a missing key
func (c *RedisCounter) Get(ctx context.Context, userID, day string) (*models.DailyStatistic, error) {
	values, err := c.client.HGetAll(ctx, dailyKey(userID, day)).Result()
	if err != nil {
		return nil, err
	}

	stat := &models.DailyStatistic{UserID: userID, Day: day}
	if v, ok := values[fieldVisits]; ok {
		if stat.Visits, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse visits: %w", err)
		}
	}
	if v, ok := values[fieldAudioSeconds]; ok {
		if stat.AudioSeconds, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("parse audio seconds: %w", err)
		}
	}
	return stat, nil
}
