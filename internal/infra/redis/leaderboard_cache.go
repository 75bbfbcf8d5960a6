package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// LeaderboardCache caches ranked leaderboard snapshots in Redis (one JSON
// value per quiz+limit) and falls back to the underlying source on a miss.
// Finishing an attempt invalidates the quiz's keys.
type LeaderboardCache struct {
	client *redis.Client
	source app.LeaderboardSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, source app.LeaderboardSource, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) TopFinished(ctx context.Context, quizID int64, limit int) ([]domain.LeaderboardEntry, error) {
	key := c.key(quizID, limit)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var entries []domain.LeaderboardEntry
		if err := json.Unmarshal(raw, &entries); err == nil {
			return entries, nil
		}
		// Corrupt cache entry; fall through and rebuild it.
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the key meanwhile.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			var entries []domain.LeaderboardEntry
			if err := json.Unmarshal(raw, &entries); err == nil {
				return entries, nil
			}
		}

		entries, err := c.source.TopFinished(ctx, quizID, limit)
		if err != nil {
			return nil, err
		}

		if raw, err := json.Marshal(entries); err == nil {
			// Cache write is best-effort; the source already answered.
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.LeaderboardEntry), nil
}

// Invalidate drops every cached snapshot for the quiz so the next read
// reflects the freshly finished attempt.
func (c *LeaderboardCache) Invalidate(ctx context.Context, quizID int64) error {
	pattern := "leaderboard:" + strconv.FormatInt(quizID, 10) + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return domain.Wrap(err, domain.KindInternal, "scan leaderboard keys for quiz %d", quizID)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return domain.Wrap(err, domain.KindInternal, "invalidate leaderboard for quiz %d", quizID)
	}
	return nil
}

func (c *LeaderboardCache) key(quizID int64, limit int) string {
	return "leaderboard:" + strconv.FormatInt(quizID, 10) + ":" + strconv.Itoa(limit)
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
