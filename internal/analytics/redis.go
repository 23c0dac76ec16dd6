// Package analytics records execution counters in Redis as a
// best-effort side channel for dashboards. It never affects
// scheduling or execution correctness.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

type Config struct {
	// Window is the counter bucket size: 1m, 5m or 1h.
	Window time.Duration
	// Retention is the TTL on each bucket; must cover at least one
	// window.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 7 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Window == 0 {
		config = DefaultConfig()
	}
	return &RedisSink{client: client, config: config}
}

// Record increments the per-resource, per-trigger outcome counter for
// the execution's time bucket. Errors are logged and dropped.
func (s *RedisSink) Record(ctx context.Context, rec domain.ExecutionRecord) {
	key := buildKey(rec.Resource.String(), rec.TriggerID.String(), string(rec.Outcome), rec.FiredAt, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(resource, triggerID, outcome string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("r:%s:t:%s:%s:%s", resource, triggerID, outcome, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
