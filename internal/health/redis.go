package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlowPingThreshold marks the registry degraded when a PING takes longer.
const SlowPingThreshold = 250 * time.Millisecond

// RedisChecker pings the session registry's Redis. A slow answer is
// degraded, no answer is down.
type RedisChecker struct {
	client redis.UniversalClient
	slow   time.Duration
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client, slow: SlowPingThreshold}
}

func (r *RedisChecker) Name() string { return "redis" }

func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return errors.New("redis client not configured")
	}
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if took := time.Since(start); took > r.slow {
		return Degraded("redis ping took %s", took.Round(time.Millisecond))
	}
	return nil
}

// Details reports the client's connection pool counters.
func (r *RedisChecker) Details() map[string]interface{} {
	if r.client == nil {
		return nil
	}
	st := r.client.PoolStats()
	return map[string]interface{}{
		"total_conns": st.TotalConns,
		"idle_conns":  st.IdleConns,
		"timeouts":    st.Timeouts,
	}
}
