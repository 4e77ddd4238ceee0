package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/metrics"
)

const maxWatchRetries = 5

// registerScript creates the record only if absent and adds it to the index
// in one step.
var registerScript = redis.NewScript(`
	local key = KEYS[1]
	local index_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local session_id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', index_key, session_id)
	return 1
`)

// RedisRegistry stores session records as JSON strings with a TTL. Records
// of a host that stops heartbeating expire on their own and are pruned
// from the index by List.
type RedisRegistry struct {
	client redis.UniversalClient
	logger logger.Logger
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRegistry creates a registry on client. The client stays owned by
// the caller.
func NewRedisRegistry(client redis.UniversalClient, log logger.Logger, prefix string, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = "splitter"
	}
	return &RedisRegistry{
		client: client,
		logger: logger.Component(log, "session_registry"),
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *RedisRegistry) key(sessionID string) string {
	return r.prefix + ":session:" + sessionID
}

func (r *RedisRegistry) indexKey() string {
	return r.prefix + ":sessions"
}

func (r *RedisRegistry) Register(ctx context.Context, session *Session) error {
	rec := session.clone()
	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastHeartbeat = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := registerScript.Run(ctx, r.client,
		[]string{r.key(rec.ID), r.indexKey()},
		data, r.ttl.Milliseconds(), rec.ID).Int()
	if err != nil {
		metrics.IncrementRegistryError("register")
		return fmt.Errorf("failed to register session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s: %w", rec.ID, ErrSessionExists)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": rec.ID,
		"locator":    rec.Locator,
		"streams":    len(rec.Streams),
	}).Info("Session registered")
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, sessionID string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(sessionID))
		pipe.SRem(ctx, r.indexKey(), sessionID)
		return nil
	})
	if err != nil {
		metrics.IncrementRegistryError("unregister")
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	r.logger.WithField("session_id", sessionID).Info("Session unregistered")
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(data)
}

// List returns live records ordered by creation time and drops expired IDs
// from the index.
func (r *RedisRegistry) List(ctx context.Context) ([]*Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		metrics.IncrementRegistryError("list")
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			r.logger.WithError(err).Warnf("Failed to get session %s", ids[i])
			continue
		}
		rec, err := decodeSession(data)
		if err != nil {
			r.logger.WithError(err).Warnf("Failed to decode session %s", ids[i])
			continue
		}
		sessions = append(sessions, rec)
	}

	if len(expired) > 0 {
		if err := r.client.SRem(ctx, r.indexKey(), expired...).Err(); err != nil {
			r.logger.WithError(err).Warn("Failed to prune expired sessions from index")
		}
	}

	sortSessions(sessions)
	return sessions, nil
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, sessionID string) error {
	return r.update(ctx, sessionID, func(*Session) {})
}

func (r *RedisRegistry) UpdateState(ctx context.Context, sessionID string, state SessionState) error {
	return r.update(ctx, sessionID, func(s *Session) { s.State = state })
}

func (r *RedisRegistry) UpdateStatus(ctx context.Context, sessionID string, status Status) error {
	return r.update(ctx, sessionID, func(s *Session) { s.Status = status })
}

// update is an optimistic read-modify-write: the key is WATCHed and the
// write is retried when another writer touched it first.
func (r *RedisRegistry) update(ctx context.Context, sessionID string, fn func(*Session)) error {
	key := r.key(sessionID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		if err != nil {
			return err
		}
		rec, err := decodeSession(data)
		if err != nil {
			return err
		}

		fn(rec)
		rec.LastHeartbeat = r.now()

		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if !errors.Is(err, ErrSessionNotFound) {
			metrics.IncrementRegistryError("update")
		}
		return err
	}
	metrics.IncrementRegistryError("update")
	return fmt.Errorf("failed to update session %s: %w", sessionID, redis.TxFailedErr)
}

// Close is a no-op; the client is closed by its owner.
func (r *RedisRegistry) Close() error {
	return nil
}

func decodeSession(data []byte) (*Session, error) {
	var rec Session
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}
