package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"docpipe/internal/config"
	"docpipe/internal/logger"
	"docpipe/internal/models"
)

// pendingTTL bounds how long a reservation may exist without an artifact.
// A crashed extraction frees the file for retry once it expires.
const pendingTTL = 5 * time.Minute

// RedisStore keeps session state in redis, with the session TTL acting as
// the eviction policy. Mutating operations on one session are serialized by
// a per-key lock in this process.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration

	mu    sync.Mutex
	locks map[models.SessionKey]*sync.Mutex
}

// NewRedisClient creates a go-redis client from app config and verifies
// connectivity.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:   rdb,
		ttl:   ttl,
		locks: make(map[models.SessionKey]*sync.Mutex),
	}
}

func (s *RedisStore) lock(key models.SessionKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *RedisStore) seenKey(key models.SessionKey, fileID string) string {
	return fmt.Sprintf("docpipe:%s:%s:seen:%s", key.UserID, key.ChatID, fileID)
}

func (s *RedisStore) artifactsKey(key models.SessionKey) string {
	return fmt.Sprintf("docpipe:%s:%s:artifacts", key.UserID, key.ChatID)
}

func (s *RedisStore) orderKey(key models.SessionKey) string {
	return fmt.Sprintf("docpipe:%s:%s:order", key.UserID, key.ChatID)
}

func (s *RedisStore) RegisterIfNew(ctx context.Context, key models.SessionKey, fileID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.seenKey(key, fileID), "pending", pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("register file: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key models.SessionKey, fileID string) error {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	done, err := s.rdb.HExists(ctx, s.artifactsKey(key), fileID).Result()
	if err != nil {
		return fmt.Errorf("check artifact: %w", err)
	}
	if done {
		return nil
	}
	if err := s.rdb.Del(ctx, s.seenKey(key, fileID)).Err(); err != nil {
		return fmt.Errorf("release file: %w", err)
	}
	return nil
}

func (s *RedisStore) PutArtifact(ctx context.Context, key models.SessionKey, artifact models.Artifact) error {
	b, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.artifactsKey(key), artifact.FileID, b)
	// Promote the reservation to permanent for the session's lifetime.
	pipe.Set(ctx, s.seenKey(key, artifact.FileID), "done", s.ttl)
	s.touch(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendAnchor(ctx context.Context, key models.SessionKey, anchor string) error {
	if anchor == "" {
		return nil
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	existing, err := s.rdb.LRange(ctx, s.orderKey(key), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read order: %w", err)
	}
	for _, a := range existing {
		if a == anchor {
			return nil
		}
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.orderKey(key), anchor)
	s.touch(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append anchor: %w", err)
	}
	return nil
}

func (s *RedisStore) AdoptOrder(ctx context.Context, key models.SessionKey, anchors []string) error {
	if len(anchors) == 0 {
		return nil
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	current, err := s.rdb.LLen(ctx, s.orderKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read order length: %w", err)
	}
	if int64(len(anchors)) < current {
		logger.Warn().
			Str("session", key.String()).
			Int64("cached", current).
			Int("incoming", len(anchors)).
			Msg("turn order shrank; host edited or truncated history")
	}

	vals := make([]interface{}, len(anchors))
	for i, a := range anchors {
		vals[i] = a
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.orderKey(key))
	pipe.RPush(ctx, s.orderKey(key), vals...)
	s.touch(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adopt order: %w", err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context, key models.SessionKey) (Snapshot, error) {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	snap := Snapshot{Artifacts: make(map[string]models.Artifact)}

	rows, err := s.rdb.HGetAll(ctx, s.artifactsKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return snap, fmt.Errorf("load artifacts: %w", err)
	}
	for id, raw := range rows {
		var a models.Artifact
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			logger.Error().Err(err).Str("session", key.String()).Str("file_id", id).
				Msg("skipping undecodable artifact")
			continue
		}
		snap.Artifacts[id] = a
	}

	order, err := s.rdb.LRange(ctx, s.orderKey(key), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return snap, fmt.Errorf("load order: %w", err)
	}
	snap.Order = order
	return snap, nil
}

// touch extends the session TTL on every mutation.
func (s *RedisStore) touch(ctx context.Context, pipe redis.Pipeliner, key models.SessionKey) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.artifactsKey(key), s.ttl)
	pipe.Expire(ctx, s.orderKey(key), s.ttl)
}

func (s *RedisStore) Close() error {
	if closer, ok := s.rdb.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
