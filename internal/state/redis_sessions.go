package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ETAnderson/productimporter/internal/domain"
)

const (
	sessionKeyPrefix = "import:session:"
	sessionIndexKey  = "import:sessions"
)

// RedisSessionStore keeps import session snapshots in Redis so progress reads
// never touch the relational store while a large import is writing to it.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisSessionStore) SaveSession(ctx context.Context, sess domain.ImportSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.ZAdd(ctx, sessionIndexKey, redis.Z{Score: float64(sess.CreatedAt.UnixNano()), Member: sess.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisSessionStore) GetSession(ctx context.Context, id string) (domain.ImportSession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ImportSession{}, ErrNotFound
	}
	if err != nil {
		return domain.ImportSession{}, err
	}

	var sess domain.ImportSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.ImportSession{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return sess, nil
}

func (s *RedisSessionStore) ListSessions(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.client.ZRevRange(ctx, sessionIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.ImportSession, 0, len(ids))
	var stale []any
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}

	// Expired snapshots leave their index entry behind.
	if len(stale) > 0 {
		s.client.ZRem(ctx, sessionIndexKey, stale...)
	}
	return out, nil
}

// sessionOverride routes session calls to a dedicated SessionStore while the
// remaining methods go to the embedded Store.
type sessionOverride struct {
	Store
	sessions SessionStore
}

func WithSessionStore(base Store, sessions SessionStore) Store {
	return sessionOverride{Store: base, sessions: sessions}
}

func (o sessionOverride) SaveSession(ctx context.Context, s domain.ImportSession) error {
	return o.sessions.SaveSession(ctx, s)
}

func (o sessionOverride) GetSession(ctx context.Context, id string) (domain.ImportSession, error) {
	return o.sessions.GetSession(ctx, id)
}

func (o sessionOverride) ListSessions(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	return o.sessions.ListSessions(ctx, limit)
}
