package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wsaxqd/home-work2-sub001/internal/domain"
)

const casAttempts = 32

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisLiveStore shares open sessions between workers through Redis.
// Writes use WATCH/MULTI so concurrent workers never both win a swap.
type RedisLiveStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLiveStore stores sessions under prefix. Idle sessions expire
// after ttl.
func NewRedisLiveStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLiveStore {
	if prefix == "" {
		prefix = "learnengine"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLiveStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLiveStore) sessionKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisLiveStore) openKey(userID, subject string) string {
	return r.prefix + ":open:" + userID + ":" + subject
}

// cas runs fn under WATCH, retrying when another client touched the keys.
func (r *RedisLiveStore) cas(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range casAttempts {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return domain.ErrConflict
}

func (r *RedisLiveStore) load(ctx context.Context, c getter, id string) (*Session, error) {
	data, err := c.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisLiveStore) Open(ctx context.Context, s Session) (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	idx := r.openKey(s.UserID, s.Subject)

	var prev *Session
	err = r.cas(ctx, func(tx *redis.Tx) error {
		prev = nil
		prevID, err := tx.Get(ctx, idx).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if prevID != "" {
			if err := tx.Watch(ctx, r.sessionKey(prevID)).Err(); err != nil {
				return err
			}
			if prev, err = r.load(ctx, tx, prevID); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prevID != "" {
				pipe.Del(ctx, r.sessionKey(prevID))
			}
			pipe.Set(ctx, r.sessionKey(s.ID), data, r.ttl)
			pipe.Set(ctx, idx, s.ID, r.ttl)
			return nil
		})
		return err
	}, idx)
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (r *RedisLiveStore) Get(ctx context.Context, id string) (Session, error) {
	s, err := r.load(ctx, r.client, id)
	if err != nil {
		return Session{}, err
	}
	if s == nil {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

func (r *RedisLiveStore) Current(ctx context.Context, userID, subject string) (Session, error) {
	id, err := r.client.Get(ctx, r.openKey(userID, subject)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return r.Get(ctx, id)
}

func (r *RedisLiveStore) Update(ctx context.Context, s *Session) error {
	key := r.sessionKey(s.ID)
	return r.cas(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrSessionNotFound
		}
		if cur.Version != s.Version {
			return domain.ErrConflict
		}
		next := *s
		next.Version++
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.Expire(ctx, r.openKey(s.UserID, s.Subject), r.ttl)
			return nil
		}); err != nil {
			return err
		}
		s.Version = next.Version
		return nil
	}, key)
}

func (r *RedisLiveStore) Close(ctx context.Context, s Session) error {
	idx := r.openKey(s.UserID, s.Subject)
	return r.cas(ctx, func(tx *redis.Tx) error {
		openID, err := tx.Get(ctx, idx).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.sessionKey(s.ID))
			if openID == s.ID {
				pipe.Del(ctx, idx)
			}
			return nil
		})
		return err
	}, idx)
}
