// Package redis stores sessions in Redis so several processes can share them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure SessionStore implements the interface.
var _ driven.SessionStore = (*SessionStore)(nil)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "mizan:session:"

// maxTxRetries bounds optimistic retries when a watched key changes.
const maxTxRetries = 8

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int

	// TTL is applied to every write so Redis drops idle sessions on its own.
	// Zero keeps keys until Sweep or Delete removes them.
	TTL time.Duration

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
}

// SessionStore is a driven.SessionStore backed by Redis. Updates use
// WATCH/MULTI so concurrent writers to one session serialise through
// optimistic retries.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewSessionStore connects to Redis and verifies the connection.
func NewSessionStore(ctx context.Context, opts Options) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return New(client, opts.TTL, opts.KeyPrefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration, prefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SessionStore{client: client, ttl: ttl, prefix: prefix}
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

// Get returns the stored session.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.load(ctx, s.client, id)
}

// Create stores the session only if the ID is free.
func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.SetNX(ctx, s.key(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("creating session %s: %w", session.ID, err)
	}
	return nil
}

// Update applies fn to the session and writes it back if nobody else
// changed it in between. fn may run more than once.
func (s *SessionStore) Update(ctx context.Context, id string, fn func(*domain.Session) error) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("updating session %s: too much contention", id)
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// Sweep scans every session key and deletes those idle since before cutoff.
func (s *SessionStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			session, err := s.load(ctx, tx, key[len(s.prefix):])
			if err != nil {
				return err
			}
			if !session.LastActivity.Before(cutoff) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, key)
		// A session touched or removed mid-sweep is simply skipped.
		if err != nil && !errors.Is(err, redis.TxFailedErr) && !errors.Is(err, domain.ErrNotFound) {
			return removed, fmt.Errorf("sweeping sessions: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning sessions: %w", err)
	}
	return removed, nil
}

// Close closes the client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) load(ctx context.Context, c getter, id string) (*domain.Session, error) {
	data, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &session, nil
}
