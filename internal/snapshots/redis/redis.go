// Package redis stores ledger snapshots as JSON strings in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

// DefaultPrefix namespaces ledger keys.
const DefaultPrefix = "numtrack:ledger:"

type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

var (
	_ snapshots.Repository = (*Store)(nil)
	_ snapshots.Pinger     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL expires snapshots after ttl; 0 keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New wraps an existing client.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromURL connects using a redis:// or rediss:// URL and checks the
// connection before returning.
func NewFromURL(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(o)
	s := New(client, opts...)
	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// Key returns the Redis key for owner.
func (s *Store) Key(owner string) string {
	return s.prefix + owner
}

func (s *Store) LoadSnapshot(ctx context.Context, owner string) (ledger.Snapshot, error) {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return ledger.Snapshot{}, err
	}
	data, err := s.client.Get(ctx, s.Key(owner)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ledger.EmptySnapshot(), nil
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("redis get: %w", err)
	}
	return snapshots.Unmarshal(data)
}

func (s *Store) SaveSnapshot(ctx context.Context, owner string, snap ledger.Snapshot) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	data, err := snapshots.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(owner), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, owner string) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.Key(owner)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
