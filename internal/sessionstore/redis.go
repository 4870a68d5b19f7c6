// Package sessionstore keeps conversation snapshots in Redis so sessions
// survive a process restart.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/susu3304/splitbot/internal/conversation"
)

const (
	keyPrefix = "splitbot:session:"

	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// Store implements conversation.SnapshotStore. Entries expire after ttl,
// which should match the session inactivity timeout.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func New(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

func (s *Store) Save(ctx context.Context, snap conversation.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", snap.ID, err)
	}
	return s.client.Set(ctx, key(snap.ID), data, s.ttl).Err()
}

// Load returns the stored snapshot. ok is false when nothing is stored.
func (s *Store) Load(ctx context.Context, id string) (conversation.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Snapshot{}, false, nil
	}
	if err != nil {
		return conversation.Snapshot{}, false, err
	}
	var snap conversation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return conversation.Snapshot{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return snap, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, key(id)).Err()
}
