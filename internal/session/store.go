// Package session holds the live, in-progress message list for each
// user server-side, between persists to chat_histories.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tianyan-ai/chat-backend/internal/chat"
)

// Store is the live-session contract. Get returns (nil, nil) when the
// user has no live session.
type Store interface {
	Get(ctx context.Context, userID uint64) ([]chat.Message, error)
	Set(ctx context.Context, userID uint64, messages []chat.Message) error
	Clear(ctx context.Context, userID uint64) error
}

const sessionTTL = 24 * time.Hour

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func key(userID uint64) string {
	return fmt.Sprintf("chat:session:%d", userID)
}

func (s *RedisStore) Get(ctx context.Context, userID uint64) ([]chat.Message, error) {
	raw, err := s.rdb.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []chat.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *RedisStore) Set(ctx context.Context, userID uint64, messages []chat.Message) error {
	if messages == nil {
		messages = []chat.Message{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(userID), b, sessionTTL).Err()
}

func (s *RedisStore) Clear(ctx context.Context, userID uint64) error {
	return s.rdb.Del(ctx, key(userID)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// MemoryStore backs tests and broker-less development runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uint64][]chat.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uint64][]chat.Message)}
}

func (s *MemoryStore) Get(_ context.Context, userID uint64) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, userID uint64, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]chat.Message, len(messages))
	copy(cp, messages)
	s.sessions[userID] = cp
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}
