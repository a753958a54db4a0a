package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ensure RedisStore implements the Store interface
var _ Store = (*RedisStore)(nil)

// Key prefixes. Records expire via Redis key TTLs, so Sweep is a no-op
// for this backend.
const (
	redisSessionPrefix   = "bffgate:session:"
	redisCSRFPrefix      = "bffgate:csrf:"
	redisHandshakePrefix = "bffgate:handshake:"
)

// RedisStore backs the session store with Redis, letting multiple
// gateway instances share sessions.
type RedisStore struct {
	cfg    Config
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg Config, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, redisSessionPrefix+session.ID, data, s.cfg.SessionTTL).Result()
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, redisSessionPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *RedisStore) TouchSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	// Read-modify-write without a lock: concurrent touches only move
	// the expiry forward, so last-writer-wins is fine.
	if err := s.client.Set(ctx, redisSessionPrefix+sessionID, data, s.cfg.SessionTTL).Err(); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+sessionID, redisCSRFPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *RedisStore) PutCSRFToken(ctx context.Context, sessionID, token string) error {
	if err := s.client.Set(ctx, redisCSRFPrefix+sessionID, token, s.cfg.SessionTTL).Err(); err != nil {
		return fmt.Errorf("storing csrf token: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCSRFToken(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Get(ctx, redisCSRFPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCSRFTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching csrf token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) DeleteCSRFToken(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisCSRFPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("deleting csrf token: %w", err)
	}
	return nil
}

func (s *RedisStore) PutHandshake(ctx context.Context, handshake *Handshake) error {
	now := time.Now()
	handshake.CreatedAt = now
	handshake.ExpiresAt = now.Add(s.cfg.HandshakeTTL)

	data, err := json.Marshal(handshake)
	if err != nil {
		return fmt.Errorf("marshaling handshake: %w", err)
	}

	if err := s.client.Set(ctx, redisHandshakePrefix+handshake.State, data, s.cfg.HandshakeTTL).Err(); err != nil {
		return fmt.Errorf("storing handshake: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeHandshake(ctx context.Context, state string) (*Handshake, error) {
	// GETDEL makes the take-and-delete atomic across gateway instances
	data, err := s.client.GetDel(ctx, redisHandshakePrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrHandshakeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming handshake: %w", err)
	}

	var handshake Handshake
	if err := json.Unmarshal(data, &handshake); err != nil {
		return nil, fmt.Errorf("unmarshaling handshake: %w", err)
	}
	if handshake.Expired(time.Now()) {
		return nil, ErrHandshakeNotFound
	}
	return &handshake, nil
}

func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	// Redis expires keys by TTL on its own
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
