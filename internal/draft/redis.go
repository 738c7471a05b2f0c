package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores drafts under draft:<sessionID>:<key> with no expiry.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redisURL and checks the server answers.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "draft:"}
}

func (r *Redis) ForSession(sessionID string) Cache {
	return &redisSession{r: r, sessionID: sessionID}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type redisSession struct {
	r         *Redis
	sessionID string
}

func (s *redisSession) key(key string) string {
	return s.r.prefix + s.sessionID + ":" + key
}

// Read treats an entry that no longer decodes as absent and drops it.
func (s *redisSession) Read(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.r.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read draft: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Printf("draft: discarding unreadable entry %s: %v", s.key(key), err)
		_ = s.r.client.Del(ctx, s.key(key)).Err()
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *redisSession) Write(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.r.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

func (s *redisSession) Clear(ctx context.Context, key string) error {
	if err := s.r.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
