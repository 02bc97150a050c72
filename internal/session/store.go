// Package session persists per-user query history. History is an
// external collaborator boundary: the pipeline writes records
// fire-and-forget and never blocks a response on this store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pantryio/pantrymatch/pkg/types"
)

// Store is the session history contract.
type Store interface {
	Append(ctx context.Context, record *types.SessionRecord) error
	History(ctx context.Context, userID string) ([]types.SessionRecord, error)
	Close() error
}

// RedisConfig holds Redis session store settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisStore keeps each user's history in a Redis list that expires
// as a whole after the configured TTL.
type RedisStore struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a session store and verifies connectivity.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func historyKey(userID string) string {
	return fmt.Sprintf("user_id:%s:queries", userID)
}

// Append adds a record to the user's history and refreshes the list
// expiry. A missing record ID is filled in.
func (s *RedisStore) Append(ctx context.Context, record *types.SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	key := historyKey(record.UserID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

// History returns the user's records oldest first. Corrupt entries are
// skipped with a logged warning.
func (s *RedisStore) History(ctx context.Context, userID string) ([]types.SessionRecord, error) {
	raw, err := s.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session history: %w", err)
	}

	records := make([]types.SessionRecord, 0, len(raw))
	for _, item := range raw {
		var rec types.SessionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("skipping corrupt session record", "user_id", userID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close releases the client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
