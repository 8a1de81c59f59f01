package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/save_review.lua
var saveReviewScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

var (
	// ErrMiss is returned when a key does not exist or has expired
	ErrMiss = errors.New("redis: key not found")
	// ErrVersionConflict is returned when a review was saved by someone else since it was loaded
	ErrVersionConflict = errors.New("redis: review version conflict")
)

type Client struct {
	rdb           *redis.Client
	saveScript    *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		saveScript:    redis.NewScript(saveReviewScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func reviewKey(sessionID int64) string {
	return fmt.Sprintf("review:session:%d", sessionID)
}

// SaveReview stores the serialized review for a session. expectedVersion 0 replaces any stored
// review; otherwise the write only succeeds if the stored version still matches.
func (c *Client) SaveReview(ctx context.Context, sessionID int64, expectedVersion int64, payload []byte, ttl time.Duration) (int64, error) {
	result, err := c.saveScript.Run(ctx, c.rdb, []string{reviewKey(sessionID)},
		strconv.FormatInt(expectedVersion, 10), payload, int64(ttl/time.Second)).Result()
	if err != nil {
		return 0, fmt.Errorf("save review script failed: %w", err)
	}

	version, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	if version < 0 {
		return 0, ErrVersionConflict
	}
	return version, nil
}

// LoadReview returns the serialized review for a session and its version
func (c *Client) LoadReview(ctx context.Context, sessionID int64) ([]byte, int64, error) {
	result, err := c.rdb.HGetAll(ctx, reviewKey(sessionID)).Result()
	if err != nil {
		return nil, 0, err
	}
	payload, ok := result["payload"]
	if !ok {
		return nil, 0, ErrMiss
	}

	version, err := strconv.ParseInt(result["version"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("corrupt review version: %w", err)
	}
	return []byte(payload), version, nil
}

// DeleteReview drops a session's working review
func (c *Client) DeleteReview(ctx context.Context, sessionID int64) error {
	return c.rdb.Del(ctx, reviewKey(sessionID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored for an idempotency key
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) ([]byte, error) {
	result, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return result, err
}

// AcquireLock acquires a distributed lock. The returned token must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
