package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const balanceTTL = 5 * time.Minute

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func balanceKey(internalID int64) string {
	return fmt.Sprintf("balance:%d", internalID)
}

// GetBalance reads a cached balance. The second return value reports
// whether the cache had an answer at all.
func (c *Client) GetBalance(ctx context.Context, internalID int64) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, balanceKey(internalID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached balance: %w", err)
	}
	return balance, true, nil
}

// SetBalance caches a freshly read balance with a TTL
func (c *Client) SetBalance(ctx context.Context, internalID, balance int64) error {
	return c.rdb.Set(ctx, balanceKey(internalID), balance, balanceTTL).Err()
}

// InvalidateBalance drops the cached balance after any ledger mutation
func (c *Client) InvalidateBalance(ctx context.Context, internalID int64) error {
	return c.rdb.Del(ctx, balanceKey(internalID)).Err()
}

func eventKey(eventRef string) string {
	return fmt.Sprintf("event:%s", eventRef)
}

// SeenEvent reports whether an external event reference was recently
// processed. Advisory fast path only: the ledger's event_ref lookup
// remains the source of truth for deduplication.
func (c *Client) SeenEvent(ctx context.Context, eventRef string) (bool, error) {
	n, err := c.rdb.Exists(ctx, eventKey(eventRef)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEvent records an external event reference after its ledger entry has
// committed.
func (c *Client) MarkEvent(ctx context.Context, eventRef string, ttl time.Duration) error {
	return c.rdb.Set(ctx, eventKey(eventRef), "1", ttl).Err()
}
