package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/polyphonica/polyphonica/internal/config"
)

// Hold kinds.
const (
	HoldConcert  = "concert"
	HoldWorkshop = "workshop"
)

type Client struct {
	rdb *redis.Client
}

func NewClient(cfg *config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func holdKey(kind string, resourceID uint, reference string) string {
	return fmt.Sprintf("hold:%s:%d:%s", kind, resourceID, reference)
}

// HoldPlaces reserves quantity places against a concert or workshop for the
// checkout window. One hold per order reference; the TTL releases abandoned
// checkouts without any cleanup pass.
func (c *Client) HoldPlaces(ctx context.Context, kind string, resourceID uint, reference string, quantity int, ttl time.Duration) error {
	key := holdKey(kind, resourceID, reference)

	result := c.rdb.SetNX(ctx, key, strconv.Itoa(quantity), ttl)
	if result.Err() != nil {
		return fmt.Errorf("failed to hold places: %w", result.Err())
	}
	if !result.Val() {
		return fmt.Errorf("hold already exists for reference %s", reference)
	}

	return nil
}

// ReleaseHold drops a hold early, on payment completion or cancellation.
func (c *Client) ReleaseHold(ctx context.Context, kind string, resourceID uint, reference string) error {
	return c.rdb.Del(ctx, holdKey(kind, resourceID, reference)).Err()
}

// HeldPlaces sums the quantities of all live holds on a resource. Used to
// count places that are mid-checkout but not yet sold.
func (c *Client) HeldPlaces(ctx context.Context, kind string, resourceID uint) (int, error) {
	pattern := fmt.Sprintf("hold:%s:%d:*", kind, resourceID)

	total := 0
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan holds: %w", err)
		}
		for _, key := range keys {
			val, err := c.rdb.Get(ctx, key).Result()
			if err == redis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return 0, err
			}
			qty, err := strconv.Atoi(val)
			if err != nil {
				continue
			}
			total += qty
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
