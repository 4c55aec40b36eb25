package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for cross-replica submission sequencing.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Enabled reports whether a Redis URL was configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Wrap builds a Client around an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ErrLockLost is returned on release when the lock expired and was taken by someone else.
var ErrLockLost = errors.New("address lock lost")

// Delete the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func addressLockKey(address string) string {
	return fmt.Sprintf("w3bpay:submit:%s", strings.ToLower(address))
}

// AddressLock serialises submissions from one source address across replicas.
type AddressLock struct {
	client       *Client
	ttl          time.Duration
	pollInterval time.Duration
}

// NewAddressLock creates a lock whose entries expire after ttl.
// The ttl must exceed the longest submit plus inclusion wait.
func NewAddressLock(client *Client, ttl time.Duration) *AddressLock {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &AddressLock{
		client:       client,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

// TryAcquire makes a single attempt and returns the owner token on success.
func (l *AddressLock) TryAcquire(ctx context.Context, address string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, addressLockKey(address), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx failed: %w", err)
	}
	return token, ok, nil
}

// Acquire blocks until the address is free or ctx is done.
func (l *AddressLock) Acquire(ctx context.Context, address string) (func(), error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		token, ok, err := l.TryAcquire(ctx, address)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Release must outlive a cancelled request context.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = l.Release(releaseCtx, address, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for address lock %s: %w", address, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release frees the address if token still owns it.
func (l *AddressLock) Release(ctx context.Context, address, token string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{addressLockKey(address)}, token).Int()
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
