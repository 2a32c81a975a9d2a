package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// PendingLoginKey holds a pending login keyed by the token's HMAC, never the
// raw token.
func PendingLoginKey(tokenHash string) string {
	return fmt.Sprintf("pending_login:%s", tokenHash)
}

// MFAStepKey holds the last accepted TOTP time step for an admin.
func MFAStepKey(adminID string) string {
	return fmt.Sprintf("mfa_step:%s", adminID)
}

func RateLimitKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}
