package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/pawpoint/admin-identity/internal/redis"
)

// replayGuardScript accepts a TOTP time step only if it is newer than the
// last step accepted for the same admin.
var replayGuardScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '-1')
local step = tonumber(ARGV[1])

if step <= last then
    return 0
end

redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)

// ReplayGuard remembers the last TOTP step consumed per admin.
type ReplayGuard interface {
	// Consume reports false when step is not newer than the last accepted one.
	Consume(ctx context.Context, adminID string, step int64, ttl time.Duration) (bool, error)
}

type redisReplayGuard struct {
	client *redis.Client
}

func NewReplayGuard(client *redis.Client) ReplayGuard {
	return &redisReplayGuard{client: client}
}

func (g *redisReplayGuard) Consume(ctx context.Context, adminID string, step int64, ttl time.Duration) (bool, error) {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	accepted, err := replayGuardScript.Run(
		ctx,
		g.client,
		[]string{redisclient.MFAStepKey(adminID)},
		step,
		seconds,
	).Int()
	if err != nil {
		return false, fmt.Errorf("replay guard: %w", err)
	}
	return accepted == 1, nil
}
