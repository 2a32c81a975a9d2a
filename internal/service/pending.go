package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawpoint/admin-identity/internal/model"
	redisclient "github.com/pawpoint/admin-identity/internal/redis"
	"github.com/pawpoint/admin-identity/internal/util"
)

// PendingTokenPrefix marks tokens that stand for a verified password with an
// MFA step outstanding. Session validation refuses them outright.
const PendingTokenPrefix = "pl_"

// PendingLoginStore holds the short-lived state between password
// verification and the MFA step.
type PendingLoginStore interface {
	Create(ctx context.Context, adminID string, step model.PendingStep) (string, error)
	// Resolve returns nil when the token is unknown or expired.
	Resolve(ctx context.Context, token string) (*model.PendingLogin, error)
	// Consume deletes the token and reports whether this call removed it.
	Consume(ctx context.Context, token string) (bool, error)
}

type redisPendingLoginStore struct {
	client *redis.Client
	secret string
	ttl    time.Duration
	now    func() time.Time
}

func NewPendingLoginStore(client *redis.Client, secret string, ttl time.Duration) PendingLoginStore {
	return &redisPendingLoginStore{
		client: client,
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *redisPendingLoginStore) key(token string) string {
	return redisclient.PendingLoginKey(util.HmacSHA256(s.secret, token))
}

func (s *redisPendingLoginStore) Create(ctx context.Context, adminID string, step model.PendingStep) (string, error) {
	raw, err := util.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate pending token: %w", err)
	}
	token := PendingTokenPrefix + raw

	payload, err := json.Marshal(model.PendingLogin{
		AdminID:   adminID,
		Step:      step,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode pending login: %w", err)
	}

	if err := s.client.Set(ctx, s.key(token), payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store pending login: %w", err)
	}
	return token, nil
}

func (s *redisPendingLoginStore) Resolve(ctx context.Context, token string) (*model.PendingLogin, error) {
	if !strings.HasPrefix(token, PendingTokenPrefix) {
		return nil, nil
	}

	payload, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending login: %w", err)
	}

	var pending model.PendingLogin
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, fmt.Errorf("decode pending login: %w", err)
	}
	return &pending, nil
}

func (s *redisPendingLoginStore) Consume(ctx context.Context, token string) (bool, error) {
	deleted, err := s.client.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("consume pending login: %w", err)
	}
	return deleted == 1, nil
}
