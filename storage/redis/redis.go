// Package redis provides Redis-backed implementations of the refresh-token
// and authorization-code stores. These two stores carry the only shared
// mutable state in the system, so both single-use transitions (revoking a
// refresh token, consuming a code) run as Lua scripts: Redis executes a
// script atomically, which is what guarantees that two racing uses of one
// credential see exactly one winner.
//
// Users, clients, signing keys and scopes are read-only to the core and
// are expected to come from the embedding application's own store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/tenantauth/storage"
)

// Config contains configuration options for the Redis-backed stores.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "tenantauth:"
	KeyPrefix string
}

const defaultKeyPrefix = "tenantauth:"

// revokeScript flips the revoked flag iff the token exists and is not
// already revoked. Returns -1 missing, 0 already revoked, 1 revoked now.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then return 0 end
redis.call('HSET', KEYS[1], 'revoked', '1')
return 1
`)

// consumeScript marks a code used iff it exists and is unused, returning
// the full hash on success and nil otherwise.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
if redis.call('HGET', KEYS[1], 'used') == '1' then return false end
redis.call('HSET', KEYS[1], 'used', '1')
return redis.call('HGETALL', KEYS[1])
`)

// RefreshTokens implements storage.RefreshTokenStore on Redis. Tokens are
// soft-revoked, never deleted: the record outlives its expiry so replay
// attempts stay observable.
type RefreshTokens struct {
	client *redis.Client
	prefix string
}

// NewRefreshTokens creates a Redis-backed refresh token store.
func NewRefreshTokens(cfg Config) (*RefreshTokens, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis: client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RefreshTokens{client: cfg.Client, prefix: prefix}, nil
}

func (s *RefreshTokens) key(token string) string { return s.prefix + "refresh:" + token }

func (s *RefreshTokens) ByToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	vals, err := s.client.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lookup refresh token: %w", err)
	}
	if len(vals) == 0 || vals["revoked"] == "1" {
		return nil, storage.ErrNotFound
	}
	expires, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: corrupt expires_at for refresh token: %w", err)
	}
	return &storage.RefreshToken{
		Token:     token,
		UserID:    vals["user_id"],
		ClientID:  vals["client_id"],
		Scope:     vals["scope"],
		ExpiresAt: time.Unix(expires, 0),
	}, nil
}

func (s *RefreshTokens) Create(ctx context.Context, t *storage.RefreshToken) error {
	key := s.key(t.Token)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: create refresh token: %w", err)
	}
	if exists == 1 {
		return errors.New("redis: refresh token already exists")
	}
	err = s.client.HSet(ctx, key,
		"user_id", t.UserID,
		"client_id", t.ClientID,
		"scope", t.Scope,
		"expires_at", strconv.FormatInt(t.ExpiresAt.Unix(), 10),
		"revoked", "0",
	).Err()
	if err != nil {
		return fmt.Errorf("redis: create refresh token: %w", err)
	}
	return nil
}

func (s *RefreshTokens) Revoke(ctx context.Context, token string) error {
	res, err := revokeScript.Run(ctx, s.client, []string{s.key(token)}).Int()
	if err != nil {
		return fmt.Errorf("redis: revoke refresh token: %w", err)
	}
	if res != 1 {
		return storage.ErrNotFound
	}
	return nil
}

// Codes implements storage.AuthorizationCodeStore on Redis.
type Codes struct {
	client *redis.Client
	prefix string
}

// NewCodes creates a Redis-backed authorization code store.
func NewCodes(cfg Config) (*Codes, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis: client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Codes{client: cfg.Client, prefix: prefix}, nil
}

func (s *Codes) key(code string) string { return s.prefix + "code:" + code }

func (s *Codes) Create(ctx context.Context, c *storage.AuthorizationCode) error {
	key := s.key(c.Code)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: create authorization code: %w", err)
	}
	if exists == 1 {
		return errors.New("redis: authorization code already exists")
	}
	err = s.client.HSet(ctx, key,
		"client_id", c.ClientID,
		"user_id", c.UserID,
		"redirect_uri", c.RedirectURI,
		"scope", c.Scope,
		"expires_at", strconv.FormatInt(c.ExpiresAt.Unix(), 10),
		"used", "0",
	).Err()
	if err != nil {
		return fmt.Errorf("redis: create authorization code: %w", err)
	}
	return nil
}

func (s *Codes) Consume(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(code)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis: consume authorization code: %w", err)
	}

	flat, ok := res.([]interface{})
	if !ok {
		return nil, storage.ErrNotFound
	}
	vals := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		vals[k] = v
	}
	expires, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: corrupt expires_at for authorization code: %w", err)
	}
	return &storage.AuthorizationCode{
		Code:        code,
		ClientID:    vals["client_id"],
		UserID:      vals["user_id"],
		RedirectURI: vals["redirect_uri"],
		Scope:       vals["scope"],
		ExpiresAt:   time.Unix(expires, 0),
		Used:        true,
	}, nil
}
