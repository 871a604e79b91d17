// Package redisstore keeps OAuth states in Redis so that several gateway
// instances can share pending authorization flows. Keys expire on their
// own, so DeleteExpired has nothing to do.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "cadence:oauth:state:"

// consumeScript checks the claim and flips the used flag in one server-side
// step. Returns 0 for no match, 1 for already used, or the payload.
var consumeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'platform', 'user_id', 'expires_at', 'used', 'payload')
if not f[5] then return 0 end
if f[1] ~= ARGV[1] then return 0 end
if ARGV[2] ~= '' and f[2] ~= ARGV[2] then return 0 end
if tonumber(ARGV[3]) >= tonumber(f[3]) then return 0 end
if f[4] == '1' then return 1 end
redis.call('HSET', KEYS[1], 'used', '1')
return f[5]
`)

// Store implements oauthstate.Store on Redis hashes.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Compile-time interface check.
var _ oauthstate.Store = (*Store)(nil)

// New wraps an existing client. An empty prefix selects the default.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(token string) string {
	return s.prefix + token
}

// payload is the JSON stored alongside the indexed fields.
type payload struct {
	UserID      string            `json:"user_id"`
	RedirectURI string            `json:"redirect_uri"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Put implements oauthstate.Store. The key lives for the record's TTL.
func (s *Store) Put(ctx context.Context, rec oauthstate.Record) error {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("redisstore: state already expired")
	}

	data, err := json.Marshal(payload{
		UserID:      rec.UserID,
		RedirectURI: rec.RedirectURI,
		Metadata:    rec.Metadata,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("redisstore: marshal: %w", err)
	}

	key := s.key(rec.Token)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"platform", rec.Platform,
			"user_id", rec.UserID,
			"expires_at", strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
			"used", "0",
			"payload", string(data),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: put: %w", err)
	}
	return nil
}

// Consume implements oauthstate.Store.
func (s *Store) Consume(ctx context.Context, c oauthstate.Claim) (oauthstate.Record, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.key(c.Token)},
		c.Platform, c.UserID, c.Now.UnixMilli(),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return oauthstate.Record{}, fmt.Errorf("redisstore: consume: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v == 1 {
			return oauthstate.Record{}, oauthstate.ErrConsumed
		}
		return oauthstate.Record{}, oauthstate.ErrNoMatch
	case string:
		var p payload
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return oauthstate.Record{}, fmt.Errorf("redisstore: decode: %w", err)
		}
		return oauthstate.Record{
			Token:       c.Token,
			UserID:      p.UserID,
			Platform:    c.Platform,
			RedirectURI: p.RedirectURI,
			Metadata:    p.Metadata,
			CreatedAt:   p.CreatedAt,
			ExpiresAt:   p.ExpiresAt,
			Used:        true,
		}, nil
	default:
		return oauthstate.Record{}, oauthstate.ErrNoMatch
	}
}

// DeleteExpired implements oauthstate.Store. Redis evicts expired keys.
func (s *Store) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Stop closes the client. It implements core.Stopper.
func (s *Store) Stop(context.Context) error {
	return s.Close()
}
