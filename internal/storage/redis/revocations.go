// Package redis stores token revocations in Redis so that every API instance
// sees sign-outs, bans and password changes.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

const defaultKeyPrefix = "shop:revoked:"

var _ auth.Revocations = (*Revocations)(nil)

// Revocations implements auth.Revocations on Redis keys with a TTL equal to
// the remaining token lifetime.
type Revocations struct {
	client redis.UniversalClient
	prefix string
}

// Options configures the Redis client. URL, when set, takes precedence over
// Addr, Password and DB.
type Options struct {
	URL      string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.URL != "" {
		var err error
		if ro, err = redis.ParseURL(opts.URL); err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
	}
	ro.PoolSize = 10
	ro.MinIdleConns = 2
	ro.MaxRetries = 3
	ro.DialTimeout = 5 * time.Second
	ro.ReadTimeout = 3 * time.Second
	ro.WriteTimeout = 3 * time.Second
	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", ro.Addr)
	}
	return client, nil
}

// NewRevocations wraps an existing client. An empty prefix selects the
// default one.
func NewRevocations(client redis.UniversalClient, prefix string) *Revocations {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Revocations{client: client, prefix: prefix}
}

func (r *Revocations) tokenKey(tokenID string) string { return r.prefix + "jti:" + tokenID }
func (r *Revocations) userKey(userID string) string   { return r.prefix + "user:" + userID }

// Revoke marks a single token as revoked until ttl elapses.
func (r *Revocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.tokenKey(tokenID), "1", ttl).Err(); err != nil {
		return errors.Wrap(err, "revoke token")
	}
	return nil
}

// IsRevoked reports whether the token id was revoked.
func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.tokenKey(tokenID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "check token revocation")
	}
	return n > 0, nil
}

// RevokeUser rejects every token of the user issued before at. The record
// lives for ttl, which should cover the longest token lifetime.
func (r *Revocations) RevokeUser(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.userKey(userID), at.Unix(), ttl).Err(); err != nil {
		return errors.Wrap(err, "revoke user tokens")
	}
	return nil
}

// IsUserRevoked reports whether a token issued at issuedAt predates the
// user's last revocation.
func (r *Revocations) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	v, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check user revocation")
	}
	at, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "parse revocation time %q", v)
	}
	return issuedAt.Unix() < at, nil
}

// Ping checks the connection, for readiness probes.
func (r *Revocations) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
