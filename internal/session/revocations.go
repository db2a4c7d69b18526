package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked:"

// Revocations is a Redis-backed denylist of logged-out session tokens.
// Entries live until the token would have expired anyway.
type Revocations struct {
	client *redis.Client
	maxTTL time.Duration
}

// NewRevocations returns a denylist. maxTTL bounds entries whose expiry is unknown.
func NewRevocations(client *redis.Client, maxTTL time.Duration) *Revocations {
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &Revocations{client: client, maxTTL: maxTTL}
}

// Revoke denies the token until expiresAt.
func (r *Revocations) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := r.maxTTL
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return nil
		}
		if ttl > r.maxTTL {
			ttl = r.maxTTL
		}
	}
	return r.client.Set(ctx, revokedKey(token), "1", ttl).Err()
}

// IsRevoked reports whether the token is on the denylist.
func (r *Revocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func revokedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + hex.EncodeToString(sum[:])
}
