package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/unimart/backend/internal/config"
)

// PINCheck is the outcome of one transaction-PIN verification attempt.
type PINCheck struct {
	OK           bool
	Locked       bool
	RetryAfter   time.Duration
	AttemptsLeft int
}

// PINGuard verifies bcrypt-hashed transaction PINs with an attempt counter
// and lockout. Counters and lock flags live in Redis with the lockout
// duration as TTL, so expiry is the unlock. A correct PIN resets the
// counter regardless of how high it got. With no Redis configured the
// guard still verifies PINs but skips lockout accounting.
type PINGuard struct {
	redis       *redis.Client
	maxAttempts int
	lockout     time.Duration
}

func NewPINGuard(redisClient *redis.Client, cfg *config.PIN) *PINGuard {
	return &PINGuard{
		redis:       redisClient,
		maxAttempts: cfg.MaxAttempts,
		lockout:     cfg.LockoutDuration,
	}
}

// HashPIN hashes a plaintext PIN for storage.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func pinLockKey(userID int) string     { return fmt.Sprintf("pin:lock:%d", userID) }
func pinAttemptsKey(userID int) string { return fmt.Sprintf("pin:attempts:%d", userID) }

// Verify checks pin against the stored hash. While a lockout is active
// every attempt is rejected with Locked=true, correct PIN included.
func (g *PINGuard) Verify(ctx context.Context, userID int, pin, hash string) (PINCheck, error) {
	if g.redis != nil {
		ttl, err := g.redis.TTL(ctx, pinLockKey(userID)).Result()
		if err != nil && err != redis.Nil {
			return PINCheck{}, err
		}
		if ttl > 0 {
			return PINCheck{Locked: true, RetryAfter: ttl}, nil
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil {
		if g.redis != nil {
			g.redis.Del(ctx, pinAttemptsKey(userID), pinLockKey(userID))
		}
		return PINCheck{OK: true}, nil
	}

	if g.redis == nil {
		return PINCheck{AttemptsLeft: g.maxAttempts}, nil
	}

	attempts, err := g.redis.Incr(ctx, pinAttemptsKey(userID)).Result()
	if err != nil {
		return PINCheck{}, err
	}
	g.redis.Expire(ctx, pinAttemptsKey(userID), g.lockout)

	if attempts >= int64(g.maxAttempts) {
		if err := g.redis.Set(ctx, pinLockKey(userID), "1", g.lockout).Err(); err != nil {
			return PINCheck{}, err
		}
		return PINCheck{Locked: true, RetryAfter: g.lockout}, nil
	}

	return PINCheck{AttemptsLeft: g.maxAttempts - int(attempts)}, nil
}
