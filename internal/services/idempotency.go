package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ruralpay/ledger/internal/apperror"
)

const (
	idempotencyPrefix = "ledger:idem:"

	// idempotencyWriteTimeout bounds the Complete/Release writes, which run
	// detached from the request so a client disconnect cannot skip them.
	idempotencyWriteTimeout = 3 * time.Second
)

// ErrIdempotencyKeyReused marks a key replayed with a different request body.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

// IdempotencyRecord is the value stored under an Idempotency-Key. Pending is
// set while the first attempt runs; Response holds the body once it succeeded.
type IdempotencyRecord struct {
	Fingerprint string          `json:"fingerprint"`
	Pending     bool            `json:"pending,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

func (r IdempotencyRecord) encode() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// TransferFingerprint identifies the body of a transfer request so a key
// cannot be reused for a different transfer.
func TransferFingerprint(fromAccountID int64, toAccountNumber string, amountMinor int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%d", fromAccountID, toAccountNumber, amountMinor)))
	return hex.EncodeToString(sum[:])
}

// IdempotencyStore deduplicates retried transfer requests that carry the
// same Idempotency-Key. A nil Redis client disables it.
type IdempotencyStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{redis: client, ttl: ttl}
}

func (s *IdempotencyStore) Enabled() bool {
	return s != nil && s.redis != nil
}

func (s *IdempotencyStore) redisKey(userID int64, key string) string {
	return fmt.Sprintf("%s%d:%s", idempotencyPrefix, userID, key)
}

// detach keeps the request's values but drops its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), idempotencyWriteTimeout)
}

// Begin claims key for userID. It returns (nil, nil) when the caller should
// proceed, the stored response when the same request already completed, a
// DUPLICATE error while the first attempt is still in flight, and a
// VALIDATION error wrapping ErrIdempotencyKeyReused when the key belongs to
// a different request.
func (s *IdempotencyStore) Begin(ctx context.Context, userID int64, key, fingerprint string) ([]byte, error) {
	if !s.Enabled() || key == "" {
		return nil, nil
	}

	pending, err := IdempotencyRecord{Fingerprint: fingerprint, Pending: true}.encode()
	if err != nil {
		return nil, apperror.Internal("encode idempotency record", err)
	}

	k := s.redisKey(userID, key)
	claimed, err := s.redis.SetNX(ctx, k, pending, s.ttl).Result()
	if err != nil {
		return nil, apperror.Internal("claim idempotency key", err)
	}
	if claimed {
		return nil, nil
	}

	stored, err := s.redis.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.Duplicate("A request with this Idempotency-Key is already in progress")
	}
	if err != nil {
		return nil, apperror.Internal("read idempotency key", err)
	}

	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		return nil, apperror.Internal("decode idempotency record", err)
	}
	if record.Fingerprint != fingerprint {
		return nil, &apperror.Error{
			Kind:    apperror.KindValidation,
			Message: "Idempotency-Key was already used for a different request",
			Err:     ErrIdempotencyKeyReused,
		}
	}
	if record.Pending {
		return nil, apperror.Duplicate("A request with this Idempotency-Key is already in progress")
	}
	return record.Response, nil
}

// Complete stores the response so replays of key return it verbatim. The
// write outlives a cancelled request context.
func (s *IdempotencyStore) Complete(ctx context.Context, userID int64, key, fingerprint string, response []byte) error {
	if !s.Enabled() || key == "" {
		return nil
	}
	value, err := IdempotencyRecord{Fingerprint: fingerprint, Response: response}.encode()
	if err != nil {
		return err
	}

	ctx, cancel := detach(ctx)
	defer cancel()
	return s.redis.Set(ctx, s.redisKey(userID, key), value, s.ttl).Err()
}

// Release forgets key after a failed attempt so the caller may retry it.
func (s *IdempotencyStore) Release(ctx context.Context, userID int64, key string) error {
	if !s.Enabled() || key == "" {
		return nil
	}
	ctx, cancel := detach(ctx)
	defer cancel()
	return s.redis.Del(ctx, s.redisKey(userID, key)).Err()
}
