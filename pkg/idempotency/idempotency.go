// Package idempotency remembers which order a client request key produced,
// so a retried POST returns the original order instead of placing a new one.
package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInProgress is returned by Begin while another request holds the key.
	ErrInProgress = errors.New("idempotency: request with this key is in progress")
	// ErrMismatch is returned by Begin when the key was completed by a request
	// with a different fingerprint.
	ErrMismatch = errors.New("idempotency: key was used with a different request")
	// ErrClaimLost is returned by Complete when the claim expired or was
	// released and the key now belongs to someone else.
	ErrClaimLost = errors.New("idempotency: claim on key was lost")
)

const (
	keyPrefix     = "idem:order:"
	pendingPrefix = "pending:"
)

// Reservation is the outcome of Begin. When Replay is true the key was
// already completed and OrderID names the order it produced.
type Reservation struct {
	Key         string
	Fingerprint string
	OrderID     uint
	Replay      bool
	token       string
}

// Store records request keys. A fingerprint identifies the request body; a
// completed key only replays for the same fingerprint.
type Store interface {
	// Begin claims key, or reports the order it already produced.
	Begin(ctx context.Context, key, fingerprint string) (Reservation, error)
	// Complete binds the claimed key to orderID. It fails with ErrClaimLost
	// if r no longer holds the key.
	Complete(ctx context.Context, r Reservation, orderID uint) error
	// Release drops a claim whose request failed, so the key can be retried.
	Release(ctx context.Context, r Reservation) error
}

var beginScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	return current
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

var completeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps keys in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (Reservation, error) {
	r := Reservation{Key: key, Fingerprint: fingerprint, token: pendingPrefix + uuid.NewString()}

	current, err := beginScript.Run(ctx, s.client, []string{keyPrefix + key}, r.token, s.ttl.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return r, nil
	}
	if err != nil {
		return Reservation{}, err
	}
	return decode(key, fingerprint, current)
}

func (s *RedisStore) Complete(ctx context.Context, r Reservation, orderID uint) error {
	n, err := completeScript.Run(ctx, s.client, []string{keyPrefix + r.Key},
		r.token, encode(orderID, r.Fingerprint), s.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, r Reservation) error {
	return releaseScript.Run(ctx, s.client, []string{keyPrefix + r.Key}, r.token).Err()
}

// encode stores a completed key as "<orderID>|<fingerprint>".
func encode(orderID uint, fingerprint string) string {
	return strconv.FormatUint(uint64(orderID), 10) + "|" + fingerprint
}

func decode(key, fingerprint, value string) (Reservation, error) {
	if strings.HasPrefix(value, pendingPrefix) {
		return Reservation{}, ErrInProgress
	}
	rawID, stored, _ := strings.Cut(value, "|")
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return Reservation{}, errors.New("idempotency: corrupt value for key " + key)
	}
	if stored != fingerprint {
		return Reservation{}, ErrMismatch
	}
	return Reservation{Key: key, Fingerprint: fingerprint, OrderID: uint(id), Replay: true}, nil
}

// MemoryStore is a process-local Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Begin(ctx context.Context, key, fingerprint string) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return decode(key, fingerprint, e.value)
	}
	r := Reservation{Key: key, Fingerprint: fingerprint, token: pendingPrefix + uuid.NewString()}
	s.entries[key] = memoryEntry{value: r.token, expires: now.Add(s.ttl)}
	return r, nil
}

func (s *MemoryStore) Complete(ctx context.Context, r Reservation, orderID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[r.Key]; !ok || e.value != r.token || !now.Before(e.expires) {
		return ErrClaimLost
	}
	s.entries[r.Key] = memoryEntry{
		value:   encode(orderID, r.Fingerprint),
		expires: now.Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, r Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[r.Key]; ok && e.value == r.token {
		delete(s.entries, r.Key)
	}
	return nil
}
