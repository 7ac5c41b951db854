package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyOrderCreate idem:order:create:{Idempotency-Key} -> "pending" | order_id
	KeyOrderCreate = "idem:order:create:%s"

	DefaultTTL = 24 * time.Hour
	// PendingTTL сколько живёт захват ключа, если запрос так и не завершился
	PendingTTL = time.Minute

	pendingValue = "pending"
)

// Entry состояние ключа: заказ ещё создаётся (Pending) или уже создан
type Entry struct {
	OrderID int64
	Pending bool
}

// Store связывает ключ идемпотентности с созданным заказом.
// Порядок: Claim до создания заказа, затем Complete при успехе или Release при ошибке.
type Store interface {
	// Claim атомарно занимает свободный ключ; false, если ключ уже занят
	Claim(ctx context.Context, key string) (bool, error)
	// Lookup возвращает состояние занятого ключа
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Complete(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}

// RedisStore хранит ключи в redis с TTL
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string { return fmt.Sprintf(KeyOrderCreate, key) }

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, redisKey(key), pendingValue, PendingTTL).Result()
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	v, err := s.rdb.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if v == pendingValue {
		return Entry{Pending: true}, true, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("idempotency key %q holds %q: %w", key, v, err)
	}
	return Entry{OrderID: id}, true, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, orderID int64) error {
	return s.rdb.Set(ctx, redisKey(key), strconv.FormatInt(orderID, 10), s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

type memoryEntry struct {
	Entry
	expires time.Time
}

// MemoryStore in-process вариант для одного инстанса и тестов
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

// live возвращает неистёкшую запись; вызывать под mu
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{Entry: Entry{Pending: true}, expires: s.now().Add(PendingTTL)}
	return true, nil
}

func (s *MemoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	return e.Entry, ok, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{Entry: Entry{OrderID: orderID}, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
