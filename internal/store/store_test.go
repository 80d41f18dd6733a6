package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockRedis records calls and serves canned zset contents.
type mockRedis struct {
	mu       sync.Mutex
	hsets    map[string][]any
	expires  map[string]time.Duration
	zadds    map[string]float64 // member -> score
	dels     []string
	zremMax  string
	rangeErr error
	hsetErr  error
}

func newMockRedis() *mockRedis {
	return &mockRedis{
		hsets:   make(map[string][]any),
		expires: make(map[string]time.Duration),
		zadds:   make(map[string]float64),
	}
}

func (m *mockRedis) HSet(_ context.Context, key string, values ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hsetErr != nil {
		return m.hsetErr
	}
	m.hsets[key] = values
	return nil
}

func (m *mockRedis) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = ttl
	return nil
}

func (m *mockRedis) ZAdd(_ context.Context, _ string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zadds[member] = score
	return nil
}

func (m *mockRedis) ZRangeByScore(_ context.Context, _, _, max string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	var out []string
	for member := range m.zadds {
		out = append(out, member)
	}
	return out, nil
}

func (m *mockRedis) ZRemRangeByScore(_ context.Context, _, _, max string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zremMax = max
	return nil
}

func (m *mockRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dels = append(m.dels, keys...)
	return nil
}

func sampleRecord(expiry time.Time) Record {
	return Record{
		ID:            "AAA/BBB|AAA/USDT|BBB/USDT",
		Exchange:      "binance",
		UserID:        "u1",
		Symbols:       [3]string{"AAA/USDT", "AAA/BBB", "BBB/USDT"},
		Direction:     "USDT->AAA->BBB->USDT",
		ProfitPercent: 0.54,
		ProfitAmount:  5.4,
		PositionSize:  1000,
		DetectedAt:    expiry.Add(-30 * time.Second),
		ExpiresAt:     expiry,
	}
}

func TestRedisStoreCreate(t *testing.T) {
	m := newMockRedis()
	s := NewRedisStore(m)
	rec := sampleRecord(time.Now().Add(30 * time.Second))

	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	key := "opp:binance:AAA/BBB|AAA/USDT|BBB/USDT"
	if _, ok := m.hsets[key]; !ok {
		t.Fatalf("no hash written, got %v", m.hsets)
	}
	if score, ok := m.zadds[key]; !ok || score != float64(rec.ExpiresAt.UnixMilli()) {
		t.Fatalf("expiry index member missing or wrong score: %v", m.zadds)
	}
	if ttl, ok := m.expires[key]; !ok || ttl <= 0 {
		t.Fatalf("expected positive key ttl, got %v", m.expires)
	}
}

func TestRedisStoreCreatePropagatesError(t *testing.T) {
	m := newMockRedis()
	m.hsetErr = errors.New("conn refused")
	s := NewRedisStore(m)

	if err := s.Create(context.Background(), sampleRecord(time.Now())); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedisStoreDeleteExpired(t *testing.T) {
	m := newMockRedis()
	s := NewRedisStore(m)
	_ = s.Create(context.Background(), sampleRecord(time.Now().Add(-time.Second)))

	n, err := s.DeleteExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if len(m.dels) != 1 {
		t.Fatalf("DEL calls = %v", m.dels)
	}
	if m.zremMax == "" {
		t.Fatal("expiry index was not trimmed")
	}
}

func TestRedisStoreDeleteExpiredEmpty(t *testing.T) {
	m := newMockRedis()
	s := NewRedisStore(m)

	n, err := s.DeleteExpired(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("got n=%d err=%v, want 0,nil", n, err)
	}
	if len(m.dels) != 0 {
		t.Fatalf("unexpected DEL calls %v", m.dels)
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	_ = s.Create(context.Background(), sampleRecord(now.Add(time.Minute)))
	stale := sampleRecord(now.Add(-time.Minute))
	stale.ID = "old"
	_ = s.Create(context.Background(), stale)

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	n, err := s.DeleteExpired(context.Background(), now)
	if err != nil || n != 1 {
		t.Fatalf("got n=%d err=%v, want 1,nil", n, err)
	}
	if _, ok := s.Get("binance", "old"); ok {
		t.Fatal("expired record survived sweep")
	}
	if _, ok := s.Get("binance", "AAA/BBB|AAA/USDT|BBB/USDT"); !ok {
		t.Fatal("live record was swept")
	}
}

func TestMemoryStoreUpsert(t *testing.T) {
	s := NewMemoryStore()
	rec := sampleRecord(time.Now().Add(time.Minute))
	_ = s.Create(context.Background(), rec)
	rec.ProfitPercent = 0.9
	_ = s.Create(context.Background(), rec)

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	got, _ := s.Get(rec.Exchange, rec.ID)
	if got.ProfitPercent != 0.9 {
		t.Fatalf("upsert did not overwrite, pct = %v", got.ProfitPercent)
	}
}
