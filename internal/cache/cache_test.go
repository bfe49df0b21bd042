package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	val, err := c.Get(ctx, "tenant-001", "key1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected value1, got %s", val)
	}
}

func TestLRUMiss(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	val, err := c.Get(ctx, "tenant-001", "missing")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil on miss, got %s", val)
	}
}

func TestLRUTenantIsolation(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	val, err := c.Get(ctx, "tenant-002", "key1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for other tenant, got %s", val)
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "key1", []byte("value1"), 10*time.Millisecond); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "tenant-001", "key1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if val != nil {
		t.Errorf("expected expired entry to be gone, got %s", val)
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, "tenant-001", "key1", []byte("v1"), time.Minute)
	c.Set(ctx, "tenant-001", "key2", []byte("v2"), time.Minute)

	// Touch key1 so key2 becomes the eviction candidate.
	c.Get(ctx, "tenant-001", "key1")
	c.Set(ctx, "tenant-001", "key3", []byte("v3"), time.Minute)

	val, _ := c.Get(ctx, "tenant-001", "key2")
	if val != nil {
		t.Error("expected key2 to be evicted")
	}
	val, _ = c.Get(ctx, "tenant-001", "key1")
	if string(val) != "v1" {
		t.Error("expected key1 to survive eviction")
	}

	size, capacity := c.Stats()
	if size != 2 || capacity != 2 {
		t.Errorf("unexpected stats: size=%d capacity=%d", size, capacity)
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "tenant-001", "key1", []byte("value1"), time.Minute)
	if err := c.Delete(ctx, "tenant-001", "key1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	val, _ := c.Get(ctx, "tenant-001", "key1")
	if val != nil {
		t.Error("expected deleted entry to be gone")
	}
}

func TestLRURequiresTenant(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if _, err := c.Get(ctx, "", "key1"); err == nil {
		t.Error("expected error for empty tenant on Get")
	}
	if err := c.Set(ctx, "", "key1", []byte("v"), time.Minute); err == nil {
		t.Error("expected error for empty tenant on Set")
	}
	if _, err := c.IncrementCounter(ctx, "", "key1", time.Minute); err == nil {
		t.Error("expected error for empty tenant on IncrementCounter")
	}
}

func TestLRUProfileRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	profile := &domain.CustomerProfile{
		CustomerID:     "cust-001",
		UsualAmountAvg: 120.0,
		UsualHours:     "08-20",
		UsualCountries: []string{"US"},
		UsualDevices:   []string{"dev-1"},
	}

	if err := c.SetProfile(ctx, "tenant-001", "cust-001", profile, time.Minute); err != nil {
		t.Fatalf("failed to set profile: %v", err)
	}

	got, err := c.GetProfile(ctx, "tenant-001", "cust-001")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if got == nil || got.UsualAmountAvg != 120.0 || got.UsualHours != "08-20" {
		t.Errorf("profile mismatch: %+v", got)
	}

	got, err = c.GetProfile(ctx, "tenant-001", "cust-404")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %+v", got)
	}
}

func TestLRUCounterWindow(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-001", "velocity:cust-001", time.Minute)
		if err != nil {
			t.Fatalf("failed to increment: %v", err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}

	// A fresh window starts over.
	got, err := c.IncrementCounter(ctx, "tenant-001", "burst", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to increment: %v", err)
	}
	if got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
	time.Sleep(20 * time.Millisecond)
	got, err = c.IncrementCounter(ctx, "tenant-001", "burst", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to increment: %v", err)
	}
	if got != 1 {
		t.Errorf("expected count to reset after window, got %d", got)
	}
}

func TestNewMemoryCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestNewUnsupportedType(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
