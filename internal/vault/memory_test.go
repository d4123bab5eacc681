package vault

import (
	"context"
	"testing"
	"time"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "accessToken", "tok-1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := m.Get(ctx, "accessToken")
	if err != nil || !ok || v != "tok-1" {
		t.Fatalf("Get = (%q, %v, %v)", v, ok, err)
	}

	if err := m.Delete(ctx, "accessToken"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "accessToken"); ok {
		t.Fatal("expected slot gone after delete")
	}
	if err := m.Delete(ctx, "accessToken"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return now }))

	if err := m.Set(ctx, "accessToken", "tok-1", 15*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = now.Add(14 * time.Minute)
	if _, ok, _ := m.Get(ctx, "accessToken"); !ok {
		t.Fatal("slot should still be live before the TTL")
	}

	now = now.Add(2 * time.Minute)
	if v, ok, _ := m.Get(ctx, "accessToken"); ok {
		t.Fatalf("slot should have expired, got %q", v)
	}
}

func TestMemoryDistinctTTLs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return now }))

	if err := m.Set(ctx, "accessToken", "short", 15*time.Minute); err != nil {
		t.Fatalf("Set access: %v", err)
	}
	if err := m.Set(ctx, "refreshToken", "long", 7*24*time.Hour); err != nil {
		t.Fatalf("Set refresh: %v", err)
	}

	now = now.Add(1 * time.Hour)
	if _, ok, _ := m.Get(ctx, "accessToken"); ok {
		t.Fatal("access slot should have expired")
	}
	if v, ok, _ := m.Get(ctx, "refreshToken"); !ok || v != "long" {
		t.Fatalf("refresh slot should survive, got (%q, %v)", v, ok)
	}
}
