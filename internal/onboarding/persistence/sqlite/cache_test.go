package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"nutrition-platform/backend/internal/onboarding/persistence"
)

var _ persistence.LocalCache = (*Cache)(nil)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing = ok %v, err %v", ok, err)
	}
	if err := c.Put(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, "k", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if string(v) != `{"a":2}` {
		t.Errorf("value = %s, want overwritten value", v)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("key still present after Delete")
	}
}

func TestCache_Keys(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	for _, k := range []string{"b", "a"} {
		if err := c.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want 2", keys)
	}
}

func TestCache_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = c.Close()

	c2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	if v, ok, _ := c2.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Errorf("after reopen Get = %q, %v", v, ok)
	}
}
