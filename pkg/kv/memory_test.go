package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGetDel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("missing key reported present")
	}
	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get: %q %v %v", v, ok, err)
	}
	if err := m.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key survived delete")
	}
}

func TestMemory_SetNX(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "a", 0)
	if err != nil || !ok {
		t.Fatalf("first setnx: %v %v", ok, err)
	}
	ok, _ = m.SetNX(ctx, "k", "b", 0)
	if ok {
		t.Fatal("setnx overwrote a live key")
	}
	if v, _, _ := m.Get(ctx, "k"); v != "a" {
		t.Fatalf("value clobbered: %q", v)
	}

	// an expired key is absent for setnx purposes
	m.Set(ctx, "e", "x", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if ok, _ := m.SetNX(ctx, "e", "y", 0); !ok {
		t.Fatal("setnx refused an expired key")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expired key still readable")
	}
	if ok, _ := m.Exists(ctx, "k"); ok {
		t.Fatal("expired key still exists")
	}
}

func TestMemory_IncrBy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	n, err := m.IncrBy(ctx, "c", 2, 0)
	if err != nil || n != 2 {
		t.Fatalf("incr: %d %v", n, err)
	}
	n, _ = m.IncrBy(ctx, "c", 3, 0)
	if n != 5 {
		t.Fatalf("incr: %d", n)
	}
}

func TestMemory_PushCappedAndRange(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		if err := m.PushCapped(ctx, "l", v, 3, 0); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Range(ctx, "l", 0)
	if err != nil {
		t.Fatal(err)
	}
	// newest first, oldest trimmed at the cap
	want := []string{"d", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	limited, _ := m.Range(ctx, "l", 2)
	if len(limited) != 2 || limited[0] != "d" {
		t.Fatalf("limited range: %v", limited)
	}
}
