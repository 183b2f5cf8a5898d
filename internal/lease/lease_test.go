package lease

import (
	"context"
	"testing"
	"time"

	"github.com/dmcampos/zapblast/pkg/kv"
)

func TestTryLockIsExclusive(t *testing.T) {
	l := New(kv.NewMemory())
	ctx := context.Background()

	ok, err := l.TryLock(ctx, 42, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.TryLock(ctx, 42, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("held lease acquired twice")
	}

	// leases are per campaign
	ok, err = l.TryLock(ctx, 43, time.Minute)
	if err != nil || !ok {
		t.Fatalf("other campaign: ok=%v err=%v", ok, err)
	}

	if err := l.Unlock(ctx, 42); err != nil {
		t.Fatal(err)
	}
	ok, err = l.TryLock(ctx, 42, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after unlock: ok=%v err=%v", ok, err)
	}
}

func TestLeaseExpires(t *testing.T) {
	l := New(kv.NewMemory())
	ctx := context.Background()

	if ok, _ := l.TryLock(ctx, 42, 10*time.Millisecond); !ok {
		t.Fatal("first acquire failed")
	}
	time.Sleep(20 * time.Millisecond)

	ok, err := l.TryLock(ctx, 42, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expired lease still held")
	}
}
