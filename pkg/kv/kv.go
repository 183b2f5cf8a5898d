// Package kv is the key-value cache capability used by the pause signal
// and the activity recorder. The dispatch engine never talks to Redis
// directly; it takes a KV so tests can substitute the in-memory fake.
package kv

import (
	"context"
	"time"
)

type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores a value only when the key is absent and reports
	// whether it did. This is the primitive behind single-holder leases.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// IncrBy adds n to a counter and refreshes its ttl when ttl > 0.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	// PushCapped prepends value to a list, trims it to cap entries
	// (most-recent-first) and refreshes its ttl when ttl > 0. cap <= 0
	// means unbounded.
	PushCapped(ctx context.Context, key, value string, cap int64, ttl time.Duration) error
	// Range returns up to n list entries, most recent first. n <= 0
	// returns the whole list.
	Range(ctx context.Context, key string, n int64) ([]string, error)
}
