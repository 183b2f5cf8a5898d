// Package lease provides a single-holder per-campaign lock: a dispatch
// invocation acquires the lease before touching pending records and
// releases it when the batch ends, so a continuation job racing the
// requeue sweep can never run the same campaign's batch twice. The TTL
// bounds how long a crashed holder keeps the campaign locked; normal
// paths release explicitly.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/dmcampos/zapblast/pkg/kv"
)

type Lock struct {
	kv kv.KV
}

func New(store kv.KV) *Lock {
	return &Lock{kv: store}
}

func key(campaignID int64) string {
	return fmt.Sprintf("campaign:dispatch:%d", campaignID)
}

// TryLock acquires the campaign's lease for at most ttl. It never
// blocks; a held lease reports false.
func (l *Lock) TryLock(ctx context.Context, campaignID int64, ttl time.Duration) (bool, error) {
	return l.kv.SetNX(ctx, key(campaignID), "1", ttl)
}

func (l *Lock) Unlock(ctx context.Context, campaignID int64) error {
	return l.kv.Del(ctx, key(campaignID))
}
