// Package pause holds the externally-settable flag that suspends a
// campaign's dispatch progress. The dispatch loop only ever reads the
// flag; collaborators set it on pause and clear it on resume, and it
// never expires on its own — a campaign may stay paused indefinitely.
package pause

import (
	"context"
	"fmt"

	"github.com/dmcampos/zapblast/pkg/kv"
)

type Signal struct {
	kv kv.KV
}

func NewSignal(store kv.KV) *Signal {
	return &Signal{kv: store}
}

func key(campaignID int64) string {
	return fmt.Sprintf("campaign:paused:%d", campaignID)
}

func (s *Signal) Set(ctx context.Context, campaignID int64) error {
	return s.kv.Set(ctx, key(campaignID), "1", 0)
}

func (s *Signal) Clear(ctx context.Context, campaignID int64) error {
	return s.kv.Del(ctx, key(campaignID))
}

// IsPaused treats a flag-read failure as paused: when the signal store
// is unreachable the loop idles instead of sending against an unknown
// pause state.
func (s *Signal) IsPaused(ctx context.Context, campaignID int64) bool {
	ok, err := s.kv.Exists(ctx, key(campaignID))
	if err != nil {
		return true
	}
	return ok
}
