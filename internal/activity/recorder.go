// Package activity persists engine events and keeps fast bounded
// recency views per owner. The recorder is fire-and-forget from the
// dispatch loop's perspective: Record never blocks and recorder
// failures never propagate back to the caller.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/pkg/kv"
	"github.com/dmcampos/zapblast/pkg/logx"
	"github.com/dmcampos/zapblast/pkg/metrics"
)

const (
	recentCap     = 50
	recentTTL     = 14 * 24 * time.Hour
	notifyCap     = 100
	notifyTTL     = 14 * 24 * time.Hour
	statTTL       = 35 * 24 * time.Hour
	deadLetterKey = "activity:deadletter"
	bufferSize    = 256
)

// DurableSink is the slice of the store the recorder writes through.
type DurableSink interface {
	InsertActivity(ctx context.Context, a store.ActivityRow) error
}

type Recorder struct {
	sink  DurableSink
	cache kv.KV

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewRecorder(sink DurableSink, cache kv.KV) *Recorder {
	return &Recorder{
		sink:   sink,
		cache:  cache,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Record enqueues an event for asynchronous persistence. It never
// blocks: when the buffer is full the event is counted and dropped
// rather than stalling the dispatch loop.
func (r *Recorder) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	select {
	case r.events <- ev:
	default:
		metrics.RecorderDropped.Inc()
		logx.Named("recorder").Warnw("event_buffer_full", "type", ev.Type, "owner_id", ev.OwnerID)
	}
}

// Run consumes the buffer until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					r.process(context.Background(), ev)
				default:
					return
				}
			}
		case ev := <-r.events:
			r.process(ctx, ev)
		}
	}
}

// Wait blocks until Run has drained and returned.
func (r *Recorder) Wait() { <-r.done }

func (r *Recorder) process(ctx context.Context, ev Event) {
	metrics.RecorderEvents.Inc()
	log := logx.Named("recorder")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.sink.InsertActivity(ctx, toRow(ev)); err != nil {
		// durable write failed: dead-letter the event instead of
		// dropping it
		metrics.RecorderDeadLettered.Inc()
		log.Errorw("activity_persist_error", "type", ev.Type, "error", err)
		if raw, mErr := json.Marshal(ev); mErr == nil {
			if dlErr := r.cache.PushCapped(ctx, deadLetterKey, string(raw), 0, 0); dlErr != nil {
				log.Errorw("dead_letter_push_error", "error", dlErr)
			}
		}
		return
	}

	r.fanOut(ctx, ev)
}

func (r *Recorder) fanOut(ctx context.Context, ev Event) {
	log := logx.Named("recorder")
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Errorw("event_marshal_error", "error", err)
		return
	}

	if err := r.cache.PushCapped(ctx, recentKey(ev.OwnerID), string(raw), recentCap, recentTTL); err != nil {
		log.Warnw("recent_cache_error", "owner_id", ev.OwnerID, "error", err)
	}

	n := Notification{
		ID:        ev.ID,
		Type:      ev.Type,
		Title:     ev.Title,
		Body:      ev.Description,
		CreatedAt: ev.CreatedAt,
	}
	if rawN, err := json.Marshal(n); err == nil {
		if err := r.cache.PushCapped(ctx, notifyKey(ev.OwnerID), string(rawN), notifyCap, notifyTTL); err != nil {
			log.Warnw("notify_feed_error", "owner_id", ev.OwnerID, "error", err)
		}
		if _, err := r.cache.IncrBy(ctx, unreadKey(ev.OwnerID), 1, notifyTTL); err != nil {
			log.Warnw("unread_counter_error", "owner_id", ev.OwnerID, "error", err)
		}
	}

	day := ev.CreatedAt.Format("2006-01-02")
	statKey := fmt.Sprintf("stats:%d:%s:%s:%s", ev.OwnerID, day, ev.Type, ev.Status)
	if _, err := r.cache.IncrBy(ctx, statKey, 1, statTTL); err != nil {
		log.Warnw("stat_counter_error", "key", statKey, "error", err)
	}
}

// Recent returns up to n cached events for the owner, newest first.
func (r *Recorder) Recent(ctx context.Context, ownerID int64, n int64) ([]Event, error) {
	raws, err := r.cache.Range(ctx, recentKey(ownerID), n)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Notifications returns the owner's feed plus the unread count. Reads
// do not consume entries; MarkNotificationsRead resets the counter.
func (r *Recorder) Notifications(ctx context.Context, ownerID int64, n int64) ([]Notification, int64, error) {
	raws, err := r.cache.Range(ctx, notifyKey(ownerID), n)
	if err != nil {
		return nil, 0, err
	}
	unread := int64(0)
	if v, ok, err := r.cache.Get(ctx, unreadKey(ownerID)); err == nil && ok {
		fmt.Sscanf(v, "%d", &unread)
	}
	out := make([]Notification, 0, len(raws))
	for i, raw := range raws {
		var nt Notification
		if err := json.Unmarshal([]byte(raw), &nt); err != nil {
			continue
		}
		nt.Read = int64(i) >= unread
		out = append(out, nt)
	}
	return out, unread, nil
}

func (r *Recorder) MarkNotificationsRead(ctx context.Context, ownerID int64) error {
	return r.cache.Del(ctx, unreadKey(ownerID))
}

// DayStat reads one per-day, per-type, per-status counter.
func (r *Recorder) DayStat(ctx context.Context, ownerID int64, day string, t Type, st EventStatus) (int64, error) {
	v, ok, err := r.cache.Get(ctx, fmt.Sprintf("stats:%d:%s:%s:%s", ownerID, day, t, st))
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	fmt.Sscanf(v, "%d", &n)
	return n, nil
}

// DeadLetters returns events that failed durable persistence, for
// later reprocessing.
func (r *Recorder) DeadLetters(ctx context.Context, n int64) ([]Event, error) {
	raws, err := r.cache.Range(ctx, deadLetterKey, n)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func recentKey(owner int64) string { return fmt.Sprintf("activity:recent:%d", owner) }
func notifyKey(owner int64) string { return fmt.Sprintf("notify:feed:%d", owner) }
func unreadKey(owner int64) string { return fmt.Sprintf("notify:unread:%d", owner) }

func toRow(ev Event) store.ActivityRow {
	row := store.ActivityRow{
		ID:          ev.ID,
		OwnerID:     ev.OwnerID,
		Type:        string(ev.Type),
		Status:      string(ev.Status),
		Title:       ev.Title,
		Description: ev.Description,
		CreatedAt:   ev.CreatedAt,
	}
	row.CampaignID = nullInt64(ev.CampaignID)
	row.ChannelID = nullInt64(ev.ChannelID)
	row.ContactID = nullInt64(ev.ContactID)
	row.TemplateID = nullInt64(ev.TemplateID)
	return row
}
