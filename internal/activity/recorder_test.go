package activity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/pkg/kv"
)

type memSink struct {
	rows []store.ActivityRow
	err  error
}

func (m *memSink) InsertActivity(ctx context.Context, a store.ActivityRow) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, a)
	return nil
}

func runRecorder(t *testing.T, sink DurableSink, cache kv.KV, events ...Event) *Recorder {
	t.Helper()
	r := NewRecorder(sink, cache)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	for _, ev := range events {
		r.Record(ev)
	}
	// let the buffer drain, then stop
	time.Sleep(20 * time.Millisecond)
	cancel()
	r.Wait()
	return r
}

func TestRecorder_PersistsAndCaches(t *testing.T) {
	sink := &memSink{}
	cache := kv.NewMemory()
	cid := int64(42)
	r := runRecorder(t, sink, cache, Event{
		OwnerID:    1,
		Type:       CampaignStarted,
		Status:     StatusInfo,
		Title:      "Campaign started",
		CampaignID: &cid,
	})

	if len(sink.rows) != 1 {
		t.Fatalf("durable rows: %d", len(sink.rows))
	}
	if sink.rows[0].ID == "" {
		t.Fatal("recorder must assign an id")
	}
	if !sink.rows[0].CampaignID.Valid || sink.rows[0].CampaignID.Int64 != 42 {
		t.Fatalf("campaign id: %+v", sink.rows[0].CampaignID)
	}

	recent, err := r.Recent(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Type != CampaignStarted {
		t.Fatalf("recent: %+v", recent)
	}
}

func TestRecorder_RecentIsCapped(t *testing.T) {
	sink := &memSink{}
	cache := kv.NewMemory()
	events := make([]Event, recentCap+10)
	for i := range events {
		events[i] = Event{OwnerID: 1, Type: MessageSent, Status: StatusSuccess, Title: fmt.Sprintf("m%d", i)}
	}
	r := runRecorder(t, sink, cache, events...)

	recent, err := r.Recent(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != recentCap {
		t.Fatalf("recent=%d, want cap %d", len(recent), recentCap)
	}
	// newest first
	if recent[0].Title != fmt.Sprintf("m%d", recentCap+9) {
		t.Fatalf("head=%q", recent[0].Title)
	}
	// the durable log keeps everything
	if len(sink.rows) != recentCap+10 {
		t.Fatalf("durable rows: %d", len(sink.rows))
	}
}

func TestRecorder_NotificationsAndUnread(t *testing.T) {
	cache := kv.NewMemory()
	r := runRecorder(t, &memSink{}, cache,
		Event{OwnerID: 1, Type: CampaignCompleted, Status: StatusSuccess, Title: "done"},
		Event{OwnerID: 1, Type: CampaignPaused, Status: StatusInfo, Title: "paused"},
	)

	feed, unread, err := r.Notifications(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if unread != 2 {
		t.Fatalf("unread=%d", unread)
	}
	if len(feed) != 2 {
		t.Fatalf("feed=%d", len(feed))
	}
	for _, n := range feed {
		if n.Read {
			t.Fatalf("notification %q marked read too early", n.Title)
		}
	}

	if err := r.MarkNotificationsRead(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	feed, unread, err = r.Notifications(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if unread != 0 {
		t.Fatalf("unread=%d after mark read", unread)
	}
	for _, n := range feed {
		if !n.Read {
			t.Fatalf("notification %q still unread", n.Title)
		}
	}
}

func TestRecorder_DeadLettersOnSinkFailure(t *testing.T) {
	sink := &memSink{err: errors.New("db down")}
	cache := kv.NewMemory()
	r := runRecorder(t, sink, cache,
		Event{OwnerID: 1, Type: MessageSent, Status: StatusSuccess, Title: "m1"},
	)

	dead, err := r.DeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].Title != "m1" {
		t.Fatalf("dead letters: %+v", dead)
	}
	// a failed durable write must not fan out to the recency views
	recent, _ := r.Recent(context.Background(), 1, 10)
	if len(recent) != 0 {
		t.Fatalf("recent populated despite persist failure: %+v", recent)
	}
}

func TestRecorder_DayStats(t *testing.T) {
	cache := kv.NewMemory()
	now := time.Now().UTC()
	r := runRecorder(t, &memSink{}, cache,
		Event{OwnerID: 1, Type: MessageSent, Status: StatusSuccess, CreatedAt: now},
		Event{OwnerID: 1, Type: MessageSent, Status: StatusSuccess, CreatedAt: now},
		Event{OwnerID: 1, Type: MessageFailed, Status: StatusError, CreatedAt: now},
	)

	day := now.Format("2006-01-02")
	sent, err := r.DayStat(context.Background(), 1, day, MessageSent, StatusSuccess)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 2 {
		t.Fatalf("sent stat=%d", sent)
	}
	failed, _ := r.DayStat(context.Background(), 1, day, MessageFailed, StatusError)
	if failed != 1 {
		t.Fatalf("failed stat=%d", failed)
	}
}

func TestRecorder_RecordNeverBlocks(t *testing.T) {
	// no Run consuming the buffer: overflow must drop, not block
	r := NewRecorder(&memSink{}, kv.NewMemory())
	done := make(chan struct{})
	go func() {
		for i := 0; i < bufferSize*2; i++ {
			r.Record(Event{OwnerID: 1, Type: MessageSent})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
}
