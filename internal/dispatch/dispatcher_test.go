package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmcampos/zapblast/internal/activity"
	"github.com/dmcampos/zapblast/internal/campaign"
	"github.com/dmcampos/zapblast/internal/lease"
	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/internal/transport"
	"github.com/dmcampos/zapblast/pkg/kv"
)

// fakeDispatchStore is mutex guarded so tests can run concurrent
// invocations against it.
type fakeDispatchStore struct {
	mu        sync.Mutex
	camp      store.CampaignRow
	records   []store.DeliveryRow
	connected bool

	sentDelta   int
	failedDelta int
	channelSent int
}

func (f *fakeDispatchStore) GetCampaign(ctx context.Context, id int64) (store.CampaignRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.camp, nil
}

func (f *fakeDispatchStore) TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range from {
		if f.camp.Status == s {
			f.camp.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDispatchStore) AddCampaignCounts(ctx context.Context, id int64, sentDelta, failedDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentDelta += sentDelta
	f.failedDelta += failedDelta
	return nil
}

func (f *fakeDispatchStore) SelectPendingBatch(ctx context.Context, campaignID int64, limit int) ([]store.DeliveryRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.DeliveryRow
	for _, r := range f.records {
		if r.Status == store.DeliveryPending {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDispatchStore) CountPending(ctx context.Context, campaignID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Status == store.DeliveryPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeDispatchStore) find(id int64) *store.DeliveryRow {
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i]
		}
	}
	return nil
}

func (f *fakeDispatchStore) MarkDeliverySent(ctx context.Context, id int64, rendered string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.find(id)
	if r == nil || r.Status != store.DeliveryPending {
		return false, nil
	}
	r.Status = store.DeliverySent
	r.Attempts++
	r.RenderedContent.String = rendered
	r.RenderedContent.Valid = true
	return true, nil
}

func (f *fakeDispatchStore) MarkDeliveryRetry(ctx context.Context, id int64, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.find(id)
	if r != nil && r.Status == store.DeliveryPending {
		r.Attempts++
		r.LastError.String = lastErr
		r.LastError.Valid = true
	}
	return nil
}

func (f *fakeDispatchStore) MarkDeliveryFailed(ctx context.Context, id int64, lastErr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.find(id)
	if r == nil || r.Status != store.DeliveryPending {
		return false, nil
	}
	r.Status = store.DeliveryFailed
	r.Attempts++
	r.LastError.String = lastErr
	r.LastError.Valid = true
	return true, nil
}

func (f *fakeDispatchStore) ChannelConnected(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected, nil
}

func (f *fakeDispatchStore) AddChannelSent(ctx context.Context, id int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelSent += n
	return nil
}

type fakeSender struct {
	mu      sync.Mutex
	err     error
	latency time.Duration
	sent    []transport.Message
	calls   int
}

func (f *fakeSender) Send(ctx context.Context, msg transport.Message) error {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// fakePauser flips to paused after a fixed number of checks, so tests
// can pause mid-batch deterministically.
type fakePauser struct {
	paused     bool
	afterCalls int
	calls      int
}

func (f *fakePauser) IsPaused(ctx context.Context, campaignID int64) bool {
	f.calls++
	if f.afterCalls > 0 && f.calls > f.afterCalls {
		return true
	}
	return f.paused
}

type fakePublisher struct{ published int }

func (f *fakePublisher) PublishJSON(ctx context.Context, body []byte) error {
	f.published++
	return nil
}

type fakeRecorder struct{ events []activity.Event }

func (f *fakeRecorder) Record(ev activity.Event) { f.events = append(f.events, ev) }

func (f *fakeRecorder) countType(t activity.Type) int {
	n := 0
	for _, ev := range f.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func testCampaign() store.CampaignRow {
	return store.CampaignRow{
		ID:          42,
		OwnerID:     1,
		ChannelID:   7,
		Name:        "Promo",
		Kind:        "text",
		Content:     "Ola {{nome}}",
		Status:      string(campaign.StatusRunning),
		SendDelayMs: 0,
		MaxAttempts: 3,
	}
}

func pendingRecords(n int) []store.DeliveryRow {
	out := make([]store.DeliveryRow, n)
	for i := range out {
		out[i] = store.DeliveryRow{
			ID:           int64(i + 1),
			CampaignID:   42,
			ContactID:    int64(100 + i),
			Status:       store.DeliveryPending,
			ContactName:  "Maria",
			ContactPhone: "+5511999990001",
		}
	}
	return out
}

func newTestDispatcher(fs *fakeDispatchStore, sender transport.Sender, p Pauser, pub *fakePublisher, rec *fakeRecorder, batch int) *Dispatcher {
	return New(fs, sender, p, pub, rec, lease.New(kv.NewMemory()), Config{BatchSize: batch, SendTimeout: time.Second})
}

func TestRunBatch_SendsAllAndCompletes(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(3), connected: true}
	sender := &fakeSender{}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, pub, rec, 10)

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("want 3 sends, got %d", len(sender.sent))
	}
	if sender.sent[0].Payload.Body != "Ola Maria" {
		t.Fatalf("rendered body: %q", sender.sent[0].Payload.Body)
	}
	if fs.sentDelta != 3 || fs.failedDelta != 0 {
		t.Fatalf("counters sent=%d failed=%d", fs.sentDelta, fs.failedDelta)
	}
	if fs.channelSent != 3 {
		t.Fatalf("channel counter=%d", fs.channelSent)
	}
	if fs.camp.Status != string(campaign.StatusCompleted) {
		t.Fatalf("status=%s", fs.camp.Status)
	}
	if pub.published != 0 {
		t.Fatalf("unexpected continuation publish: %d", pub.published)
	}
	if rec.countType(activity.CampaignCompleted) != 1 {
		t.Fatalf("completion events: %d", rec.countType(activity.CampaignCompleted))
	}
}

func TestRunBatch_ContinuesWhilePending(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(5), connected: true}
	pub := &fakePublisher{}
	d := newTestDispatcher(fs, &fakeSender{}, &fakePauser{}, pub, &fakeRecorder{}, 2)

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}

	if fs.camp.Status != string(campaign.StatusRunning) {
		t.Fatalf("status=%s", fs.camp.Status)
	}
	if pub.published != 1 {
		t.Fatalf("want 1 continuation, got %d", pub.published)
	}
	if n, _ := fs.CountPending(context.Background(), 42); n != 3 {
		t.Fatalf("pending=%d", n)
	}
}

func TestRunBatch_TerminalStatusIsNoop(t *testing.T) {
	for _, st := range []campaign.Status{
		campaign.StatusCompleted, campaign.StatusFailed, campaign.StatusCancelled, campaign.StatusPaused,
	} {
		camp := testCampaign()
		camp.Status = string(st)
		fs := &fakeDispatchStore{camp: camp, records: pendingRecords(2), connected: true}
		sender := &fakeSender{}
		pub := &fakePublisher{}
		d := newTestDispatcher(fs, sender, &fakePauser{}, pub, &fakeRecorder{}, 10)

		if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
			t.Fatal(err)
		}
		if sender.calls != 0 || pub.published != 0 {
			t.Fatalf("status %s: sends=%d publishes=%d", st, sender.calls, pub.published)
		}
		if n, _ := fs.CountPending(context.Background(), 42); n != 2 {
			t.Fatalf("status %s mutated records", st)
		}
	}
}

func TestRunBatch_PausedFlagSkipsBatch(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(2), connected: true}
	sender := &fakeSender{}
	d := newTestDispatcher(fs, sender, &fakePauser{paused: true}, &fakePublisher{}, &fakeRecorder{}, 10)

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}
	if sender.calls != 0 {
		t.Fatalf("sends while paused: %d", sender.calls)
	}
}

func TestRunBatch_PauseTakesEffectMidBatch(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(5), connected: true}
	sender := &fakeSender{}
	pub := &fakePublisher{}
	// first check passes the batch guard, second passes for record one,
	// then the flag is on
	p := &fakePauser{afterCalls: 2}
	d := newTestDispatcher(fs, sender, p, pub, &fakeRecorder{}, 10)

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("want 1 send before pause, got %d", len(sender.sent))
	}
	if n, _ := fs.CountPending(context.Background(), 42); n != 4 {
		t.Fatalf("pending=%d", n)
	}
	// resume publishes the next job, not the paused batch
	if pub.published != 0 {
		t.Fatalf("continuation published while pausing: %d", pub.published)
	}
}

func TestRunBatch_RetryThenFailAfterMaxAttempts(t *testing.T) {
	camp := testCampaign()
	camp.MaxAttempts = 2
	fs := &fakeDispatchStore{camp: camp, records: pendingRecords(2), connected: true}
	sender := &fakeSender{err: &transport.SendError{Code: 500, Body: "gateway down", Retryable: true}}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, &fakePublisher{}, rec, 10)

	// first pass: every record gets one failed attempt and stays pending
	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}
	for _, r := range fs.records {
		if r.Status != store.DeliveryPending || r.Attempts != 1 {
			t.Fatalf("after pass 1: %+v", r)
		}
	}

	// second pass exhausts attempts
	fs.camp = camp
	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42, Resumed: true}); err != nil {
		t.Fatal(err)
	}
	for _, r := range fs.records {
		if r.Status != store.DeliveryFailed {
			t.Fatalf("after pass 2: status=%s", r.Status)
		}
		if r.Attempts != 2 {
			t.Fatalf("attempts=%d, want exactly 2", r.Attempts)
		}
	}
	if fs.failedDelta != 2 || fs.sentDelta != 0 {
		t.Fatalf("counters sent=%d failed=%d", fs.sentDelta, fs.failedDelta)
	}
	if fs.camp.Status != string(campaign.StatusCompleted) {
		t.Fatalf("status=%s", fs.camp.Status)
	}
	if rec.countType(activity.MessageFailed) != 2 {
		t.Fatalf("failure events: %d", rec.countType(activity.MessageFailed))
	}
}

func TestRunBatch_ChannelDisconnectedFailsCampaign(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(2), connected: false}
	sender := &fakeSender{}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, &fakePublisher{}, rec, 10)

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}
	if fs.camp.Status != string(campaign.StatusFailed) {
		t.Fatalf("status=%s", fs.camp.Status)
	}
	if sender.calls != 0 {
		t.Fatalf("sends on dead channel: %d", sender.calls)
	}
	if rec.countType(activity.CampaignFailed) != 1 {
		t.Fatalf("failure events: %d", rec.countType(activity.CampaignFailed))
	}
}

func TestRunBatch_BusinessHoursDefersWithoutSpinning(t *testing.T) {
	camp := testCampaign()
	camp.BusinessHours = true
	camp.HoursStart = "09:00"
	camp.HoursEnd = "18:00"
	fs := &fakeDispatchStore{camp: camp, records: pendingRecords(3), connected: true}
	sender := &fakeSender{}
	pub := &fakePublisher{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, pub, &fakeRecorder{}, 10)
	d.now = func() time.Time {
		return time.Date(2026, 8, 28, 22, 30, 0, 0, time.UTC)
	}

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}

	if sender.calls != 0 {
		t.Fatalf("sends outside window: %d", sender.calls)
	}
	if n, _ := fs.CountPending(context.Background(), 42); n != 3 {
		t.Fatalf("pending=%d, deferral must not consume records", n)
	}
	// no immediate continuation: the sweep re-enqueues inside the window
	if pub.published != 0 {
		t.Fatalf("continuation published outside hours: %d", pub.published)
	}
	if fs.camp.Status != string(campaign.StatusRunning) {
		t.Fatalf("status=%s", fs.camp.Status)
	}
}

func TestRunBatch_SendsInsideWindow(t *testing.T) {
	camp := testCampaign()
	camp.BusinessHours = true
	camp.HoursStart = "09:00"
	camp.HoursEnd = "18:00"
	fs := &fakeDispatchStore{camp: camp, records: pendingRecords(2), connected: true}
	sender := &fakeSender{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, &fakePublisher{}, &fakeRecorder{}, 10)
	d.now = func() time.Time {
		return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	}

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("want 2 sends, got %d", len(sender.sent))
	}
}

func TestRunBatch_ConcurrentJobsRunOnce(t *testing.T) {
	recs := pendingRecords(10)
	for i := range recs {
		recs[i].ContactPhone = fmt.Sprintf("+55119999900%02d", i)
	}
	fs := &fakeDispatchStore{camp: testCampaign(), records: recs, connected: true}
	sender := &fakeSender{latency: 10 * time.Millisecond}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, pub, rec, 20)

	// a continuation job and a sweep-requeued job arrive together; the
	// lease must let exactly one of them run the batch
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if len(sender.sent) != 10 {
		t.Fatalf("want 10 sends, got %d", len(sender.sent))
	}
	seen := map[string]int{}
	for _, m := range sender.sent {
		seen[m.To]++
	}
	for to, n := range seen {
		if n != 1 {
			t.Fatalf("contact %s sent %d times", to, n)
		}
	}
	if fs.sentDelta != 10 {
		t.Fatalf("sent delta=%d", fs.sentDelta)
	}
	if rec.countType(activity.CampaignCompleted) != 1 {
		t.Fatalf("completion events: %d", rec.countType(activity.CampaignCompleted))
	}
}

func TestRunBatch_LeaseReleasedAfterBatch(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(4), connected: true}
	sender := &fakeSender{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, &fakePublisher{}, &fakeRecorder{}, 2)

	// two sequential invocations drain the campaign; a stuck lease
	// would make the second a no-op
	for i := 0; i < 2; i++ {
		if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
			t.Fatal(err)
		}
	}
	if len(sender.sent) != 4 {
		t.Fatalf("want 4 sends, got %d", len(sender.sent))
	}
}

func TestRunBatch_NonRetryableFailureSkipsRetryBudget(t *testing.T) {
	camp := testCampaign()
	camp.MaxAttempts = 3
	fs := &fakeDispatchStore{camp: camp, records: pendingRecords(2), connected: true}
	sender := &fakeSender{err: &transport.SendError{Code: 400, Body: "invalid number", Retryable: false}}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fs, sender, &fakePauser{}, &fakePublisher{}, rec, 10)

	if err := d.RunBatch(context.Background(), campaign.DispatchJob{CampaignID: 42}); err != nil {
		t.Fatal(err)
	}

	// a rejection the gateway will never accept fails on the first
	// attempt instead of burning the remaining budget
	for _, r := range fs.records {
		if r.Status != store.DeliveryFailed {
			t.Fatalf("status=%s", r.Status)
		}
		if r.Attempts != 1 {
			t.Fatalf("attempts=%d, want exactly 1", r.Attempts)
		}
	}
	if fs.failedDelta != 2 {
		t.Fatalf("failed delta=%d", fs.failedDelta)
	}
	if fs.camp.Status != string(campaign.StatusCompleted) {
		t.Fatalf("status=%s", fs.camp.Status)
	}
}

func TestRunBatch_RedeliveredBatchCannotDoubleCount(t *testing.T) {
	fs := &fakeDispatchStore{camp: testCampaign(), records: pendingRecords(2), connected: true}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	d := newTestDispatcher(fs, &fakeSender{}, &fakePauser{}, pub, rec, 10)

	job := campaign.DispatchJob{CampaignID: 42}
	if err := d.RunBatch(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	// redelivery after completion: the status guard stops everything
	if err := d.RunBatch(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if fs.sentDelta != 2 {
		t.Fatalf("sent delta=%d after redelivery", fs.sentDelta)
	}
	if rec.countType(activity.CampaignCompleted) != 1 {
		t.Fatalf("completion events: %d", rec.countType(activity.CampaignCompleted))
	}
}
