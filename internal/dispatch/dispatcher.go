// Package dispatch advances running campaigns one bounded batch at a
// time. Each invocation processes at most BatchSize pending delivery
// records and then re-enqueues itself while work remains, so no single
// execution ever holds resources for a whole campaign.
package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmcampos/zapblast/internal/activity"
	"github.com/dmcampos/zapblast/internal/campaign"
	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/internal/transport"
	"github.com/dmcampos/zapblast/pkg/logx"
	"github.com/dmcampos/zapblast/pkg/metrics"
)

// Store is the slice of the persistence layer the loop mutates.
type Store interface {
	GetCampaign(ctx context.Context, id int64) (store.CampaignRow, error)
	TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error)
	AddCampaignCounts(ctx context.Context, id int64, sentDelta, failedDelta int) error
	SelectPendingBatch(ctx context.Context, campaignID int64, limit int) ([]store.DeliveryRow, error)
	CountPending(ctx context.Context, campaignID int64) (int, error)
	MarkDeliverySent(ctx context.Context, id int64, rendered string) (bool, error)
	MarkDeliveryRetry(ctx context.Context, id int64, lastErr string) error
	MarkDeliveryFailed(ctx context.Context, id int64, lastErr string) (bool, error)
	ChannelConnected(ctx context.Context, id int64) (bool, error)
	AddChannelSent(ctx context.Context, id int64, n int) error
}

// Pauser reads the externally-settable pause flag.
type Pauser interface {
	IsPaused(ctx context.Context, campaignID int64) bool
}

// Publisher re-enqueues the continuation job.
type Publisher interface {
	PublishJSON(ctx context.Context, body []byte) error
}

// Locker grants an exclusive per-campaign lease for the duration of one
// batch. Without it a continuation job racing the requeue sweep would
// run the same campaign's pending records twice and double-send them;
// the pending-only record guards protect the counters, not the
// outbound send itself.
type Locker interface {
	TryLock(ctx context.Context, campaignID int64, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, campaignID int64) error
}

// Recorder consumes events fire-and-forget.
type Recorder interface {
	Record(ev activity.Event)
}

type Config struct {
	BatchSize   int
	SendTimeout time.Duration
}

type Dispatcher struct {
	store  Store
	sender transport.Sender
	pauser Pauser
	pub    Publisher
	rec    Recorder
	locker Locker
	cfg    Config

	// now is swappable for business-hours tests.
	now func() time.Time
}

func New(st Store, sender transport.Sender, pauser Pauser, pub Publisher, rec Recorder, locker Locker, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		store:  st,
		sender: sender,
		pauser: pauser,
		pub:    pub,
		rec:    rec,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}
}

// leaseTTL is the worst-case walltime of one batch plus slack; it only
// matters when a holder dies without releasing.
func leaseTTL(camp store.CampaignRow, cfg Config) time.Duration {
	per := time.Duration(camp.SendDelayMs)*time.Millisecond + cfg.SendTimeout
	return time.Duration(cfg.BatchSize)*per + time.Minute
}

var runnableFrom = []string{string(campaign.StatusRunning)}

// RunBatch executes one dispatch invocation for the campaign named in
// the job. Returned errors are infrastructure failures only; they are
// safe to redeliver because every record transition is guarded on
// pending status and counters move by deltas.
func (d *Dispatcher) RunBatch(ctx context.Context, job campaign.DispatchJob) error {
	log := logx.Named("dispatch").With("campaign_id", job.CampaignID, "resumed", job.Resumed)
	start := time.Now()
	metrics.DispatchBatches.Inc()
	defer func() {
		metrics.DispatchBatchDuration.Observe(time.Since(start).Seconds())
	}()

	camp, err := d.store.GetCampaign(ctx, job.CampaignID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warnw("campaign_missing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	// status guard: a completed, failed or cancelled campaign must stay
	// untouched no matter how often the job is redelivered, and a
	// paused one idles until resumed
	if campaign.Status(camp.Status) != campaign.StatusRunning {
		log.Infow("batch_skipped_status", "status", camp.Status)
		return nil
	}

	// one invocation per campaign at a time: the lease serializes a
	// continuation job against the requeue sweep. A skipped job is
	// dropped; the holder republishes or the sweep re-enqueues.
	locked, err := d.locker.TryLock(ctx, camp.ID, leaseTTL(camp, d.cfg))
	if err != nil {
		return fmt.Errorf("acquire dispatch lease: %w", err)
	}
	if !locked {
		metrics.LeaseSkips.Inc()
		log.Infow("batch_skipped_leased")
		return nil
	}
	defer func() {
		if err := d.locker.Unlock(context.Background(), camp.ID); err != nil {
			log.Warnw("lease_release_error", "error", err)
		}
	}()

	// connectivity is re-validated on every pickup, not only at the
	// running transition: the channel can drop mid-campaign
	connected, err := d.store.ChannelConnected(ctx, camp.ChannelID)
	if err != nil {
		return fmt.Errorf("channel check: %w", err)
	}
	if !connected {
		return d.failCampaign(ctx, camp, "channel disconnected")
	}

	if d.pauser.IsPaused(ctx, camp.ID) {
		metrics.PauseSkips.Inc()
		log.Infow("batch_skipped_paused")
		return nil
	}

	batch, err := d.store.SelectPendingBatch(ctx, camp.ID, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("select batch: %w", err)
	}
	if len(batch) == 0 {
		return d.completeCampaign(ctx, camp)
	}

	payload, vars, err := campaignContent(camp)
	if err != nil {
		return d.failCampaign(ctx, camp, fmt.Sprintf("unusable content: %v", err))
	}

	delay := time.Duration(camp.SendDelayMs) * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	var sentDelta, failedDelta, attempted, deferred int
	pausedMidBatch := false

	for _, rec := range batch {
		// pause takes effect within one message, not one batch
		if d.pauser.IsPaused(ctx, camp.ID) {
			metrics.PauseSkips.Inc()
			pausedMidBatch = true
			break
		}

		if camp.BusinessHours && !withinWindow(d.now(), camp.HoursStart, camp.HoursEnd) {
			// deferred, not lost: the record stays pending for a later
			// invocation inside the window
			metrics.HoursDeferrals.Inc()
			deferred++
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			break
		}

		attempted++
		rendered := d.renderFor(payload, vars, rec)
		sent, failed, err := d.attempt(ctx, camp, rec, rendered)
		if err != nil {
			log.Errorw("record_update_error", "delivery_id", rec.ID, "error", err)
			continue
		}
		sentDelta += sent
		failedDelta += failed
	}

	if sentDelta > 0 || failedDelta > 0 {
		if err := d.store.AddCampaignCounts(ctx, camp.ID, sentDelta, failedDelta); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
	}
	if sentDelta > 0 {
		if err := d.store.AddChannelSent(ctx, camp.ChannelID, sentDelta); err != nil {
			log.Warnw("channel_counter_error", "error", err)
		}
	}

	log.Infow("batch_done",
		"batch", len(batch), "attempted", attempted, "deferred", deferred,
		"sent", sentDelta, "failed", failedDelta, "dur", time.Since(start).Seconds(),
	)

	if pausedMidBatch {
		// the resume request publishes the next job
		return nil
	}

	pending, err := d.store.CountPending(ctx, camp.ID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending == 0 {
		return d.completeCampaign(ctx, camp)
	}

	if attempted == 0 && deferred > 0 {
		// everything left was gated on business hours; re-publishing
		// now would spin outside the window. The periodic sweep picks
		// the campaign back up.
		log.Infow("continuation_deferred_outside_hours", "pending", pending)
		return nil
	}

	return d.continueLater(ctx, camp.ID)
}

// attempt delivers one record and classifies the outcome. Returns the
// sent/failed counter deltas; both zero means the record was already
// terminal (lost race with a redelivered batch) or left pending for
// retry.
func (d *Dispatcher) attempt(ctx context.Context, camp store.CampaignRow, rec store.DeliveryRow, rendered campaign.Payload) (int, int, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := d.sender.Send(sendCtx, transport.Message{To: rec.ContactPhone, Payload: rendered})
	cancel()

	if err == nil {
		swapped, uErr := d.store.MarkDeliverySent(ctx, rec.ID, rendered.AuditText())
		if uErr != nil {
			return 0, 0, uErr
		}
		if !swapped {
			return 0, 0, nil
		}
		metrics.MessagesSent.Inc()
		d.recordMessage(camp, rec, activity.MessageSent, activity.StatusSuccess, "")
		return 1, 0, nil
	}

	// a non-retryable gateway rejection will not succeed on a later
	// attempt; the record fails without burning the remaining budget
	var gwErr *transport.SendError
	retryable := true
	if errors.As(err, &gwErr) {
		retryable = gwErr.Retryable
	}

	attempts := rec.Attempts + 1
	if retryable && attempts < camp.MaxAttempts {
		if uErr := d.store.MarkDeliveryRetry(ctx, rec.ID, err.Error()); uErr != nil {
			return 0, 0, uErr
		}
		metrics.MessageRetries.Inc()
		return 0, 0, nil
	}

	swapped, uErr := d.store.MarkDeliveryFailed(ctx, rec.ID, err.Error())
	if uErr != nil {
		return 0, 0, uErr
	}
	if !swapped {
		return 0, 0, nil
	}
	metrics.MessagesFailed.Inc()
	d.recordMessage(camp, rec, activity.MessageFailed, activity.StatusError, err.Error())
	return 0, 1, nil
}

func (d *Dispatcher) renderFor(p campaign.Payload, vars map[string]string, rec store.DeliveryRow) campaign.Payload {
	merged := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		merged[k] = v
	}
	merged["nome"] = rec.ContactName
	merged["telefone"] = rec.ContactPhone
	return p.Render(merged)
}

func (d *Dispatcher) completeCampaign(ctx context.Context, camp store.CampaignRow) error {
	swapped, err := d.store.TransitionStatus(ctx, camp.ID, runnableFrom, string(campaign.StatusCompleted))
	if err != nil {
		return fmt.Errorf("complete transition: %w", err)
	}
	if !swapped {
		// someone else finalized first; emitting another completion
		// event would double-report
		return nil
	}
	metrics.CampaignsCompleted.Inc()
	logx.Named("dispatch").Infow("campaign_completed", "campaign_id", camp.ID)
	d.rec.Record(activity.Event{
		OwnerID:     camp.OwnerID,
		Type:        activity.CampaignCompleted,
		Status:      activity.StatusSuccess,
		Title:       fmt.Sprintf("Campaign %q completed", camp.Name),
		CampaignID:  &camp.ID,
		ChannelID:   &camp.ChannelID,
		Description: fmt.Sprintf("%d sent, %d failed", camp.SentCount, camp.FailedCount),
	})
	return nil
}

func (d *Dispatcher) failCampaign(ctx context.Context, camp store.CampaignRow, reason string) error {
	swapped, err := d.store.TransitionStatus(ctx, camp.ID, runnableFrom, string(campaign.StatusFailed))
	if err != nil {
		return fmt.Errorf("fail transition: %w", err)
	}
	if !swapped {
		return nil
	}
	metrics.CampaignsFailed.Inc()
	logx.Named("dispatch").Warnw("campaign_failed", "campaign_id", camp.ID, "reason", reason)
	d.rec.Record(activity.Event{
		OwnerID:     camp.OwnerID,
		Type:        activity.CampaignFailed,
		Status:      activity.StatusError,
		Title:       fmt.Sprintf("Campaign %q failed", camp.Name),
		Description: reason,
		CampaignID:  &camp.ID,
		ChannelID:   &camp.ChannelID,
	})
	return nil
}

func (d *Dispatcher) continueLater(ctx context.Context, campaignID int64) error {
	body, err := json.Marshal(campaign.DispatchJob{CampaignID: campaignID, Resumed: true})
	if err != nil {
		return err
	}
	if err := d.pub.PublishJSON(ctx, body); err != nil {
		return fmt.Errorf("publish continuation: %w", err)
	}
	metrics.PublishedJobsTotal.Inc()
	return nil
}

func (d *Dispatcher) recordMessage(camp store.CampaignRow, rec store.DeliveryRow, t activity.Type, st activity.EventStatus, detail string) {
	contactID := rec.ContactID
	d.rec.Record(activity.Event{
		OwnerID:     camp.OwnerID,
		Type:        t,
		Status:      st,
		Title:       fmt.Sprintf("Message to %s", rec.ContactPhone),
		Description: detail,
		CampaignID:  &camp.ID,
		ChannelID:   &camp.ChannelID,
		ContactID:   &contactID,
	})
}

// campaignContent decodes the campaign's stored payload and variables.
// Text campaigns keep raw content; richer kinds store the payload union
// as JSON.
func campaignContent(camp store.CampaignRow) (campaign.Payload, map[string]string, error) {
	var vars map[string]string
	if camp.Variables != "" {
		if err := json.Unmarshal([]byte(camp.Variables), &vars); err != nil {
			return campaign.Payload{}, nil, fmt.Errorf("variables: %w", err)
		}
	}

	kind := campaign.Kind(camp.Kind)
	if kind == "" || kind == campaign.KindText {
		return campaign.Payload{Kind: campaign.KindText, Body: camp.Content}, vars, nil
	}

	var p campaign.Payload
	if err := json.Unmarshal([]byte(camp.Content), &p); err != nil {
		return campaign.Payload{}, nil, fmt.Errorf("payload: %w", err)
	}
	if p.Kind == "" {
		p.Kind = kind
	}
	return p, vars, nil
}
