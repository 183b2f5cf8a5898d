package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmcampos/zapblast/internal/activity"
	"github.com/dmcampos/zapblast/internal/audience"
	"github.com/dmcampos/zapblast/internal/spintex"
	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/pkg/logx"
	"github.com/dmcampos/zapblast/pkg/metrics"
)

var (
	ErrNotFound            = errors.New("campaign not found")
	ErrChannelDisconnected = errors.New("sending channel is not connected")
	ErrInvalidTransition   = errors.New("campaign status does not allow this operation")
)

// Store is the persistence surface the service drives.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	InsertCampaign(ctx context.Context, tx *sql.Tx, c store.CampaignRow) (int64, error)
	GetCampaign(ctx context.Context, id int64) (store.CampaignRow, error)
	GetCampaignStats(ctx context.Context, id int64) (store.CampaignStats, error)
	ListCampaigns(ctx context.Context, ownerID int64, limit, offset int) ([]store.CampaignRow, []store.CampaignStats, error)
	TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error)
	InsertDeliveryRecords(ctx context.Context, tx *sql.Tx, campaignID int64, contactIDs []int64) (int, error)
	SetCampaignTotal(ctx context.Context, tx *sql.Tx, id int64, total int) error
	FilterActiveContacts(ctx context.Context, ownerID int64, ids []int64) ([]int64, error)
	GroupContactIDs(ctx context.Context, ownerID int64, groupIDs []int64) ([]int64, error)
	GetContact(ctx context.Context, ownerID, id int64) (store.ContactRow, error)
	GetChannel(ctx context.Context, id int64) (store.ChannelRow, error)
	ChannelConnected(ctx context.Context, id int64) (bool, error)
	GetTemplate(ctx context.Context, ownerID, id int64) (store.TemplateRow, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]int64, error)
	ListRunningWithPending(ctx context.Context) ([]int64, error)
}

// PauseControl sets and clears the pause flag; the dispatch loop only
// ever reads it.
type PauseControl interface {
	Set(ctx context.Context, campaignID int64) error
	Clear(ctx context.Context, campaignID int64) error
	IsPaused(ctx context.Context, campaignID int64) bool
}

type Publisher interface {
	PublishJSON(ctx context.Context, body []byte) error
}

type Recorder interface {
	Record(ev activity.Event)
}

// Service owns campaign lifecycle operations: creation with audience
// materialization, the guarded start/pause/resume/cancel transitions,
// and the scheduler sweep entry points.
type Service struct {
	store    Store
	resolver *audience.Resolver
	pause    PauseControl
	pub      Publisher
	rec      Recorder
}

func NewService(st Store, resolver *audience.Resolver, pc PauseControl, pub Publisher, rec Recorder) *Service {
	return &Service{store: st, resolver: resolver, pause: pc, pub: pub, rec: rec}
}

// Create validates the request, resolves the audience and persists the
// campaign with its delivery records in one transaction. A future
// scheduled_at lands the campaign in scheduled, otherwise draft.
func (s *Service) Create(ctx context.Context, ownerID int64, req CreateCampaignReq) (CreateCampaignResp, error) {
	if err := ValidateCreate(&req, time.Now()); err != nil {
		return CreateCampaignResp{}, err
	}

	ch, err := s.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CreateCampaignResp{}, fmt.Errorf("channel %d: %w", req.ChannelID, ErrNotFound)
		}
		return CreateCampaignResp{}, err
	}
	if ch.OwnerID != ownerID {
		return CreateCampaignResp{}, fmt.Errorf("channel %d: %w", req.ChannelID, ErrNotFound)
	}

	row, err := s.buildRow(ctx, ownerID, &req)
	if err != nil {
		return CreateCampaignResp{}, err
	}

	// re-check variables against the effective content: a payload's
	// text fields and a snapshotted template body are only known here
	if missing := MissingContentVariables(&req, row.Content); len(missing) > 0 {
		return CreateCampaignResp{}, fmt.Errorf("%w: %v", ErrMissingVariables, missing)
	}

	// resolve before any write so an empty audience never leaves draft
	contactIDs, err := s.resolver.Resolve(ctx, ownerID, req.ContactIDs, req.GroupIDs)
	if err != nil {
		return CreateCampaignResp{}, err
	}

	var campaignID int64
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := s.store.InsertCampaign(ctx, tx, row)
		if err != nil {
			return err
		}
		campaignID = id
		_, err = s.resolver.Materialize(ctx, tx, s.store, id, contactIDs)
		return err
	})
	if err != nil {
		return CreateCampaignResp{}, err
	}

	logx.Named("campaign").Infow("campaign_created",
		"campaign_id", campaignID, "owner_id", ownerID,
		"status", row.Status, "audience", len(contactIDs),
	)
	s.rec.Record(activity.Event{
		OwnerID:     ownerID,
		Type:        activity.CampaignCreated,
		Status:      activity.StatusInfo,
		Title:       fmt.Sprintf("Campaign %q created", req.Name),
		Description: fmt.Sprintf("%d contacts targeted", len(contactIDs)),
		CampaignID:  &campaignID,
		ChannelID:   &req.ChannelID,
		TemplateID:  req.TemplateID,
	})

	return CreateCampaignResp{
		ID:       campaignID,
		Status:   Status(row.Status),
		Audience: len(contactIDs),
	}, nil
}

func (s *Service) buildRow(ctx context.Context, ownerID int64, req *CreateCampaignReq) (store.CampaignRow, error) {
	row := store.CampaignRow{
		OwnerID:       ownerID,
		ChannelID:     req.ChannelID,
		Name:          req.Name,
		Kind:          string(KindText),
		Content:       req.Content,
		Status:        string(StatusDraft),
		SendDelayMs:   req.SendDelayMs,
		MaxAttempts:   req.MaxAttempts,
		BusinessHours: req.BusinessHours,
		HoursStart:    req.HoursStart,
		HoursEnd:      req.HoursEnd,
	}
	if req.ScheduledAt != nil {
		row.Status = string(StatusScheduled)
		row.ScheduledAt = sql.NullTime{Time: *req.ScheduledAt, Valid: true}
	}
	if req.TemplateID != nil {
		tpl, err := s.store.GetTemplate(ctx, ownerID, *req.TemplateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return row, fmt.Errorf("template %d: %w", *req.TemplateID, ErrNotFound)
			}
			return row, err
		}
		row.TemplateID = sql.NullInt64{Int64: tpl.ID, Valid: true}
		if row.Content == "" {
			// snapshot the template body so later template edits do
			// not change a campaign already in flight
			row.Content = tpl.Content
		}
	}
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return row, err
		}
		row.Kind = string(req.Payload.Kind)
		row.Content = string(raw)
	}
	if len(req.Variables) > 0 {
		raw, err := json.Marshal(req.Variables)
		if err != nil {
			return row, err
		}
		row.Variables = string(raw)
	}
	return row, nil
}

// Start moves a draft or scheduled campaign into running and publishes
// its first dispatch job. The transition fails without mutating state
// when the sending channel is not connected.
func (s *Service) Start(ctx context.Context, ownerID, id int64) error {
	camp, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	connected, err := s.store.ChannelConnected(ctx, camp.ChannelID)
	if err != nil {
		return err
	}
	if !connected {
		return ErrChannelDisconnected
	}

	from := []string{string(StatusDraft), string(StatusScheduled)}
	swapped, err := s.store.TransitionStatus(ctx, id, from, string(StatusRunning))
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("%w: status is %s", ErrInvalidTransition, camp.Status)
	}

	s.rec.Record(activity.Event{
		OwnerID:    ownerID,
		Type:       activity.CampaignStarted,
		Status:     activity.StatusInfo,
		Title:      fmt.Sprintf("Campaign %q started", camp.Name),
		CampaignID: &id,
		ChannelID:  &camp.ChannelID,
	})
	return s.publishJob(ctx, id, false)
}

// Pause raises the pause flag first so the dispatch loop halts within
// one message, then records the paused status.
func (s *Service) Pause(ctx context.Context, ownerID, id int64) error {
	camp, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.pause.Set(ctx, id); err != nil {
		return err
	}
	swapped, err := s.store.TransitionStatus(ctx, id,
		[]string{string(StatusRunning)}, string(StatusPaused))
	if err != nil {
		return err
	}
	if !swapped {
		// not running after all; do not leave a stray flag behind
		_ = s.pause.Clear(ctx, id)
		return fmt.Errorf("%w: status is %s", ErrInvalidTransition, camp.Status)
	}

	s.rec.Record(activity.Event{
		OwnerID:    ownerID,
		Type:       activity.CampaignPaused,
		Status:     activity.StatusInfo,
		Title:      fmt.Sprintf("Campaign %q paused", camp.Name),
		CampaignID: &id,
	})
	return nil
}

// Resume clears the pause flag, moves the campaign back to running and
// re-publishes a dispatch job. Progress picks up from the exact set of
// still-pending delivery records.
func (s *Service) Resume(ctx context.Context, ownerID, id int64) error {
	camp, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	connected, err := s.store.ChannelConnected(ctx, camp.ChannelID)
	if err != nil {
		return err
	}
	if !connected {
		return ErrChannelDisconnected
	}

	// clear the flag before the status swap: a failed clear leaves the
	// campaign paused and Resume retryable, never running with the flag
	// still up
	if err := s.pause.Clear(ctx, id); err != nil {
		return err
	}
	swapped, err := s.store.TransitionStatus(ctx, id,
		[]string{string(StatusPaused)}, string(StatusRunning))
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("%w: status is %s", ErrInvalidTransition, camp.Status)
	}

	s.rec.Record(activity.Event{
		OwnerID:    ownerID,
		Type:       activity.CampaignResumed,
		Status:     activity.StatusInfo,
		Title:      fmt.Sprintf("Campaign %q resumed", camp.Name),
		CampaignID: &id,
	})
	return s.publishJob(ctx, id, true)
}

// Cancel is the manual, irreversible terminal escape from any
// non-terminal, non-running state.
func (s *Service) Cancel(ctx context.Context, ownerID, id int64) error {
	camp, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	from := make([]string, 0, len(CancellableFrom()))
	for _, st := range CancellableFrom() {
		from = append(from, string(st))
	}
	swapped, err := s.store.TransitionStatus(ctx, id, from, string(StatusCancelled))
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("%w: status is %s", ErrInvalidTransition, camp.Status)
	}
	_ = s.pause.Clear(ctx, id)

	s.rec.Record(activity.Event{
		OwnerID:    ownerID,
		Type:       activity.CampaignCancelled,
		Status:     activity.StatusInfo,
		Title:      fmt.Sprintf("Campaign %q cancelled", camp.Name),
		CampaignID: &id,
	})
	return nil
}

// StartDue is the sweep entry point that promotes scheduled campaigns
// whose time has come. A disconnected channel leaves the campaign
// scheduled; the next sweep retries.
func (s *Service) StartDue(ctx context.Context, now time.Time) error {
	ids, err := s.store.ListDueScheduled(ctx, now)
	if err != nil {
		return err
	}
	log := logx.Named("campaign")
	for _, id := range ids {
		camp, err := s.store.GetCampaign(ctx, id)
		if err != nil {
			log.Errorw("due_campaign_load_error", "campaign_id", id, "error", err)
			continue
		}
		connected, err := s.store.ChannelConnected(ctx, camp.ChannelID)
		if err != nil || !connected {
			log.Warnw("due_campaign_channel_down", "campaign_id", id)
			continue
		}
		swapped, err := s.store.TransitionStatus(ctx, id,
			[]string{string(StatusScheduled)}, string(StatusRunning))
		if err != nil || !swapped {
			continue
		}
		s.rec.Record(activity.Event{
			OwnerID:    camp.OwnerID,
			Type:       activity.CampaignStarted,
			Status:     activity.StatusInfo,
			Title:      fmt.Sprintf("Campaign %q started on schedule", camp.Name),
			CampaignID: &camp.ID,
			ChannelID:  &camp.ChannelID,
		})
		if err := s.publishJob(ctx, id, false); err != nil {
			log.Errorw("due_campaign_publish_error", "campaign_id", id, "error", err)
		}
	}
	return nil
}

// RequeueIdle re-publishes dispatch jobs for running campaigns that
// still hold pending records, recovering work idled by business-hours
// gating or a lost continuation. Paused campaigns are skipped; jobs are
// idempotent so an occasional duplicate is harmless.
func (s *Service) RequeueIdle(ctx context.Context) error {
	ids, err := s.store.ListRunningWithPending(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if s.pause.IsPaused(ctx, id) {
			continue
		}
		if err := s.publishJob(ctx, id, true); err != nil {
			logx.Named("campaign").Errorw("requeue_publish_error", "campaign_id", id, "error", err)
		}
	}
	return nil
}

// Preview renders the campaign's content for one contact without
// sending anything.
func (s *Service) Preview(ctx context.Context, ownerID, campaignID, contactID int64) (string, error) {
	camp, err := s.owned(ctx, ownerID, campaignID)
	if err != nil {
		return "", err
	}
	contact, err := s.store.GetContact(ctx, ownerID, contactID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("contact %d: %w", contactID, ErrNotFound)
		}
		return "", err
	}

	var vars map[string]string
	if camp.Variables != "" {
		_ = json.Unmarshal([]byte(camp.Variables), &vars)
	}
	merged := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		merged[k] = v
	}
	merged["nome"] = contact.Name
	merged["telefone"] = contact.Phone
	return spintex.Render(camp.Content, merged), nil
}

func (s *Service) Get(ctx context.Context, ownerID, id int64) (Details, error) {
	camp, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return Details{}, err
	}
	st, err := s.store.GetCampaignStats(ctx, id)
	if err != nil {
		return Details{}, err
	}
	return toDetails(camp, st), nil
}

func (s *Service) List(ctx context.Context, ownerID int64, limit, offset int) ([]ListItem, error) {
	rows, stats, err := s.store.ListCampaigns(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]ListItem, 0, len(rows))
	for i, r := range rows {
		item := ListItem{
			ID:        r.ID,
			Name:      r.Name,
			Status:    Status(r.Status),
			CreatedAt: r.CreatedAt,
			Stats:     toStats(stats[i]),
		}
		if r.ScheduledAt.Valid {
			t := r.ScheduledAt.Time
			item.ScheduledAt = &t
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, ownerID, id int64) (store.CampaignRow, error) {
	camp, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.CampaignRow{}, ErrNotFound
		}
		return store.CampaignRow{}, err
	}
	if camp.OwnerID != ownerID {
		return store.CampaignRow{}, ErrNotFound
	}
	return camp, nil
}

func (s *Service) publishJob(ctx context.Context, id int64, resumed bool) error {
	body, err := json.Marshal(DispatchJob{CampaignID: id, Resumed: resumed})
	if err != nil {
		return err
	}
	if err := s.pub.PublishJSON(ctx, body); err != nil {
		return fmt.Errorf("publish dispatch job: %w", err)
	}
	metrics.PublishedJobsTotal.Inc()
	return nil
}

func toStats(st store.CampaignStats) Stats {
	return Stats{Total: st.Total, Pending: st.Pending, Sent: st.Sent, Failed: st.Failed}
}

func toDetails(c store.CampaignRow, st store.CampaignStats) Details {
	d := Details{
		ID:          c.ID,
		Name:        c.Name,
		ChannelID:   c.ChannelID,
		Content:     c.Content,
		Status:      Status(c.Status),
		SendDelayMs: c.SendDelayMs,
		MaxAttempts: c.MaxAttempts,
		CreatedAt:   c.CreatedAt,
		Stats:       toStats(st),
	}
	if c.ScheduledAt.Valid {
		t := c.ScheduledAt.Time
		d.ScheduledAt = &t
	}
	if c.StartedAt.Valid {
		t := c.StartedAt.Time
		d.StartedAt = &t
	}
	if c.CompletedAt.Valid {
		t := c.CompletedAt.Time
		d.CompletedAt = &t
	}
	return d
}
