package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmcampos/zapblast/internal/activity"
	"github.com/dmcampos/zapblast/internal/audience"
	"github.com/dmcampos/zapblast/internal/campaign"
	"github.com/dmcampos/zapblast/internal/spintex"
	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/pkg/logx"
)

// campaignAPI is the slice of the campaign service the handlers use,
// kept small so tests can fake it.
type campaignAPI interface {
	Create(ctx context.Context, ownerID int64, req campaign.CreateCampaignReq) (campaign.CreateCampaignResp, error)
	Start(ctx context.Context, ownerID, id int64) error
	Pause(ctx context.Context, ownerID, id int64) error
	Resume(ctx context.Context, ownerID, id int64) error
	Cancel(ctx context.Context, ownerID, id int64) error
	Get(ctx context.Context, ownerID, id int64) (campaign.Details, error)
	List(ctx context.Context, ownerID int64, limit, offset int) ([]campaign.ListItem, error)
	Preview(ctx context.Context, ownerID, campaignID, contactID int64) (string, error)
}

type activityAPI interface {
	Recent(ctx context.Context, ownerID int64, n int64) ([]activity.Event, error)
	Notifications(ctx context.Context, ownerID int64, n int64) ([]activity.Notification, int64, error)
	MarkNotificationsRead(ctx context.Context, ownerID int64) error
}

// activityLog reads the durable history, which outlives the capped
// recency cache.
type activityLog interface {
	ListActivities(ctx context.Context, ownerID int64, limit int) ([]store.ActivityRow, error)
}

type Handlers struct {
	Svc campaignAPI
	Act activityAPI
	Log activityLog
}

func NewHandlers(svc campaignAPI, act activityAPI, log activityLog) *Handlers {
	return &Handlers{Svc: svc, Act: act, Log: log}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// ownerID reads the authenticated owner forwarded by the (external)
// auth layer. Requests without it are rejected.
func ownerID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-Owner-ID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-Owner-ID"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handlers) CreateCampaign(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req campaign.CreateCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	resp, err := h.Svc.Create(ctx, owner, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Svc.List(ctx, owner, limit, offset)
	if err != nil {
		logx.L().Errorw("list_campaigns_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetCampaign(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Svc.Get(ctx, owner, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handlers) StartCampaign(c *gin.Context)  { h.transition(c, h.Svc.Start) }
func (h *Handlers) PauseCampaign(c *gin.Context)  { h.transition(c, h.Svc.Pause) }
func (h *Handlers) ResumeCampaign(c *gin.Context) { h.transition(c, h.Svc.Resume) }
func (h *Handlers) CancelCampaign(c *gin.Context) { h.transition(c, h.Svc.Cancel) }

func (h *Handlers) transition(c *gin.Context, op func(ctx context.Context, ownerID, id int64) error) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := op(ctx, owner, id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) PreviewCampaign(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	contactID, ok := pathID(c, "contact_id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rendered, err := h.Svc.Preview(ctx, owner, id, contactID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rendered": rendered})
}

type checkTemplateReq struct {
	Content   string            `json:"content" binding:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

func (h *Handlers) CheckTemplate(c *gin.Context) {
	var req checkTemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// up to this many variants are enumerated exhaustively; beyond it
	// the response carries a random sample instead
	const variantCeiling = 20
	variants, exhaustive := spintex.Enumerate(req.Content, req.Variables, variantCeiling)

	c.JSON(http.StatusOK, gin.H{
		"warnings":     spintex.CheckSyntax(req.Content),
		"variables":    spintex.ExtractVariables(req.Content),
		"missing":      spintex.ValidateVariables(req.Content, req.Variables),
		"combinations": spintex.Combinations(req.Content),
		"variants":     variants,
		"exhaustive":   exhaustive,
	})
}

func (h *Handlers) RecentActivity(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	n, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	events, err := h.Act.Recent(ctx, owner, n)
	if err != nil {
		logx.L().Errorw("recent_activity_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity error"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handlers) ActivityLog(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, err := h.Log.ListActivities(ctx, owner, limit)
	if err != nil {
		logx.L().Errorw("activity_log_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity error"})
		return
	}
	c.JSON(http.StatusOK, toEvents(rows))
}

func (h *Handlers) Notifications(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	n, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	feed, unread, err := h.Act.Notifications(ctx, owner, n)
	if err != nil {
		logx.L().Errorw("notifications_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notifications error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": unread, "notifications": feed})
}

func (h *Handlers) MarkNotificationsRead(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Act.MarkNotificationsRead(ctx, owner); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notifications error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func toEvents(rows []store.ActivityRow) []activity.Event {
	out := make([]activity.Event, 0, len(rows))
	for _, r := range rows {
		ev := activity.Event{
			ID:          r.ID,
			OwnerID:     r.OwnerID,
			Type:        activity.Type(r.Type),
			Status:      activity.EventStatus(r.Status),
			Title:       r.Title,
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
		}
		if r.CampaignID.Valid {
			v := r.CampaignID.Int64
			ev.CampaignID = &v
		}
		if r.ChannelID.Valid {
			v := r.ChannelID.Int64
			ev.ChannelID = &v
		}
		if r.ContactID.Valid {
			v := r.ContactID.Int64
			ev.ContactID = &v
		}
		if r.TemplateID.Valid {
			v := r.TemplateID.Int64
			ev.TemplateID = &v
		}
		out = append(out, ev)
	}
	return out
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, campaign.ErrChannelDisconnected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, campaign.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, campaign.ErrEmptyAudienceSelection),
		errors.Is(err, campaign.ErrNoContent),
		errors.Is(err, campaign.ErrScheduleNotFuture),
		errors.Is(err, campaign.ErrBadHoursWindow),
		errors.Is(err, campaign.ErrMissingVariables),
		errors.Is(err, audience.ErrEmptyAudience):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logx.L().Errorw("campaign_service_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
