package campaign

import "time"

type CreateCampaignReq struct {
	Name          string            `json:"name"       binding:"required"`
	ChannelID     int64             `json:"channel_id" binding:"required"`
	TemplateID    *int64            `json:"template_id,omitempty"`
	Content       string            `json:"content"`
	Payload       *Payload          `json:"payload,omitempty"`
	ScheduledAt   *time.Time        `json:"scheduled_at,omitempty"`
	SendDelayMs   int               `json:"send_delay_ms"`
	MaxAttempts   int               `json:"max_attempts"`
	BusinessHours bool              `json:"business_hours"`
	HoursStart    string            `json:"hours_start,omitempty"` // "09:00"
	HoursEnd      string            `json:"hours_end,omitempty"`   // "18:00"
	ContactIDs    []int64           `json:"contact_ids"`
	GroupIDs      []int64           `json:"group_ids"`
	Variables     map[string]string `json:"variables,omitempty"`
}

type CreateCampaignResp struct {
	ID       int64  `json:"id"`
	Status   Status `json:"status"`
	Audience int    `json:"audience"`
}

// DispatchJob is the work-queue message that drives one batch of the
// dispatch loop. The loop re-publishes it with Resumed=true while
// pending delivery records remain.
type DispatchJob struct {
	CampaignID int64 `json:"campaign_id"`
	Resumed    bool  `json:"resumed"`
}

type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type ListItem struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Stats       Stats      `json:"stats"`
}

type Details struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	ChannelID   int64      `json:"channel_id"`
	Content     string     `json:"content"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SendDelayMs int        `json:"send_delay_ms"`
	MaxAttempts int        `json:"max_attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Stats       Stats      `json:"stats"`
}
