package activity

import "time"

type Type string

const (
	CampaignCreated   Type = "campaign_created"
	CampaignStarted   Type = "campaign_started"
	CampaignPaused    Type = "campaign_paused"
	CampaignResumed   Type = "campaign_resumed"
	CampaignCompleted Type = "campaign_completed"
	CampaignFailed    Type = "campaign_failed"
	CampaignCancelled Type = "campaign_cancelled"
	MessageSent       Type = "message_sent"
	MessageFailed     Type = "message_failed"
)

type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusError   EventStatus = "error"
	StatusInfo    EventStatus = "info"
)

// Event is one discrete activity record emitted by the engine. The id
// is assigned by the recorder; durable inserts are keyed on it so a
// reprocessed dead letter cannot duplicate a row.
type Event struct {
	ID          string      `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Type        Type        `json:"type"`
	Status      EventStatus `json:"status"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	CampaignID  *int64      `json:"campaign_id,omitempty"`
	ChannelID   *int64      `json:"channel_id,omitempty"`
	ContactID   *int64      `json:"contact_id,omitempty"`
	TemplateID  *int64      `json:"template_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Notification is the feed entry collaborators poll for, carrying a
// read/unread flag.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
