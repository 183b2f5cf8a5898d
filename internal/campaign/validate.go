package campaign

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dmcampos/zapblast/internal/spintex"
)

var (
	ErrEmptyAudienceSelection = errors.New("campaign needs at least one contact or group")
	ErrNoContent              = errors.New("campaign needs content or a template reference")
	ErrScheduleNotFuture      = errors.New("scheduled_at must be in the future")
	ErrBadHoursWindow         = errors.New("business hours window must be HH:MM with start before end")
	ErrMissingVariables       = errors.New("template variables missing values")
)

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

const (
	DefaultSendDelayMs = 1000
	DefaultMaxAttempts = 3
	MaxSendDelayMs     = 5 * 60 * 1000
	MaxAttemptsCeiling = 10
)

// ValidateCreate rejects a malformed campaign request before any state
// is written. It also normalizes defaults in place.
func ValidateCreate(req *CreateCampaignReq, now time.Time) error {
	if len(req.ContactIDs) == 0 && len(req.GroupIDs) == 0 {
		return ErrEmptyAudienceSelection
	}
	if req.Content == "" && req.TemplateID == nil && req.Payload == nil {
		return ErrNoContent
	}
	if req.ScheduledAt != nil && !req.ScheduledAt.After(now) {
		return ErrScheduleNotFuture
	}

	if req.SendDelayMs <= 0 {
		req.SendDelayMs = DefaultSendDelayMs
	}
	if req.SendDelayMs > MaxSendDelayMs {
		req.SendDelayMs = MaxSendDelayMs
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = DefaultMaxAttempts
	}
	if req.MaxAttempts > MaxAttemptsCeiling {
		req.MaxAttempts = MaxAttemptsCeiling
	}

	if req.BusinessHours {
		if !hhmmPattern.MatchString(req.HoursStart) || !hhmmPattern.MatchString(req.HoursEnd) {
			return ErrBadHoursWindow
		}
		if req.HoursStart >= req.HoursEnd {
			return ErrBadHoursWindow
		}
	}

	if req.Content != "" {
		if missing := missingVariables(req.Content, req.Variables); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrMissingVariables, missing)
		}
	}
	return nil
}

// ContactVariables are filled per delivery record from the contact
// itself, so their absence from the request is not an error.
var ContactVariables = map[string]bool{
	"nome":     true,
	"telefone": true,
}

func missingVariables(content string, vars map[string]string) []string {
	var missing []string
	for _, name := range spintex.ValidateVariables(content, vars) {
		if ContactVariables[name] {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

// MissingContentVariables checks every text the campaign will actually
// render: the payload's text fields for rich kinds, otherwise the
// effective body. Content is passed separately because a template
// snapshot resolves after ValidateCreate ran.
func MissingContentVariables(req *CreateCampaignReq, content string) []string {
	texts := []string{content}
	if req.Payload != nil {
		texts = req.Payload.TextFields()
	}
	seen := make(map[string]bool)
	var missing []string
	for _, t := range texts {
		for _, name := range missingVariables(t, req.Variables) {
			if seen[name] {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}
