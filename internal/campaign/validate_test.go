package campaign

import (
	"errors"
	"testing"
	"time"
)

func baseReq() CreateCampaignReq {
	return CreateCampaignReq{
		Name:       "Promo",
		ChannelID:  7,
		Content:    "Ola {{nome}}",
		ContactIDs: []int64{1},
	}
}

func TestValidateCreate_Defaults(t *testing.T) {
	req := baseReq()
	if err := ValidateCreate(&req, time.Now()); err != nil {
		t.Fatal(err)
	}
	if req.SendDelayMs != DefaultSendDelayMs {
		t.Fatalf("send_delay_ms=%d", req.SendDelayMs)
	}
	if req.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("max_attempts=%d", req.MaxAttempts)
	}
}

func TestValidateCreate_Caps(t *testing.T) {
	req := baseReq()
	req.SendDelayMs = 10 * 60 * 1000
	req.MaxAttempts = 50
	if err := ValidateCreate(&req, time.Now()); err != nil {
		t.Fatal(err)
	}
	if req.SendDelayMs != MaxSendDelayMs {
		t.Fatalf("send_delay_ms=%d", req.SendDelayMs)
	}
	if req.MaxAttempts != MaxAttemptsCeiling {
		t.Fatalf("max_attempts=%d", req.MaxAttempts)
	}
}

func TestValidateCreate_EmptyAudience(t *testing.T) {
	req := baseReq()
	req.ContactIDs = nil
	req.GroupIDs = nil
	if err := ValidateCreate(&req, time.Now()); !errors.Is(err, ErrEmptyAudienceSelection) {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateCreate_NoContent(t *testing.T) {
	req := baseReq()
	req.Content = ""
	if err := ValidateCreate(&req, time.Now()); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err=%v", err)
	}

	// a template reference alone is enough
	tid := int64(3)
	req.TemplateID = &tid
	if err := ValidateCreate(&req, time.Now()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateCreate_ScheduleMustBeFuture(t *testing.T) {
	now := time.Now()
	req := baseReq()
	past := now.Add(-time.Minute)
	req.ScheduledAt = &past
	if err := ValidateCreate(&req, now); !errors.Is(err, ErrScheduleNotFuture) {
		t.Fatalf("err=%v", err)
	}

	future := now.Add(time.Hour)
	req.ScheduledAt = &future
	if err := ValidateCreate(&req, now); err != nil {
		t.Fatal(err)
	}
}

func TestValidateCreate_HoursWindow(t *testing.T) {
	cases := []struct {
		start, end string
		ok         bool
	}{
		{"09:00", "18:00", true},
		{"00:00", "23:59", true},
		{"18:00", "09:00", false},
		{"09:00", "09:00", false},
		{"9:00", "18:00", false},
		{"09:60", "18:00", false},
		{"", "", false},
	}
	for _, c := range cases {
		req := baseReq()
		req.BusinessHours = true
		req.HoursStart = c.start
		req.HoursEnd = c.end
		err := ValidateCreate(&req, time.Now())
		if c.ok && err != nil {
			t.Errorf("%s-%s: unexpected error %v", c.start, c.end, err)
		}
		if !c.ok && !errors.Is(err, ErrBadHoursWindow) {
			t.Errorf("%s-%s: err=%v", c.start, c.end, err)
		}
	}
}

func TestValidateCreate_MissingVariables(t *testing.T) {
	req := baseReq()
	req.Content = "Seu codigo e {{codigo}}"
	if err := ValidateCreate(&req, time.Now()); !errors.Is(err, ErrMissingVariables) {
		t.Fatalf("err=%v", err)
	}

	req.Variables = map[string]string{"codigo": "1234"}
	if err := ValidateCreate(&req, time.Now()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateCreate_ContactVariablesAreImplicit(t *testing.T) {
	req := baseReq()
	req.Content = "Ola {{nome}}, confirmando o {{telefone}}"
	if err := ValidateCreate(&req, time.Now()); err != nil {
		t.Fatalf("contact variables must not require values: %v", err)
	}
}
