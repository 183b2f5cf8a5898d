package campaign

import "github.com/dmcampos/zapblast/internal/spintex"

// Kind tags the message payload variants that share one render path.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindButton Kind = "button"
	KindList   Kind = "list"
)

// Payload is the tagged union for a campaign message. Each kind uses
// only its own fields; rendering touches the textual fields only, never
// media references.
type Payload struct {
	Kind Kind `json:"kind"`

	// text
	Body string `json:"body,omitempty"`

	// image
	MediaURL string `json:"media_url,omitempty"`
	Caption  string `json:"caption,omitempty"`

	// button
	ButtonText string   `json:"button_text,omitempty"`
	Buttons    []string `json:"buttons,omitempty"`

	// list
	ListTitle string       `json:"list_title,omitempty"`
	Sections  []ListOption `json:"sections,omitempty"`
}

type ListOption struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// AuditText is the primary rendered text captured on the delivery
// record for audit.
func (p Payload) AuditText() string {
	switch p.Kind {
	case KindImage:
		return p.Caption
	case KindButton:
		return p.ButtonText
	case KindList:
		return p.ListTitle
	default:
		return p.Body
	}
}

// TextFields returns the renderable text of the payload, used for
// variable validation before a campaign is created.
func (p Payload) TextFields() []string {
	switch p.Kind {
	case KindImage:
		return []string{p.Caption}
	case KindButton:
		return append([]string{p.ButtonText}, p.Buttons...)
	case KindList:
		out := []string{p.ListTitle}
		for _, s := range p.Sections {
			out = append(out, s.Title, s.Description)
		}
		return out
	default:
		return []string{p.Body}
	}
}

// Render applies spintex rendering to every textual field and returns a
// copy. Media URLs pass through untouched.
func (p Payload) Render(vars map[string]string) Payload {
	out := p
	switch p.Kind {
	case KindImage:
		out.Caption = spintex.Render(p.Caption, vars)
	case KindButton:
		out.ButtonText = spintex.Render(p.ButtonText, vars)
		out.Buttons = make([]string, len(p.Buttons))
		for i, b := range p.Buttons {
			out.Buttons[i] = spintex.Render(b, vars)
		}
	case KindList:
		out.ListTitle = spintex.Render(p.ListTitle, vars)
		out.Sections = make([]ListOption, len(p.Sections))
		for i, s := range p.Sections {
			out.Sections[i] = ListOption{
				Title:       spintex.Render(s.Title, vars),
				Description: spintex.Render(s.Description, vars),
			}
		}
	default:
		out.Body = spintex.Render(p.Body, vars)
	}
	return out
}
