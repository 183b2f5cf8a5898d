// Package transport is the client side of the delegated send contract:
// the engine hands the gateway a destination and rendered content and
// gets back success or a structured failure. The gateway's own wire
// protocol is not our business.
package transport

import (
	"context"
	"fmt"

	"github.com/dmcampos/zapblast/internal/campaign"
)

// Message is one outbound send request.
type Message struct {
	To      string           `json:"to"`
	Payload campaign.Payload `json:"payload"`
}

// Sender attempts delivery of one message. Implementations must honor
// ctx cancellation; the dispatch loop bounds every attempt with a
// timeout.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendError is a structured per-message failure from the gateway.
// Retryable failures leave the delivery record pending for a later
// batch while the attempt budget lasts; non-retryable ones fail the
// record immediately.
type SendError struct {
	Code      int
	Body      string
	Retryable bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("gateway send failed: status %d: %s", e.Code, e.Body)
}
