package forwarder

import "github.com/kart-io/smsforward/pkg/model"

// SkipReason explains why Process did not execute a message.
type SkipReason string

const (
	// SkipInProgress means another worker holds the message's lease.
	SkipInProgress SkipReason = "in_progress"
	// SkipAlreadyHandled means the message already reached FORWARDED or IGNORED.
	SkipAlreadyHandled SkipReason = "already_handled"
)

// Outcome is the result of processing one message.
type Outcome struct {
	MessageID int64 `json:"messageId"`
	// Status is the committed terminal status, or the stored status when
	// the message was skipped.
	Status     model.ForwardStatus `json:"status"`
	Skipped    bool                `json:"skipped"`
	SkipReason SkipReason          `json:"skipReason,omitempty"`
	// Record is the committed record; nil when skipped.
	Record *model.ForwardRecord `json:"record,omitempty"`
}

func skipped(msg model.Message, reason SkipReason) Outcome {
	return Outcome{MessageID: msg.ID, Status: msg.ForwardStatus, Skipped: true, SkipReason: reason}
}
