// Package executor builds forwarded emails and delivers them through an
// EmailSender with per-attempt timeouts, retry and failure classification.
package executor

import (
	"context"
	"fmt"

	"github.com/kart-io/smsforward/pkg/model"
)

// EmailSender delivers one email to a destination.
type EmailSender interface {
	Send(ctx context.Context, dest model.Destination, subject, body string) error
}

// SenderFunc adapts a function to EmailSender.
type SenderFunc func(ctx context.Context, dest model.Destination, subject, body string) error

func (f SenderFunc) Send(ctx context.Context, dest model.Destination, subject, body string) error {
	return f(ctx, dest, subject, body)
}

// SendError is a sender-reported failure with a known kind.
type SendError struct {
	Kind    model.FailureCategory
	Message string
	Cause   error
}

// NewSendError creates a SendError.
func NewSendError(kind model.FailureCategory, message string, cause error) *SendError {
	return &SendError{Kind: kind, Message: message, Cause: cause}
}

func (e *SendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SendError) Unwrap() error { return e.Cause }
