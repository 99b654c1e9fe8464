// Package queue feeds inbound messages to a pool of workers. Sources may be
// an in-process channel, a Redis list or a NATS subject.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/smsforward/pkg/model"
)

var (
	// ErrQueueFull is returned when a bounded source has no room left.
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when operating on a closed source or a
	// stopped dispatcher.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrInvalidMessage is returned for payloads that do not decode to a message.
	ErrInvalidMessage = errors.New("invalid message")
)

// Envelope is one queued message.
type Envelope struct {
	Message  model.Message `json:"message"`
	QueuedAt time.Time     `json:"queuedAt"`
	Source   string        `json:"source,omitempty"`
}

// Handler processes one envelope.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Source delivers envelopes to the dispatcher.
type Source interface {
	Name() string
	// Receive blocks until an envelope arrives, ctx ends, or the source is
	// closed (ErrQueueClosed).
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// Publisher puts envelopes onto a source.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Encode serializes env for an external transport.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses an envelope. A bare message object is accepted as well.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.Message.ID == 0 && env.Message.Content == "" && env.Message.Sender == "" {
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if msg.ID == 0 && msg.Content == "" && msg.Sender == "" {
			return Envelope{}, ErrInvalidMessage
		}
		env = Envelope{Message: msg}
	}
	return env, nil
}
