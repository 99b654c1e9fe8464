package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kart-io/smsforward/pkg/logger"
)

// NATSSource consumes envelopes published on a NATS subject. With a queue
// group set, each message goes to one member of the group.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
	msgs    chan *nats.Msg
	closed  chan struct{}
	once    sync.Once
	logger  logger.Logger
	now     func() time.Time
}

// NewNATSSource subscribes to subject. buffer bounds the messages held
// between the NATS client and the dispatcher.
func NewNATSSource(conn *nats.Conn, subject, queueGroup string, buffer int, log logger.Logger) (*NATSSource, error) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &NATSSource{
		conn:    conn,
		subject: subject,
		msgs:    make(chan *nats.Msg, buffer),
		closed:  make(chan struct{}),
		logger:  logger.OrDiscard(log),
		now:     time.Now,
	}

	var err error
	if queueGroup != "" {
		s.sub, err = conn.ChanQueueSubscribe(subject, queueGroup, s.msgs)
	} else {
		s.sub, err = conn.ChanSubscribe(subject, s.msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.logger.Info("subscribed to NATS subject", "subject", subject, "queueGroup", queueGroup)
	return s, nil
}

func (s *NATSSource) Name() string { return "nats" }

func (s *NATSSource) Publish(_ context.Context, env Envelope) error {
	if env.QueuedAt.IsZero() {
		env.QueuedAt = s.now()
	}
	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}
	return nil
}

func (s *NATSSource) Receive(ctx context.Context) (Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-s.closed:
			return Envelope{}, ErrQueueClosed
		case msg := <-s.msgs:
			env, err := Decode(msg.Data)
			if err != nil {
				s.logger.Error("dropping undecodable message", "subject", msg.Subject, "error", err)
				continue
			}
			if env.QueuedAt.IsZero() {
				env.QueuedAt = s.now()
			}
			env.Source = s.Name()
			return env, nil
		}
	}
}

// Close unsubscribes. The connection belongs to the caller.
func (s *NATSSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.sub.Unsubscribe()
	})
	return err
}
