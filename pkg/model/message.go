package model

import "time"

// Message is an inbound short message.
type Message struct {
	ID            int64         `json:"id"`
	Sender        string        `json:"sender"`
	Content       string        `json:"content"`
	ReceivedAt    time.Time     `json:"receivedAt"`
	ForwardStatus ForwardStatus `json:"forwardStatus"`
	ForwardedAt   *time.Time    `json:"forwardedAt,omitempty"`
}

// ForwardRule is a configured predicate plus priority.
type ForwardRule struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Enabled        bool      `json:"enabled"`
	RuleType       RuleType  `json:"ruleType"`
	MatchType      MatchType `json:"matchType"`
	Keywords       []string  `json:"keywords"`
	SenderPatterns []string  `json:"senderPatterns"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r ForwardRule) Clone() ForwardRule {
	c := r
	c.Keywords = append([]string(nil), r.Keywords...)
	c.SenderPatterns = append([]string(nil), r.SenderPatterns...)
	return c
}

// EmailConfig is a stored SMTP route. At most one has IsDefault set.
type EmailConfig struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	SMTPHost       string    `json:"smtpHost"`
	SMTPPort       int       `json:"smtpPort"`
	SenderEmail    string    `json:"senderEmail"`
	SenderPassword string    `json:"-"`
	ReceiverEmail  string    `json:"receiverEmail"`
	EnableTLS      bool      `json:"enableTls"`
	EnableSSL      bool      `json:"enableSsl"`
	IsDefault      bool      `json:"isDefault"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Destination is the resolved delivery target handed to an email sender.
type Destination struct {
	ConfigID       int64
	Provider       string
	SMTPHost       string
	SMTPPort       int
	SenderEmail    string
	SenderPassword string
	ReceiverEmail  string
	EnableTLS      bool
	EnableSSL      bool
}

// Destination derives the delivery target from the stored config.
func (c EmailConfig) Destination() Destination {
	return Destination{
		ConfigID:       c.ID,
		Provider:       c.Provider,
		SMTPHost:       c.SMTPHost,
		SMTPPort:       c.SMTPPort,
		SenderEmail:    c.SenderEmail,
		SenderPassword: c.SenderPassword,
		ReceiverEmail:  c.ReceiverEmail,
		EnableTLS:      c.EnableTLS,
		EnableSSL:      c.EnableSSL,
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	c.ForwardedAt = clonePtr(m.ForwardedAt)
	return c
}
