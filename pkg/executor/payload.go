package executor

import (
	"fmt"
	"time"

	"github.com/cbroglie/mustache"

	"github.com/kart-io/smsforward/pkg/model"
)

// Default templates. Triple braces keep content unescaped in plain-text mail.
const (
	DefaultSubjectTemplate = "[SMS] {{{sender}}}{{#ruleName}} ({{{ruleName}}}){{/ruleName}}"
	DefaultBodyTemplate    = `From: {{{sender}}}
Received: {{{receivedAt}}}
{{#ruleName}}Rule: {{{ruleName}}}
{{/ruleName}}
{{{content}}}
`
)

// Payload is a rendered email.
type Payload struct {
	Subject string
	Body    string
}

// PayloadBuilder renders emails from message and rule fields. Rendering is
// a pure function of its inputs.
type PayloadBuilder struct {
	subject *mustache.Template
	body    *mustache.Template
}

// NewPayloadBuilder parses the templates. Empty strings select the defaults.
func NewPayloadBuilder(subjectTpl, bodyTpl string) (*PayloadBuilder, error) {
	if subjectTpl == "" {
		subjectTpl = DefaultSubjectTemplate
	}
	if bodyTpl == "" {
		bodyTpl = DefaultBodyTemplate
	}
	subject, err := mustache.ParseString(subjectTpl)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	body, err := mustache.ParseString(bodyTpl)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return &PayloadBuilder{subject: subject, body: body}, nil
}

// MustPayloadBuilder is NewPayloadBuilder for the built-in templates.
func MustPayloadBuilder() *PayloadBuilder {
	b, err := NewPayloadBuilder("", "")
	if err != nil {
		panic(err)
	}
	return b
}

// Build renders the subject and body.
func (b *PayloadBuilder) Build(msg model.Message, rule model.ForwardRule) (Payload, error) {
	vars := map[string]any{
		"id":         msg.ID,
		"sender":     msg.Sender,
		"content":    msg.Content,
		"receivedAt": msg.ReceivedAt.Format(time.RFC3339),
		"ruleName":   rule.Name,
		"ruleId":     rule.ID,
		"ruleType":   string(rule.RuleType),
	}

	subject, err := b.subject.Render(vars)
	if err != nil {
		return Payload{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := b.body.Render(vars)
	if err != nil {
		return Payload{}, fmt.Errorf("render body: %w", err)
	}
	return Payload{Subject: subject, Body: body}, nil
}
