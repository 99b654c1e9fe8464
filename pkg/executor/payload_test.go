package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/model"
)

func TestPayloadBuilder_Default(t *testing.T) {
	b := MustPayloadBuilder()
	msg := testMessage()
	msg.Content = "<b>R&D</b> code 1234"

	p, err := b.Build(msg, testRule())
	require.NoError(t, err)
	assert.Equal(t, "[SMS] 10690000 (Codes)", p.Subject)
	assert.Contains(t, p.Body, "From: 10690000")
	assert.Contains(t, p.Body, "Received: 2026-03-01T08:30:00Z")
	assert.Contains(t, p.Body, "Rule: Codes")
	assert.Contains(t, p.Body, "<b>R&D</b> code 1234", "content must not be HTML-escaped")

	again, err := b.Build(msg, testRule())
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestPayloadBuilder_NoRuleName(t *testing.T) {
	p, err := MustPayloadBuilder().Build(testMessage(), model.ForwardRule{})
	require.NoError(t, err)
	assert.Equal(t, "[SMS] 10690000", p.Subject)
	assert.NotContains(t, p.Body, "Rule:")
}

func TestPayloadBuilder_Custom(t *testing.T) {
	b, err := NewPayloadBuilder("{{{sender}}} #{{id}}", "{{{content}}}")
	require.NoError(t, err)
	p, err := b.Build(testMessage(), testRule())
	require.NoError(t, err)
	assert.Equal(t, "10690000 #42", p.Subject)
	assert.Equal(t, "Your verification code is 123456", p.Body)

	_, err = NewPayloadBuilder("{{#open}}", "")
	assert.Error(t, err)
}
