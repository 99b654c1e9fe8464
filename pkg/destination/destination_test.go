package destination

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/model"
)

func sampleConfig(isDefault bool) model.EmailConfig {
	return model.EmailConfig{
		Provider:       "gmail",
		SMTPHost:       "smtp.gmail.com",
		SMTPPort:       587,
		SenderEmail:    "relay@example.com",
		SenderPassword: "secret",
		ReceiverEmail:  "me@example.com",
		EnableTLS:      true,
		IsDefault:      isDefault,
	}
}

func countDefaults(t *testing.T, s Store) int {
	t.Helper()
	all, err := s.List(context.Background())
	require.NoError(t, err)
	n := 0
	for _, c := range all {
		if c.IsDefault {
			n++
		}
	}
	return n
}

func TestMemoryStore_SingleDefault(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, b := sampleConfig(true), sampleConfig(true)
	require.NoError(t, s.Create(ctx, &a))
	require.NoError(t, s.Create(ctx, &b))
	assert.Equal(t, 1, countDefaults(t, s))

	def, err := s.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)

	require.NoError(t, s.SetDefault(ctx, a.ID))
	def, _ = s.GetDefault(ctx)
	assert.Equal(t, a.ID, def.ID)
	assert.Equal(t, 1, countDefaults(t, s))

	assert.ErrorIs(t, s.SetDefault(ctx, 99), ErrNotFound)
	assert.Equal(t, 1, countDefaults(t, s), "failed SetDefault must not clear the current default")
}

func TestMemoryStore_ConcurrentSetDefault(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := make([]int64, 0, 8)
	for i := 0; i < 8; i++ {
		c := sampleConfig(false)
		require.NoError(t, s.Create(ctx, &c))
		ids = append(ids, c.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = s.SetDefault(ctx, id)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, countDefaults(t, s))
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := NewResolver(s)

	_, err := r.Resolve(ctx, model.ForwardRule{})
	assert.ErrorIs(t, err, ErrNoDefault)
	assert.True(t, errors.HasCode(err, errors.CodeNoDefaultRoute))

	c := sampleConfig(true)
	require.NoError(t, s.Create(ctx, &c))
	d, err := r.Resolve(ctx, model.ForwardRule{})
	require.NoError(t, err)
	assert.Equal(t, c.ID, d.ConfigID)
	assert.Equal(t, "me@example.com", d.ReceiverEmail)
}

func TestValidate(t *testing.T) {
	ok := sampleConfig(false)
	assert.NoError(t, Validate(ok))

	tests := map[string]func(c *model.EmailConfig){
		"missing host":   func(c *model.EmailConfig) { c.SMTPHost = "" },
		"bad port":       func(c *model.EmailConfig) { c.SMTPPort = 70000 },
		"bad sender":     func(c *model.EmailConfig) { c.SenderEmail = "nope" },
		"bad receiver":   func(c *model.EmailConfig) { c.ReceiverEmail = "" },
		"tls and ssl on": func(c *model.EmailConfig) { c.EnableSSL = true },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := sampleConfig(false)
			mutate(&c)
			err := Validate(c)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeInvalidDestination))
		})
	}
}

func TestApplyPreset(t *testing.T) {
	c := model.EmailConfig{Provider: "QQ"}
	ApplyPreset(&c)
	assert.Equal(t, "smtp.qq.com", c.SMTPHost)
	assert.Equal(t, 465, c.SMTPPort)
	assert.True(t, c.EnableSSL)

	custom := model.EmailConfig{Provider: "custom", SMTPHost: "mail.local", SMTPPort: 25}
	ApplyPreset(&custom)
	assert.Equal(t, "mail.local", custom.SMTPHost)
}
