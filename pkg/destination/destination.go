// Package destination manages SMTP routes and resolves the one used for
// forwarding.
package destination

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/model"
)

var (
	// ErrNotFound is returned when a config id does not exist.
	ErrNotFound = errors.New(errors.CodeNotFound, "email config not found")
	// ErrNoDefault is returned when no config is marked default.
	ErrNoDefault = errors.New(errors.CodeNoDefaultRoute, "no default email destination configured")
)

// Store persists email configs. SetDefault must clear the previous default
// and set the new one in a single atomic step.
type Store interface {
	Create(ctx context.Context, c *model.EmailConfig) error
	Update(ctx context.Context, c model.EmailConfig) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (model.EmailConfig, error)
	List(ctx context.Context) ([]model.EmailConfig, error)
	GetDefault(ctx context.Context) (model.EmailConfig, error)
	SetDefault(ctx context.Context, id int64) error
}

// Preset holds well-known SMTP settings for a provider.
type Preset struct {
	Host      string
	Port      int
	EnableTLS bool
	EnableSSL bool
}

var presets = map[string]Preset{
	"gmail":   {Host: "smtp.gmail.com", Port: 587, EnableTLS: true},
	"outlook": {Host: "smtp.office365.com", Port: 587, EnableTLS: true},
	"qq":      {Host: "smtp.qq.com", Port: 465, EnableSSL: true},
	"163":     {Host: "smtp.163.com", Port: 465, EnableSSL: true},
}

// LookupPreset returns the preset for provider.
func LookupPreset(provider string) (Preset, bool) {
	p, ok := presets[strings.ToLower(provider)]
	return p, ok
}

// ApplyPreset fills empty host/port fields from the provider preset.
func ApplyPreset(c *model.EmailConfig) {
	p, ok := LookupPreset(c.Provider)
	if !ok {
		return
	}
	if c.SMTPHost == "" {
		c.SMTPHost = p.Host
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = p.Port
		c.EnableTLS = p.EnableTLS
		c.EnableSSL = p.EnableSSL
	}
}

var validate = validator.New()

// Validate checks the fields required to open an SMTP session.
func Validate(c model.EmailConfig) error {
	invalid := errors.New(errors.CodeInvalidDestination, "invalid email config")

	if err := validate.Var(c.SMTPHost, "required,hostname|ip"); err != nil {
		return invalid.WithDetails("smtp host %q", c.SMTPHost)
	}
	if err := validate.Var(c.SMTPPort, "required,min=1,max=65535"); err != nil {
		return invalid.WithDetails("smtp port %d", c.SMTPPort)
	}
	if err := validate.Var(c.SenderEmail, "required,email"); err != nil {
		return invalid.WithDetails("sender email %q", c.SenderEmail)
	}
	if err := validate.Var(c.ReceiverEmail, "required,email"); err != nil {
		return invalid.WithDetails("receiver email %q", c.ReceiverEmail)
	}
	if c.EnableTLS && c.EnableSSL {
		return invalid.WithDetails("enableTls and enableSsl are mutually exclusive")
	}
	return nil
}

// Resolver picks the destination for a matched rule.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the default destination. Rules do not carry overrides yet.
func (r *Resolver) Resolve(ctx context.Context, _ model.ForwardRule) (model.Destination, error) {
	cfg, err := r.store.GetDefault(ctx)
	if err != nil {
		if errors.HasCode(err, errors.CodeNoDefaultRoute) {
			return model.Destination{}, err
		}
		return model.Destination{}, fmt.Errorf("resolve default destination: %w", err)
	}
	return cfg.Destination(), nil
}
