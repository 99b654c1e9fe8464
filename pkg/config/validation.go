package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/logger"
)

// ValidationResult represents the result of configuration validation
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationWarning represents a validation warning
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator checks a Config. Struct tags are enforced through
// go-playground/validator; cross-field and semantic rules are checked here.
type Validator struct {
	strict   bool
	validate *validator.Validate
}

// NewValidator creates a configuration validator. In strict mode warnings
// are reported as errors.
func NewValidator(strict bool) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{strict: strict, validate: v}
}

// Validate validates a configuration
func (v *Validator) Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	v.validateTags(cfg, result)
	v.validateLogger(cfg, result)
	v.validateEngine(cfg, result)
	v.validateRetention(cfg, result)
	v.validateTemplates(cfg, result)
	v.validateStorage(cfg, result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) validateTags(cfg *Config, result *ValidationResult) {
	err := v.validate.Struct(cfg)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.addError(result, "", "INVALID_CONFIG", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		field := fieldPath(fe.Namespace())
		msg := fmt.Sprintf("%s failed %q validation", field, fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed %q validation (%s)", field, fe.Tag(), fe.Param())
		}
		v.addError(result, field, "INVALID_"+strings.ToUpper(fe.Tag()), msg)
	}
}

// validateLogger validates logger configuration
func (v *Validator) validateLogger(cfg *Config, result *ValidationResult) {
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		v.addError(result, "log.level", "INVALID_LEVEL", err.Error())
	}
}

func (v *Validator) validateEngine(cfg *Config, result *ValidationResult) {
	e := cfg.Engine
	if e.AttemptTimeout > 5*time.Minute {
		v.addWarning(result, "engine.attempt_timeout", "LONG_TIMEOUT", "attempt timeout is unusually long, consider reducing it")
	}
	if e.MaxAttempts > 5 {
		v.addWarning(result, "engine.max_attempts", "HIGH_RETRIES", "max_attempts is unusually high, consider reducing it")
	}
	if e.Workers > 64 {
		v.addWarning(result, "engine.workers", "HIGH_WORKERS", "worker count is unusually high")
	}
	if cycle := e.RetryCycle(); e.LeaseTTL > 0 && e.LeaseTTL <= cycle {
		v.addError(result, "engine.lease_ttl", "SHORT_LEASE",
			fmt.Sprintf("lease_ttl %s must exceed the longest retry cycle %s, or an expired lease lets a second worker send the same message", e.LeaseTTL, cycle))
	}
}

func (v *Validator) validateRetention(cfg *Config, result *ValidationResult) {
	if cfg.Retention.Schedule == "" {
		v.addWarning(result, "retention.schedule", "RETENTION_DISABLED", "no retention schedule; history grows without bound")
		return
	}
	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		v.addError(result, "retention.schedule", "INVALID_SCHEDULE", err.Error())
	}
}

func (v *Validator) validateTemplates(cfg *Config, result *ValidationResult) {
	if _, err := executor.NewPayloadBuilder(cfg.Templates.Subject, cfg.Templates.Body); err != nil {
		v.addError(result, "templates", "INVALID_TEMPLATE", err.Error())
	}
}

func (v *Validator) validateStorage(cfg *Config, result *ValidationResult) {
	if !cfg.Postgres.Enabled {
		v.addWarning(result, "postgres.enabled", "IN_MEMORY_STORAGE", "postgres is disabled; rules, records and statistics are lost on restart")
	}
	if cfg.Redis.Intake && !cfg.Redis.Enabled {
		v.addError(result, "redis.intake", "REDIS_DISABLED", "redis intake requires redis.enabled")
	}
}

// addError adds a validation error
func (v *Validator) addError(result *ValidationResult, field, code, message string) {
	result.Errors = append(result.Errors, ValidationError{
		Field:   field,
		Code:    code,
		Message: message,
	})
}

// addWarning adds a validation warning
func (v *Validator) addWarning(result *ValidationResult, field, code, message string) {
	if v.strict {
		v.addError(result, field, code, message)
		return
	}
	result.Warnings = append(result.Warnings, ValidationWarning{
		Field:   field,
		Code:    code,
		Message: message,
	})
}

// Err folds the result into a single CON001 error, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Message)
	}
	return errors.New(errors.CodeInvalidConfig, "invalid configuration").
		WithDetails("%s", strings.Join(parts, "; "))
}

// Validate runs the non-strict validator.
func (c *Config) Validate() error {
	return NewValidator(false).Validate(c).Err()
}

// IsValid checks if configuration is valid
func IsValid(cfg *Config) bool {
	return NewValidator(false).Validate(cfg).Valid
}

// fieldPath turns "Config.engine.max_attempts" into "engine.max_attempts".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
