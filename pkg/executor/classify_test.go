package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/smsforward/pkg/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read: deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureCategory
	}{
		{"nil", nil, ""},
		{"typed send error", NewSendError(model.FailurePermission, "blocked", nil), model.FailurePermission},
		{"wrapped typed", fmt.Errorf("send: %w", NewSendError(model.FailureEmailConfig, "bad", nil)), model.FailureEmailConfig},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), model.FailureTimeout},
		{"net timeout", timeoutErr{}, model.FailureTimeout},
		{"smtp auth", errors.New("535 5.7.8 authentication failed"), model.FailureAuth},
		{"refused", errors.New("dial tcp 1.2.3.4:25: connect: connection refused"), model.FailureNetwork},
		{"dns", &net.DNSError{Err: "server misbehaving", Name: "smtp.x"}, model.FailureNetwork},
		{"no such host", errors.New("lookup smtp.invalid: no such host"), model.FailureNetwork},
		{"permission", errors.New("open socket: permission denied"), model.FailurePermission},
		{"bad recipient", errors.New("failed to set To address: mail: no address"), model.FailureEmailConfig},
		{"certificate", errors.New("x509: certificate signed by unknown authority"), model.FailureEmailConfig},
		{"server busy", errors.New("421 4.7.0 Try again later"), model.FailureSMTPProtocol},
		{"starttls", errors.New("server does not support STARTTLS"), model.FailureSMTPProtocol},
		{"unknown", errors.New("something odd"), model.FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name string
		snap model.EnvironmentSnapshot
		want model.ExecutionStrategy
	}{
		{"unknown environment", model.EnvironmentSnapshot{}, model.StrategyStandard},
		{"offline", model.EnvironmentSnapshot{NetworkType: model.Ptr("none")}, model.StrategyOfflineDeferred},
		{"doze", model.EnvironmentSnapshot{IsInDozeMode: model.Ptr(true)}, model.StrategyElevatedPriority},
		{"vendor optimisation", model.EnvironmentSnapshot{VendorOptimizationActive: model.Ptr(true)}, model.StrategyElevatedPriority},
		{"restricted background", model.EnvironmentSnapshot{BackgroundCapabilityScore: model.Ptr(20)}, model.StrategyElevatedPriority},
		{"healthy background", model.EnvironmentSnapshot{BackgroundCapabilityScore: model.Ptr(90)}, model.StrategyStandard},
		{"low battery", model.EnvironmentSnapshot{BatteryLevel: model.Ptr(10), IsCharging: model.Ptr(false)}, model.StrategyConservative},
		{"low battery charging", model.EnvironmentSnapshot{BatteryLevel: model.Ptr(10), IsCharging: model.Ptr(true)}, model.StrategyStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.snap))
		})
	}
}
