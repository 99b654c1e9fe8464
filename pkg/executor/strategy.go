package executor

import (
	"strings"

	"github.com/kart-io/smsforward/pkg/model"
)

const (
	lowBatteryThreshold       = 15
	restrictedBackgroundScore = 50
)

// SelectStrategy picks the execution strategy for the sampled environment.
// Unknown fields never trigger a non-standard strategy.
func SelectStrategy(s model.EnvironmentSnapshot) model.ExecutionStrategy {
	if s.NetworkType != nil {
		switch strings.ToUpper(*s.NetworkType) {
		case "NONE", "OFFLINE", "DISCONNECTED":
			return model.StrategyOfflineDeferred
		}
	}
	if isTrue(s.IsInDozeMode) || isTrue(s.VendorOptimizationActive) ||
		(s.BackgroundCapabilityScore != nil && *s.BackgroundCapabilityScore < restrictedBackgroundScore) {
		return model.StrategyElevatedPriority
	}
	if s.BatteryLevel != nil && *s.BatteryLevel < lowBatteryThreshold && !isTrue(s.IsCharging) {
		return model.StrategyConservative
	}
	return model.StrategyStandard
}

func isTrue(b *bool) bool { return b != nil && *b }
