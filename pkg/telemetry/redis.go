package telemetry

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/smsforward/pkg/model"
)

// Hash fields written by the device agent.
const (
	fieldBatteryLevel       = "battery_level"
	fieldIsCharging         = "is_charging"
	fieldDozeMode           = "doze_mode"
	fieldNetworkType        = "network_type"
	fieldBackgroundScore    = "background_score"
	fieldSystemLoad         = "system_load"
	fieldVendorOptimization = "vendor_optimization"
	fieldSIMSlot            = "sim_slot"
	fieldSIMOperator        = "sim_operator"
)

// RedisProvider reads the last device state reported into a Redis hash.
type RedisProvider struct {
	client *goredis.Client
	key    string
}

func NewRedisProvider(client *goredis.Client, keyPrefix string) *RedisProvider {
	return &RedisProvider{client: client, key: keyPrefix + "device:state"}
}

func (p *RedisProvider) Snapshot(ctx context.Context) (model.EnvironmentSnapshot, error) {
	fields, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return model.EnvironmentSnapshot{}, fmt.Errorf("read device state: %w", err)
	}
	return DecodeSnapshot(fields), nil
}

// Report stores snap, replacing the previous state. Nil fields are removed.
func (p *RedisProvider) Report(ctx context.Context, snap model.EnvironmentSnapshot) error {
	values := EncodeSnapshot(snap)
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, p.key)
	if len(values) > 0 {
		pipe.HSet(ctx, p.key, values)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("report device state: %w", err)
	}
	return nil
}

// DecodeSnapshot parses hash fields. Missing or malformed values stay nil.
func DecodeSnapshot(f map[string]string) model.EnvironmentSnapshot {
	return model.EnvironmentSnapshot{
		BatteryLevel:              parseInt(f[fieldBatteryLevel]),
		IsCharging:                parseBool(f[fieldIsCharging]),
		IsInDozeMode:              parseBool(f[fieldDozeMode]),
		NetworkType:               parseString(f[fieldNetworkType]),
		BackgroundCapabilityScore: parseInt(f[fieldBackgroundScore]),
		SystemLoad:                parseFloat(f[fieldSystemLoad]),
		VendorOptimizationActive:  parseBool(f[fieldVendorOptimization]),
		SIMSlot:                   parseInt(f[fieldSIMSlot]),
		SIMOperator:               parseString(f[fieldSIMOperator]),
	}
}

// EncodeSnapshot renders the non-nil fields of snap as hash values.
func EncodeSnapshot(s model.EnvironmentSnapshot) map[string]string {
	out := make(map[string]string)
	putInt := func(k string, v *int) {
		if v != nil {
			out[k] = strconv.Itoa(*v)
		}
	}
	putBool := func(k string, v *bool) {
		if v != nil {
			out[k] = strconv.FormatBool(*v)
		}
	}
	putInt(fieldBatteryLevel, s.BatteryLevel)
	putBool(fieldIsCharging, s.IsCharging)
	putBool(fieldDozeMode, s.IsInDozeMode)
	if s.NetworkType != nil {
		out[fieldNetworkType] = *s.NetworkType
	}
	putInt(fieldBackgroundScore, s.BackgroundCapabilityScore)
	if s.SystemLoad != nil {
		out[fieldSystemLoad] = strconv.FormatFloat(*s.SystemLoad, 'f', -1, 64)
	}
	putBool(fieldVendorOptimization, s.VendorOptimizationActive)
	putInt(fieldSIMSlot, s.SIMSlot)
	if s.SIMOperator != nil {
		out[fieldSIMOperator] = *s.SIMOperator
	}
	return out
}

func parseInt(s string) *int {
	if v, err := strconv.Atoi(s); err == nil {
		return &v
	}
	return nil
}

func parseBool(s string) *bool {
	if v, err := strconv.ParseBool(s); err == nil {
		return &v
	}
	return nil
}

func parseFloat(s string) *float64 {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &v
	}
	return nil
}

func parseString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
