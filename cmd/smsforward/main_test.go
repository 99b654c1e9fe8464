package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/config"
	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
	"github.com/kart-io/smsforward/pkg/stats"
	"github.com/kart-io/smsforward/pkg/telemetry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "silent"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNewApp_InMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Engine.Timezone = "UTC"

	a, err := newApp(ctx, cfg, logger.Discard)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &rule.MemoryStore{}, a.rules)
	assert.IsType(t, &telemetry.LatestProvider{}, a.environment)
	assert.Nil(t, a.pool)

	sources, err := a.sources()
	require.NoError(t, err)
	assert.Empty(t, sources)

	dest := model.EmailConfig{
		Provider: "gmail", SMTPHost: "smtp.gmail.com", SMTPPort: 587,
		SenderEmail: "bot@example.com", ReceiverEmail: "me@example.com", IsDefault: true,
	}
	require.NoError(t, a.destinations.Create(ctx, &dest))
	_, err = rule.InitializeDefaults(ctx, a.rules)
	require.NoError(t, err)
	require.NoError(t, a.environment.Report(ctx, model.EnvironmentSnapshot{BatteryLevel: model.Ptr(64)}))

	var subject string
	engine, err := a.engine(executor.SenderFunc(func(_ context.Context, _ model.Destination, s, _ string) error {
		subject = s
		return nil
	}))
	require.NoError(t, err)

	out, err := engine.Process(ctx, model.Message{Sender: "10690", Content: "Your verification code is 123456"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusForwarded, out.Status)
	assert.Contains(t, subject, "10690")
	require.NotNil(t, out.Record.Environment.BatteryLevel)
	assert.Equal(t, 64, *out.Record.Environment.BatteryLevel)

	day, err := a.stats.Day(ctx, a.stats.DateKey(out.Record.Timestamp))
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.TotalForwarded)
}

func TestNewApp_InvalidTimezone(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Timezone = "Nowhere/Atlantis"
	_, err := newApp(context.Background(), cfg, logger.Discard)
	assert.Error(t, err)
}

func TestEngine_InvalidTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.Templates.Subject = "{{#unclosed}}"
	a, err := newApp(context.Background(), cfg, logger.Discard)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.engine(executor.SenderFunc(func(context.Context, model.Destination, string, string) error { return nil }))
	assert.Error(t, err)
}

func TestRulesCommands(t *testing.T) {
	out, err := execute(t, "rules", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "default rules")

	out, err = execute(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PRIORITY")
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres is not enabled")
}

func TestStatsCommand(t *testing.T) {
	out, err := execute(t, "stats", "--days", "3", "--json")
	require.NoError(t, err)

	var resp struct {
		Days    []model.ForwardStatistics `json:"days"`
		Summary stats.Summary             `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Days)
	assert.Zero(t, resp.Summary.TotalReceived)

	out, err = execute(t, "stats", "--days", "1", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "TOTAL")

	_, err = execute(t, "stats", "--days", "0")
	assert.Error(t, err)
}

func TestSweepCommand(t *testing.T) {
	out, err := execute(t, "sweep", "--max-age", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "0 records, 0 messages")
}

func TestLoadConfig_BadLogLevel(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"rules", "list", "--log-level", "loud"})
	assert.Error(t, rootCmd.Execute())
	logLevel = ""
}
