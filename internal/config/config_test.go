package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PERCENT_THRESHOLD", "AMOUNT_THRESHOLD", "PREAUTH_VALIDITY_HOURS", "KAFKA_BROKERS", "SWEEP_INTERVAL"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.True(t, cfg.PercentThreshold.Equal(decimal.NewFromInt(20)))
	assert.True(t, cfg.AmountThreshold.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 48*time.Hour, cfg.PreAuthValidity)
	assert.Equal(t, uint64(3), cfg.CaptureMaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "weight-adjustments", cfg.KafkaTopic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PERCENT_THRESHOLD", "15.5")
	t.Setenv("AMOUNT_THRESHOLD", "100")
	t.Setenv("PREAUTH_VALIDITY_HOURS", "24")
	t.Setenv("CAPTURE_INITIAL_BACKOFF", "1s")
	t.Setenv("SWEEP_ESCALATION_WINDOW", "2h")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg := Load()

	assert.True(t, cfg.Thresholds().PercentThreshold.Equal(decimal.RequireFromString("15.5")))
	assert.True(t, cfg.Thresholds().AmountThreshold.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 24*time.Hour, cfg.Payment().PreAuthValidity)
	assert.Equal(t, time.Second, cfg.Payment().InitialBackoff)
	assert.Equal(t, 2*time.Hour, cfg.Sweep().EscalationWindow)
	assert.Equal(t, 24*time.Hour, cfg.Sweep().PreAuthValidity)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PERCENT_THRESHOLD", "twenty")
	t.Setenv("CAPTURE_MAX_RETRIES", "-1")
	t.Setenv("SWEEP_INTERVAL", "soon")

	cfg := Load()

	assert.True(t, cfg.PercentThreshold.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, uint64(3), cfg.CaptureMaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}
