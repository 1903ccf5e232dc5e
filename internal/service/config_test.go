package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func Test_LoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, "backtest", cfg.Mode)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Instruments)
	assert.Equal(t, time.Minute, cfg.BarInterval())
	assert.Equal(t, 3, cfg.Pattern.MinConsecutive)
	assert.Equal(t, 0.8, cfg.Pattern.BodyRatioThreshold)
	assert.Equal(t, "continuation", cfg.Pattern.SignalMode)
	assert.Equal(t, 10, cfg.Risk.MaxHoldMinutes)
	assert.Equal(t, 50, cfg.Limits.MaxDailyTrades)
	assert.Equal(t, 15*time.Second, cfg.OrderTimeout)
	assert.Equal(t, time.UTC, cfg.SessionLocation())
}

func Test_LoadConfig_FileEnvAndFlags(t *testing.T) {
	dir := writeConfig(t, `
Mode: backtest
Instruments: [ETHUSDT, SOLUSDT]
Interval: 5m
Pattern:
  MinConsecutive: 4
  MaxConsecutive: 8
  SignalMode: reversal
Risk:
  Capital: 2500
Limits:
  SessionTimezone: Asia/Shanghai
`)
	t.Setenv("SCALPER_RISK_MAXHOLDMINUTES", "15")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("mode", "", "")
	flags.StringSlice("instrument", nil, "")
	flags.String("csv", "", "")
	require.NoError(t, flags.Parse([]string{"--csv", "/tmp/eth.csv"}))

	cfg, err := LoadConfig(dir, flags)
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Instruments)
	assert.Equal(t, 5*time.Minute, cfg.BarInterval())
	assert.Equal(t, 4, cfg.Pattern.MinConsecutive)
	assert.Equal(t, "reversal", cfg.Pattern.SignalMode)
	assert.Equal(t, 2500.0, cfg.Risk.Capital)
	assert.Equal(t, 15, cfg.Risk.MaxHoldMinutes)
	assert.Equal(t, "/tmp/eth.csv", cfg.Backtest.CSVPath)
	assert.Equal(t, "Asia/Shanghai", cfg.SessionLocation().String())
}

func Test_LoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "Unknown mode", body: "Mode: paper\n"},
		{name: "Max below min", body: "Pattern:\n  MinConsecutive: 5\n  MaxConsecutive: 3\n"},
		{name: "Bad interval", body: "Interval: 1x\n"},
		{name: "Bad timezone", body: "Limits:\n  SessionTimezone: Mars/Olympus\n"},
		{name: "No stop distance", body: "Risk:\n  StopLossPct: 0\n  StopLossATRMult: 0\n"},
		{name: "Postgres without DSN", body: "Ledger:\n  Driver: postgres\n"},
		{name: "Unknown signal mode", body: "Pattern:\n  SignalMode: fade\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body), nil)
			assert.Error(t, err)
		})
	}
}

func Test_ParseIntervalDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "30s", want: 30 * time.Second},
		{in: "1m", want: time.Minute},
		{in: "4h", want: 4 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "m", wantErr: true},
		{in: "0m", wantErr: true},
		{in: "5w", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIntervalDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, FormatInterval(got))
		})
	}
}
