package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

func testLimitConfig() service.LimitConfig {
	return service.LimitConfig{
		MaxDailyTrades:       3,
		MinSignalGapMinutes:  2,
		MaxConsecutiveLosses: 2,
		LossCooldownMinutes:  30,
		MaxDailyLossPct:      1.5,
		SessionTimezone:      "UTC",
	}
}

func rejection(t *testing.T, err error) model.RejectionReason {
	t.Helper()
	var rej *model.RejectionError
	require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
	return rej.Reason
}

func Test_Limiter_Check(t *testing.T) {
	now := day1.Add(time.Hour)
	tests := []struct {
		name  string
		state RiskState
		want  model.RejectionReason
	}{
		{name: "Fresh state passes"},
		{name: "Daily trade cap", state: RiskState{DailyTradeCount: 3}, want: model.RejectDailyTradeLimit},
		{name: "Signal gap", state: RiskState{LastSignalTime: now.Add(-time.Minute)}, want: model.RejectSignalGap},
		{name: "Gap elapsed", state: RiskState{LastSignalTime: now.Add(-2 * time.Minute)}},
		{name: "Loss streak in cooldown", state: RiskState{ConsecutiveLosses: 2, LastLossTime: now.Add(-10 * time.Minute)}, want: model.RejectConsecutiveLosses},
		{name: "Daily loss limit", state: RiskState{DailyPnL: decimal.NewFromFloat(-1.5)}, want: model.RejectDailyLossLimit},
		{name: "Daily loss within limit", state: RiskState{DailyPnL: decimal.NewFromFloat(-1.49)}},
	}
	l := NewLimiter(testLimitConfig(), time.UTC, zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := tt.state
			err := l.Check(&rs, now)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, rejection(t, err))
		})
	}
}

func Test_Limiter_CooldownResetsStreak(t *testing.T) {
	l := NewLimiter(testLimitConfig(), time.UTC, zap.NewNop())
	rs := &RiskState{ConsecutiveLosses: 2, LastLossTime: day1}

	assert.Equal(t, model.RejectConsecutiveLosses, rejection(t, l.Check(rs, day1.Add(29*time.Minute))))
	require.NoError(t, l.Check(rs, day1.Add(30*time.Minute)))
	assert.Zero(t, rs.ConsecutiveLosses)

	cfg := testLimitConfig()
	cfg.MaxConsecutiveLosses = 0
	rs = &RiskState{ConsecutiveLosses: 10, LastLossTime: day1}
	assert.NoError(t, NewLimiter(cfg, time.UTC, zap.NewNop()).Check(rs, day1), "zero cap disables the check")
}

func Test_Limiter_Roll(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	l := NewLimiter(testLimitConfig(), loc, zap.NewNop())
	rs := NewRiskState("BTCUSDT")

	// 2024-03-01 09:00 UTC is 17:00 in Shanghai
	_, rolled := l.Roll(rs, day1)
	assert.False(t, rolled, "first roll only initialises")
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, loc), rs.SessionDay)

	apply(rs, trade("a", 0, -0.5))
	apply(rs, trade("b", 10, 0.2))

	_, rolled = l.Roll(rs, day1.Add(6*time.Hour))
	assert.False(t, rolled, "still before local midnight")

	summary, rolled := l.Roll(rs, day1.Add(7*time.Hour))
	require.True(t, rolled)
	assert.Equal(t, 2, summary.Trades)
	assert.Equal(t, 1, summary.Wins)
	assert.InDelta(t, -0.3, summary.TotalPnL, 1e-12)

	assert.Zero(t, rs.DailyTradeCount)
	assert.Zero(t, rs.ConsecutiveLosses)
	assert.True(t, rs.DailyPnL.IsZero())
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, loc), rs.SessionDay)
}

// Once the cap is hit nothing gets through until the day rolls, whatever else happens.
func Test_Limiter_DailyCapHoldsUntilReset(t *testing.T) {
	cfg := testLimitConfig()
	cfg.MaxConsecutiveLosses = 0
	cfg.MaxDailyLossPct = 0
	l := NewLimiter(cfg, time.UTC, zap.NewNop())
	rs := NewRiskState("BTCUSDT")
	l.Roll(rs, day1)

	for i := 0; i < 3; i++ {
		apply(rs, trade("w", i*10, 1))
	}
	for m := 60; m < 14*60; m += 7 {
		now := day1.Add(time.Duration(m) * time.Minute)
		_, rolled := l.Roll(rs, now)
		require.False(t, rolled)
		assert.Equal(t, model.RejectDailyTradeLimit, rejection(t, l.Check(rs, now)))
	}

	next := time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)
	_, rolled := l.Roll(rs, next)
	require.True(t, rolled)
	assert.NoError(t, l.Check(rs, next))
}
