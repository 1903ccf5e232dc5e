package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

// Limiter 信号评估前的风控闸门，拒绝时返回 *model.RejectionError
type Limiter struct {
	cfg    service.LimitConfig
	loc    *time.Location
	logger *zap.Logger
}

func NewLimiter(cfg service.LimitConfig, loc *time.Location, logger *zap.Logger) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{cfg: cfg, loc: loc, logger: logger}
}

// Roll 进入新的交易日时重置计数，并返回上一交易日的汇总 (首次初始化不返回)
func (l *Limiter) Roll(rs *RiskState, now time.Time) (model.DailySummary, bool) {
	day := sessionDay(now, l.loc)
	if rs.SessionDay.Equal(day) {
		return model.DailySummary{}, false
	}
	if rs.SessionDay.IsZero() {
		rs.resetDay(day)
		return model.DailySummary{}, false
	}
	if day.Before(rs.SessionDay) {
		return model.DailySummary{}, false
	}

	summary := Summarize(rs)
	l.logger.Info("Session day rolled",
		zap.String("Instrument", rs.Instrument),
		zap.Time("From", rs.SessionDay),
		zap.Time("To", day),
		zap.Int("Trades", summary.Trades))
	rs.resetDay(day)
	return summary, true
}

// Check 依次检查日内次数、信号间隔、连亏冷却、日内亏损上限
func (l *Limiter) Check(rs *RiskState, now time.Time) error {
	// 1. 日内交易次数
	if rs.DailyTradeCount >= l.cfg.MaxDailyTrades {
		return &model.RejectionError{
			Reason: model.RejectDailyTradeLimit,
			Detail: fmt.Sprintf("%d/%d trades today", rs.DailyTradeCount, l.cfg.MaxDailyTrades),
		}
	}

	// 2. 信号间隔
	gap := time.Duration(l.cfg.MinSignalGapMinutes) * time.Minute
	if !rs.LastSignalTime.IsZero() && now.Sub(rs.LastSignalTime) < gap {
		return &model.RejectionError{
			Reason: model.RejectSignalGap,
			Detail: fmt.Sprintf("%s since last signal, need %s", now.Sub(rs.LastSignalTime), gap),
		}
	}

	// 3. 连亏冷却，冷却期满后清零
	if l.cfg.MaxConsecutiveLosses > 0 && rs.ConsecutiveLosses >= l.cfg.MaxConsecutiveLosses {
		cooldown := time.Duration(l.cfg.LossCooldownMinutes) * time.Minute
		if cooldown > 0 && now.Sub(rs.LastLossTime) >= cooldown {
			l.logger.Info("Loss cooldown elapsed, resetting streak",
				zap.String("Instrument", rs.Instrument),
				zap.Int("ConsecutiveLosses", rs.ConsecutiveLosses))
			rs.ConsecutiveLosses = 0
		} else {
			return &model.RejectionError{
				Reason: model.RejectConsecutiveLosses,
				Detail: fmt.Sprintf("%d consecutive losses", rs.ConsecutiveLosses),
			}
		}
	}

	// 4. 日内亏损上限
	if l.cfg.MaxDailyLossPct > 0 && rs.DailyPnL.LessThanOrEqual(decimal.NewFromFloat(-l.cfg.MaxDailyLossPct)) {
		return &model.RejectionError{
			Reason: model.RejectDailyLossLimit,
			Detail: fmt.Sprintf("daily pnl %s%%", rs.DailyPnL.StringFixed(4)),
		}
	}
	return nil
}

// MarkSignal 信号被接受时记录时间
func (l *Limiter) MarkSignal(rs *RiskState, at time.Time) {
	rs.LastSignalTime = at
}
