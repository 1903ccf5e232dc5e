package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
)

// Store 只追加的交易记录存储，重启后用于恢复风控状态
type Store interface {
	Append(ctx context.Context, rec model.TradeRecord) error
	// Load 返回 ExitTime >= since 的记录，按 ExitTime 升序；instrument 为空表示全部
	Load(ctx context.Context, instrument string, since time.Time) ([]model.TradeRecord, error)
	Close() error
}

// Ledger 记录平仓交易并更新 RiskState
type Ledger struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
}

func NewLedger(store Store, loc *time.Location, logger *zap.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: store, loc: loc, logger: logger}
}

// Record 先落盘再更新计数，落盘失败时状态不变
func (l *Ledger) Record(ctx context.Context, rs *RiskState, rec model.TradeRecord) error {
	if err := l.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append trade %s: %w", rec.ID, err)
	}
	apply(rs, rec)

	l.logger.Info("Trade recorded",
		zap.String("Instrument", rec.Instrument),
		zap.String("ID", rec.ID),
		zap.String("Reason", string(rec.ExitReason)),
		zap.Float64("PnLPct", rec.PnLPct),
		zap.Int("DailyTradeCount", rs.DailyTradeCount),
		zap.Int("ConsecutiveLosses", rs.ConsecutiveLosses),
		zap.String("DailyPnLPct", rs.DailyPnL.StringFixed(4)))
	return nil
}

func apply(rs *RiskState, rec model.TradeRecord) {
	rs.DailyTradeCount++
	if rec.IsLoss() {
		rs.ConsecutiveLosses++
		rs.LastLossTime = rec.ExitTime
	} else {
		rs.ConsecutiveLosses = 0
		rs.DailyWins++
	}
	if rec.ExitTime.After(rs.LastSignalTime) {
		rs.LastSignalTime = rec.ExitTime
	}
	rs.DailyPnL = rs.DailyPnL.Add(decimal.NewFromFloat(rec.PnLPct))
	rs.RealizedPnL += rec.PnL()
}

// Restore 从存储中重放当前交易日的记录，重建 RiskState
func (l *Ledger) Restore(ctx context.Context, rs *RiskState, now time.Time) error {
	day := sessionDay(now, l.loc)
	records, err := l.store.Load(ctx, rs.Instrument, day)
	if err != nil {
		return fmt.Errorf("load trades for %s: %w", rs.Instrument, err)
	}
	rs.resetDay(day)
	for _, rec := range records {
		apply(rs, rec)
	}
	if len(records) > 0 {
		l.logger.Info("Risk state restored from ledger",
			zap.String("Instrument", rs.Instrument),
			zap.Int("Trades", rs.DailyTradeCount),
			zap.Int("ConsecutiveLosses", rs.ConsecutiveLosses))
	}
	return nil
}

// Trades 最近 limit 条记录 (旧 -> 新)，limit <= 0 返回全部
func (l *Ledger) Trades(ctx context.Context, instrument string, limit int) ([]model.TradeRecord, error) {
	records, err := l.store.Load(ctx, instrument, time.Time{})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

// Summarize 当前交易日的汇总
func Summarize(rs *RiskState) model.DailySummary {
	s := model.DailySummary{
		Instrument: rs.Instrument,
		Day:        rs.SessionDay,
		Trades:     rs.DailyTradeCount,
		Wins:       rs.DailyWins,
		Losses:     rs.DailyTradeCount - rs.DailyWins,
		TotalPnL:   rs.DailyPnL.InexactFloat64(),
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s
}

// SumPnL 用十进制累加收益率，避免浮点误差累积
func SumPnL(records []model.TradeRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(decimal.NewFromFloat(r.PnLPct))
	}
	return total
}
