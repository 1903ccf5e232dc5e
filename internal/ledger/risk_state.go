package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState 单个会话 (合约) 的日内风控状态，作为显式上下文传入每个时间步。
// 只由会话协程修改。
type RiskState struct {
	Instrument        string          `json:"instrument"`
	SessionDay        time.Time       `json:"session_day"` // 交易日零点 (会话时区)
	DailyTradeCount   int             `json:"daily_trade_count"`
	DailyWins         int             `json:"daily_wins"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	LastSignalTime    time.Time       `json:"last_signal_time"`
	LastLossTime      time.Time       `json:"last_loss_time"`
	DailyPnL          decimal.Decimal `json:"daily_pnl_pct"` // 百分比累计

	// 以下两项跨交易日保留，用于按当前资金计算仓位
	RealizedPnL float64 `json:"realized_pnl"` // 计价货币累计
	Available   float64 `json:"available"`    // 执行器报告的可用资金，0 表示未知
}

// Equity 可用于开仓的资金：执行器报告的可用资金优先，否则为初始资金加累计已实现盈亏
func (rs *RiskState) Equity(capital float64) float64 {
	if rs.Available != 0 {
		return rs.Available
	}
	return capital + rs.RealizedPnL
}

func NewRiskState(instrument string) *RiskState {
	return &RiskState{Instrument: instrument}
}

// resetDay 交易日切换时清空日内计数，LastSignalTime 保留以维持信号间隔
func (rs *RiskState) resetDay(day time.Time) {
	rs.SessionDay = day
	rs.DailyTradeCount = 0
	rs.DailyWins = 0
	rs.ConsecutiveLosses = 0
	rs.LastLossTime = time.Time{}
	rs.DailyPnL = decimal.Zero
}

// sessionDay 按时区取当日零点
func sessionDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
