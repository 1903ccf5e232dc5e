package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"scalping-engine/internal/model"
)

// Report 回测结果。收益率按百分比累加，与账本口径一致
type Report struct {
	Instrument     string
	Trades         int
	Wins           int
	Losses         int
	WinRate        float64
	TotalPnLPct    decimal.Decimal
	ProfitFactor   float64 // 无亏损交易时为 +Inf
	MaxDrawdownPct decimal.Decimal
	FinalEquity    float64
	ByReason       map[model.ExitReason]int
}

// NewReport 按平仓顺序统计交易记录
func NewReport(instrument string, records []model.TradeRecord, finalEquity float64) Report {
	r := Report{
		Instrument:  instrument,
		Trades:      len(records),
		FinalEquity: finalEquity,
		ByReason:    make(map[model.ExitReason]int),
	}

	grossWin, grossLoss := decimal.Zero, decimal.Zero
	equity, peak := decimal.Zero, decimal.Zero
	for _, rec := range records {
		pnl := decimal.NewFromFloat(rec.PnLPct)
		r.ByReason[rec.ExitReason]++
		if rec.IsLoss() {
			r.Losses++
			grossLoss = grossLoss.Add(pnl.Neg())
		} else {
			r.Wins++
			grossWin = grossWin.Add(pnl)
		}

		// 回撤基于累计收益率曲线
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(r.MaxDrawdownPct) {
			r.MaxDrawdownPct = dd
		}
	}
	r.TotalPnLPct = equity

	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	switch {
	case grossLoss.IsPositive():
		r.ProfitFactor = grossWin.Div(grossLoss).InexactFloat64()
	case grossWin.IsPositive():
		r.ProfitFactor = math.Inf(1)
	}
	return r
}

// Fields 通知渠道使用的键值
func (r Report) Fields() map[string]string {
	return map[string]string{
		"Instrument":    r.Instrument,
		"Trades":        fmt.Sprintf("%d (%d W / %d L)", r.Trades, r.Wins, r.Losses),
		"Win rate":      fmt.Sprintf("%.1f%%", r.WinRate*100),
		"Total PnL":     r.TotalPnLPct.StringFixed(4) + "%",
		"Profit factor": fmt.Sprintf("%.2f", r.ProfitFactor),
		"Max drawdown":  r.MaxDrawdownPct.StringFixed(4) + "%",
		"Final equity":  fmt.Sprintf("%.2f", r.FinalEquity),
	}
}

func (r Report) String() string {
	return fmt.Sprintf("BACKTEST [%s] trades: %d | win rate: %.1f%% | pnl: %s%% | pf: %.2f | max dd: %s%% | equity: %.2f | exits: %v",
		r.Instrument, r.Trades, r.WinRate*100, r.TotalPnLPct.StringFixed(4), r.ProfitFactor,
		r.MaxDrawdownPct.StringFixed(4), r.FinalEquity, r.ByReason)
}
