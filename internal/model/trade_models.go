package model

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirLong  Direction = "long"  // 多
	DirShort Direction = "short" // 空
	DirFlat  Direction = "flat"  // 空仓 / 十字星
)

func (d Direction) String() string {
	return string(d)
}

// Opposite 返回相反方向
func (d Direction) Opposite() Direction {
	switch d {
	case DirLong:
		return DirShort
	case DirShort:
		return DirLong
	default:
		return DirFlat
	}
}

// Sign 多头 +1，空头 -1
func (d Direction) Sign() float64 {
	switch d {
	case DirLong:
		return 1
	case DirShort:
		return -1
	default:
		return 0
	}
}

// Signal 形态检测器输出的候选信号，只被消费一次，不落盘
type Signal struct {
	Instrument       string
	Direction        Direction // 连续 K 线的方向 (交易方向由 SignalMode 决定)
	ConsecutiveCount int
	BodyRatio        float64 // 子窗口平均实体比例
	Confidence       float64 // [0,1]
	Timestamp        time.Time
	Price            float64 // 最新收盘价，作为参考入场价
	Reason           string
}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s | %s] x%d @ %.4f | Body: %.2f | Conf: %.2f | %s",
		s.Instrument, s.Direction, s.ConsecutiveCount, s.Price, s.BodyRatio, s.Confidence, s.Reason)
}

// ExitPlan 入场价、止损、止盈与最长持仓截止时间
type ExitPlan struct {
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
	Deadline        time.Time
	MaxHold         time.Duration
}

// Anchor 按实际成交价和成交时间平移括号单，距离与持仓时长保持不变
func (p ExitPlan) Anchor(price float64, at time.Time) ExitPlan {
	shift := price - p.EntryPrice
	return ExitPlan{
		EntryPrice:      price,
		StopLossPrice:   p.StopLossPrice + shift,
		TakeProfitPrice: p.TakeProfitPrice + shift,
		Deadline:        at.Add(p.MaxHold),
		MaxHold:         p.MaxHold,
	}
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position 单一合约上的唯一活动持仓
type Position struct {
	ID         string
	Instrument string
	Direction  Direction
	Size       float64
	EntryPrice float64
	EntryTime  time.Time
	Plan       ExitPlan
	Status     PositionStatus
}

// PnLPct 以百分比表示的收益率 (-1.0 即 -1%)
func (p Position) PnLPct(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.Direction.Sign() * (exitPrice - p.EntryPrice) / p.EntryPrice * 100
}

type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitMaxHold    ExitReason = "max_hold"
	ExitManual     ExitReason = "manual"
)

// TradeRecord 记录一次完整的开仓和平仓交易，创建后不可修改
type TradeRecord struct {
	ID           string        `json:"id"`
	Instrument   string        `json:"instrument"`
	Direction    Direction     `json:"direction"`
	Size         float64       `json:"size"`
	EntryPrice   float64       `json:"entry_price"`
	ExitPrice    float64       `json:"exit_price"`
	EntryTime    time.Time     `json:"entry_time"`
	ExitTime     time.Time     `json:"exit_time"`
	PnLPct       float64       `json:"pnl_pct"`
	HoldDuration time.Duration `json:"hold_duration"`
	ExitReason   ExitReason    `json:"exit_reason"`
}

// IsLoss 盈亏为零也计为亏损 (手续费与滑点)
func (r TradeRecord) IsLoss() bool { return r.PnLPct <= 0 }

// PnL 计价货币的已实现盈亏，不含手续费
func (r TradeRecord) PnL() float64 {
	return r.Direction.Sign() * (r.ExitPrice - r.EntryPrice) * r.Size
}

// OrderIntent 订单意图
type OrderIntent string

const (
	IntentOpen  OrderIntent = "OPEN"
	IntentClose OrderIntent = "CLOSE"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest 引擎向执行器发出的下单请求
type OrderRequest struct {
	ID         string
	Instrument string
	Intent     OrderIntent
	Direction  Direction // 持仓方向
	Side       OrderSide
	Size       float64
	Price      float64   // 参考价格 (信号价、止损/止盈价或市价)
	Bracket    *ExitPlan // 仅开仓时携带
	Reason     ExitReason
	Time       time.Time // 触发该订单的 K 线时间
}

func (o OrderRequest) String() string {
	return fmt.Sprintf("ORDER [%s %s | %s] %s %.6f @ %.4f",
		o.Intent, o.Direction, o.Instrument, o.Side, o.Size, o.Price)
}

// Fill 执行器返回的成交确认
type Fill struct {
	OrderID     string
	FilledPrice float64
	FilledTime  time.Time
}

// SideFor 开仓与平仓对应的买卖方向
func SideFor(intent OrderIntent, dir Direction) OrderSide {
	buy := dir == DirLong
	if intent == IntentClose {
		buy = !buy
	}
	if buy {
		return SideBuy
	}
	return SideSell
}

// DailySummary 交易日结束时的统计
type DailySummary struct {
	Instrument string    `json:"instrument"`
	Day        time.Time `json:"day"`
	Trades     int       `json:"trades"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	WinRate    float64   `json:"win_rate"`
	TotalPnL   float64   `json:"total_pnl_pct"`
}

func (s DailySummary) String() string {
	return fmt.Sprintf("DAILY [%s | %s] trades: %d | wins: %d | losses: %d | win rate: %.1f%% | pnl: %.4f%%",
		s.Instrument, s.Day.Format("2006-01-02"), s.Trades, s.Wins, s.Losses, s.WinRate*100, s.TotalPnL)
}
