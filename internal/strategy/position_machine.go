package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
)

// PositionState 持仓状态机的状态
type PositionState string

const (
	StateIdle         PositionState = "idle"
	StatePendingEntry PositionState = "pending_entry" // 开仓单已发出，等待成交确认
	StateOpen         PositionState = "open"
	StatePendingExit  PositionState = "pending_exit" // 平仓单已发出，等待成交确认
)

// ExitRule 单条离场规则，命中时返回参考离场价
type ExitRule struct {
	Reason model.ExitReason
	Check  func(pos model.Position, bar model.Candle) (float64, bool)
}

// DefaultExitRules 按优先级排列：止损 > 止盈 > 最长持仓
var DefaultExitRules = []ExitRule{
	{Reason: model.ExitStopLoss, Check: stopLossHit},
	{Reason: model.ExitTakeProfit, Check: takeProfitHit},
	{Reason: model.ExitMaxHold, Check: maxHoldReached},
}

func stopLossHit(pos model.Position, bar model.Candle) (float64, bool) {
	sl := pos.Plan.StopLossPrice
	if pos.Direction == model.DirLong {
		return sl, bar.Low <= sl
	}
	return sl, bar.High >= sl
}

func takeProfitHit(pos model.Position, bar model.Candle) (float64, bool) {
	tp := pos.Plan.TakeProfitPrice
	if pos.Direction == model.DirLong {
		return tp, bar.High >= tp
	}
	return tp, bar.Low <= tp
}

func maxHoldReached(pos model.Position, bar model.Candle) (float64, bool) {
	return bar.Close, !bar.OpenTime.Before(pos.Plan.Deadline)
}

// PositionMachine 单一合约的持仓生命周期。
// 只由会话协程调用，不做并发保护；同一时刻最多一个持仓或一笔在途订单。
type PositionMachine struct {
	instrument string
	rules      []ExitRule
	logger     *zap.Logger

	state    PositionState
	position *model.Position
	pending  *model.OrderRequest
	lastBar  time.Time        // 最近一次评估过的 K 线，保证同一根 K 线只评估一次
	retry    model.ExitReason // 平仓失败后在下一根 K 线按市价重试
}

func NewPositionMachine(instrument string, rules []ExitRule, logger *zap.Logger) *PositionMachine {
	if len(rules) == 0 {
		rules = DefaultExitRules
	}
	return &PositionMachine{
		instrument: instrument,
		rules:      rules,
		logger:     logger.With(zap.String("Instrument", instrument)),
		state:      StateIdle,
	}
}

func (pm *PositionMachine) State() PositionState { return pm.state }

// Occupied 持仓中或有在途订单
func (pm *PositionMachine) Occupied() bool { return pm.state != StateIdle }

// Position 当前持仓的副本
func (pm *PositionMachine) Position() (model.Position, bool) {
	if pm.position == nil {
		return model.Position{}, false
	}
	return *pm.position, true
}

// Pending 在途订单
func (pm *PositionMachine) Pending() *model.OrderRequest { return pm.pending }

func (pm *PositionMachine) violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", model.ErrInvariantViolation, pm.instrument, fmt.Sprintf(format, args...))
}

// RequestEntry idle -> pending_entry。非 idle 时调用属于状态不一致，直接返回致命错误。
func (pm *PositionMachine) RequestEntry(dir model.Direction, size float64, plan model.ExitPlan, at time.Time) (*model.OrderRequest, error) {
	if pm.state != StateIdle || pm.position != nil || pm.pending != nil {
		return nil, pm.violation("entry requested while %s", pm.state)
	}
	if size <= 0 {
		return nil, fmt.Errorf("entry size must be positive, got %f", size)
	}

	bracket := plan
	req := &model.OrderRequest{
		ID:         uuid.NewString(),
		Instrument: pm.instrument,
		Intent:     model.IntentOpen,
		Direction:  dir,
		Side:       model.SideFor(model.IntentOpen, dir),
		Size:       size,
		Price:      plan.EntryPrice,
		Bracket:    &bracket,
		Time:       at,
	}
	pm.pending = req
	pm.state = StatePendingEntry
	// 信号所在的 K 线不参与离场评估
	pm.lastBar = at
	return req, nil
}

// ConfirmEntry pending_entry -> open，括号单按实际成交价平移
func (pm *PositionMachine) ConfirmEntry(fill model.Fill) (model.Position, error) {
	if pm.state != StatePendingEntry || pm.pending == nil {
		return model.Position{}, pm.violation("entry fill %s while %s", fill.OrderID, pm.state)
	}
	if fill.OrderID != pm.pending.ID {
		return model.Position{}, pm.violation("entry fill for unknown order %s", fill.OrderID)
	}

	req := pm.pending
	pos := &model.Position{
		ID:         req.ID,
		Instrument: pm.instrument,
		Direction:  req.Direction,
		Size:       req.Size,
		EntryPrice: fill.FilledPrice,
		EntryTime:  fill.FilledTime,
		Plan:       req.Bracket.Anchor(fill.FilledPrice, fill.FilledTime),
		Status:     model.PositionOpen,
	}
	pm.position = pos
	pm.pending = nil
	pm.state = StateOpen
	pm.retry = ""

	pm.logger.Info("Position opened",
		zap.String("Direction", pos.Direction.String()),
		zap.Float64("Size", pos.Size),
		zap.Float64("EntryPrice", pos.EntryPrice),
		zap.Float64("StopLoss", pos.Plan.StopLossPrice),
		zap.Float64("TakeProfit", pos.Plan.TakeProfitPrice),
		zap.Time("Deadline", pos.Plan.Deadline))
	return *pos, nil
}

// FailEntry 开仓失败视为信号未实现，回到 idle
func (pm *PositionMachine) FailEntry() error {
	if pm.state != StatePendingEntry {
		return pm.violation("entry failure while %s", pm.state)
	}
	pm.pending = nil
	pm.state = StateIdle
	return nil
}

// Evaluate 在每根新 K 线上按优先级检查离场规则，命中时 open -> pending_exit 并返回平仓单。
// 不晚于上次评估的 K 线直接忽略，保证重复调用幂等。
func (pm *PositionMachine) Evaluate(bar model.Candle) *model.OrderRequest {
	if pm.state != StateOpen || pm.position == nil {
		return nil
	}
	if !bar.OpenTime.After(pm.lastBar) {
		return nil
	}
	pm.lastBar = bar.OpenTime

	if pm.retry != "" {
		pm.logger.Warn("Retrying exit at market", zap.String("Reason", string(pm.retry)))
		return pm.requestExit(pm.retry, bar.Close, bar.OpenTime)
	}

	for _, rule := range pm.rules {
		if price, hit := rule.Check(*pm.position, bar); hit {
			return pm.requestExit(rule.Reason, price, bar.OpenTime)
		}
	}
	return nil
}

// ForceClose 停机时按市价平掉持仓，非 open 状态返回 nil
func (pm *PositionMachine) ForceClose(price float64, at time.Time) *model.OrderRequest {
	if pm.state != StateOpen || pm.position == nil {
		return nil
	}
	return pm.requestExit(model.ExitManual, price, at)
}

func (pm *PositionMachine) requestExit(reason model.ExitReason, price float64, at time.Time) *model.OrderRequest {
	pos := pm.position
	req := &model.OrderRequest{
		ID:         uuid.NewString(),
		Instrument: pm.instrument,
		Intent:     model.IntentClose,
		Direction:  pos.Direction,
		Side:       model.SideFor(model.IntentClose, pos.Direction),
		Size:       pos.Size,
		Price:      price,
		Reason:     reason,
		Time:       at,
	}
	pm.pending = req
	pm.state = StatePendingExit
	pm.retry = ""
	return req
}

// ConfirmExit pending_exit -> idle，每个持仓恰好生成一条交易记录
func (pm *PositionMachine) ConfirmExit(fill model.Fill) (model.TradeRecord, error) {
	if pm.state != StatePendingExit || pm.pending == nil || pm.position == nil {
		return model.TradeRecord{}, pm.violation("exit fill %s while %s", fill.OrderID, pm.state)
	}
	if fill.OrderID != pm.pending.ID {
		return model.TradeRecord{}, pm.violation("exit fill for unknown order %s", fill.OrderID)
	}

	pos := pm.position
	pos.Status = model.PositionClosed
	rec := model.TradeRecord{
		ID:           pos.ID,
		Instrument:   pos.Instrument,
		Direction:    pos.Direction,
		Size:         pos.Size,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    fill.FilledPrice,
		EntryTime:    pos.EntryTime,
		ExitTime:     fill.FilledTime,
		PnLPct:       pos.PnLPct(fill.FilledPrice),
		HoldDuration: fill.FilledTime.Sub(pos.EntryTime),
		ExitReason:   pm.pending.Reason,
	}

	pm.position = nil
	pm.pending = nil
	pm.state = StateIdle

	pm.logger.Info("Position closed",
		zap.String("Reason", string(rec.ExitReason)),
		zap.Float64("ExitPrice", rec.ExitPrice),
		zap.Float64("PnLPct", rec.PnLPct),
		zap.Duration("Hold", rec.HoldDuration))
	return rec, nil
}

// FailExit 平仓失败，保持持仓并在下一根 K 线重试
func (pm *PositionMachine) FailExit() error {
	if pm.state != StatePendingExit || pm.pending == nil {
		return pm.violation("exit failure while %s", pm.state)
	}
	pm.retry = pm.pending.Reason
	pm.pending = nil
	pm.state = StateOpen
	return nil
}
