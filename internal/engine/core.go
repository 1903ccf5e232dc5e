// Package engine 单一合约的时间步处理 (Core) 与驱动它的会话循环 (Session)。
// 回测与实盘共用同一套代码，只有行情来源和执行器不同。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalping-engine/internal/ledger"
	"scalping-engine/internal/model"
	"scalping-engine/internal/notify"
	"scalping-engine/internal/service"
	"scalping-engine/internal/strategy"
)

// Status 供状态接口读取的快照
type Status struct {
	Instrument string                 `json:"instrument"`
	State      strategy.PositionState `json:"state"`
	Regime     model.Regime           `json:"regime"`
	LastPrice  float64                `json:"last_price"`
	LastBar    time.Time              `json:"last_bar"`
	Position   *model.Position        `json:"position,omitempty"`
	Risk       ledger.RiskState       `json:"risk"`
	Trades     int                    `json:"trades"`
}

// Core 单一合约的决策流水线。除 Snapshot 外只能由会话协程调用。
type Core struct {
	instrument string
	mode       strategy.SignalMode
	window     int
	capital    float64

	buffer     *model.CandleBuffer
	detector   *strategy.PatternDetector
	classifier *strategy.StructureClassifier
	planner    *strategy.RiskPlanner
	machine    *strategy.PositionMachine
	limiter    *ledger.Limiter
	ledger     *ledger.Ledger
	events     notify.Publisher
	logger     *zap.Logger

	regime    model.Regime
	lastPrice float64
	lastBar   time.Time
	trades    []model.TradeRecord

	mu     sync.RWMutex
	status Status
}

func NewCore(instrument string, cfg *service.Config, l *ledger.Ledger, events notify.Publisher, logger *zap.Logger) *Core {
	if events == nil {
		events = notify.Discard{}
	}
	classifier := strategy.NewStructureClassifier(cfg.Structure)

	c := &Core{
		instrument: instrument,
		mode:       strategy.SignalMode(cfg.Pattern.SignalMode),
		window:     max(classifier.WindowSize(), cfg.Pattern.MaxConsecutive),
		capital:    cfg.Risk.Capital,
		buffer:     model.NewCandleBuffer(instrument, cfg.BufferCapacity),
		detector:   strategy.NewPatternDetector(cfg.Pattern, cfg.BarInterval()),
		classifier: classifier,
		planner:    strategy.NewRiskPlanner(cfg.Risk),
		machine:    strategy.NewPositionMachine(instrument, nil, logger),
		limiter:    ledger.NewLimiter(cfg.Limits, cfg.SessionLocation(), logger),
		ledger:     l,
		events:     events,
		logger:     logger.With(zap.String("Instrument", instrument)),
		regime:     model.RegimeUnknown,
	}
	c.status = Status{Instrument: instrument, State: strategy.StateIdle, Regime: model.RegimeUnknown}
	return c
}

func (c *Core) Instrument() string { return c.instrument }

// AwaitingFill 有在途订单，会话此时只处理成交结果
func (c *Core) AwaitingFill() bool {
	s := c.machine.State()
	return s == strategy.StatePendingEntry || s == strategy.StatePendingExit
}

// Trades 本次运行中已平仓的交易
func (c *Core) Trades() []model.TradeRecord {
	return append([]model.TradeRecord(nil), c.trades...)
}

// Snapshot 可在任意协程调用
func (c *Core) Snapshot() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	return s
}

func (c *Core) refresh(rs *ledger.RiskState) {
	s := Status{
		Instrument: c.instrument,
		State:      c.machine.State(),
		Regime:     c.regime,
		LastPrice:  c.lastPrice,
		LastBar:    c.lastBar,
		Risk:       *rs,
		Trades:     len(c.trades),
	}
	if pos, ok := c.machine.Position(); ok {
		s.Position = &pos
	}
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Core) publish(e notify.Event) {
	e.Instrument = c.instrument
	if e.Time.IsZero() {
		e.Time = c.lastBar
	}
	c.events.Publish(e)
}

func (c *Core) reject(at time.Time, rej *model.RejectionError) {
	c.logger.Info("Signal rejected", zap.String("Reason", string(rej.Reason)), zap.String("Detail", rej.Detail))
	c.publish(notify.Event{Type: notify.EventSignalRejected, Time: at, Rejection: rej})
}

// Step 处理一根新 K 线，返回需要提交给执行器的订单 (可能为 nil)。
// 数据错误返回非致命错误，K 线被丢弃；状态不一致返回 model.ErrInvariantViolation。
func (c *Core) Step(rs *ledger.RiskState, candle model.Candle) (*model.OrderRequest, error) {
	defer c.refresh(rs)

	if c.AwaitingFill() {
		return nil, fmt.Errorf("%w: %s: candle %s processed while awaiting fill",
			model.ErrInvariantViolation, c.instrument, candle.OpenTime.Format(time.RFC3339))
	}

	// 1. 数据校验与入缓冲区
	if err := candle.Validate(); err != nil {
		return nil, c.dataError(candle, err)
	}
	if err := c.buffer.Append(candle); err != nil {
		return nil, c.dataError(candle, err)
	}
	c.lastPrice = candle.Close
	c.lastBar = candle.OpenTime

	// 2. 交易日切换
	if summary, rolled := c.limiter.Roll(rs, candle.OpenTime); rolled {
		c.logger.Info(summary.String())
		c.publish(notify.Event{Type: notify.EventDailySummary, Summary: &summary})
	}

	// 3. 持仓中只检查离场
	if c.machine.State() == strategy.StateOpen {
		return c.machine.Evaluate(candle), nil
	}

	// 4. 市场结构与形态
	window := c.buffer.Window(c.window)
	ms := c.classifier.Classify(window)
	if ms.Regime != c.regime {
		c.logger.Info("Market regime changed",
			zap.String("From", string(c.regime)),
			zap.String("To", string(ms.Regime)),
			zap.String("Trend", ms.Trend.String()),
			zap.Float64("Persistence", ms.Persistence),
			zap.Float64("ATR", ms.ATR))
		c.regime = ms.Regime
	}

	signal, ok := c.detector.Detect(window)
	if !ok {
		return nil, nil
	}
	c.logger.Info("!!! NEW TRADING SIGNAL !!!", zap.String("Signal", signal.String()))
	c.publish(notify.Event{Type: notify.EventSignalDetected, Time: signal.Timestamp, Signal: &signal})

	// 5. 过滤：结构 -> 风控限制 -> 括号单
	dir := c.mode.TradeDirection(signal.Direction)
	if err := c.classifier.Gate(ms, dir); err != nil {
		return nil, c.rejected(candle.OpenTime, err)
	}
	if err := c.limiter.Check(rs, candle.OpenTime); err != nil {
		return nil, c.rejected(candle.OpenTime, err)
	}
	plan, err := c.planner.Plan(dir, signal.Price, candle.OpenTime, ms.ATR)
	if err != nil {
		c.reject(candle.OpenTime, &model.RejectionError{Reason: model.RejectInvalidBracket, Detail: err.Error()})
		return nil, nil
	}
	size := c.planner.Size(plan, rs.Equity(c.capital))
	if !(size > 0) {
		c.reject(candle.OpenTime, &model.RejectionError{Reason: model.RejectInvalidBracket, Detail: "position size is zero"})
		return nil, nil
	}

	// 6. 提交开仓
	req, err := c.machine.RequestEntry(dir, size, plan, candle.OpenTime)
	if err != nil {
		return nil, err
	}
	c.limiter.MarkSignal(rs, candle.OpenTime)
	c.logger.Info("Entry requested", zap.String("Order", req.String()))
	return req, nil
}

func (c *Core) rejected(at time.Time, err error) error {
	var rej *model.RejectionError
	if errors.As(err, &rej) {
		c.reject(at, rej)
		return nil
	}
	return err
}

func (c *Core) dataError(candle model.Candle, err error) error {
	c.logger.Warn("Candle rejected", zap.Time("OpenTime", candle.OpenTime), zap.Error(err))
	c.publish(notify.Event{Type: notify.EventError, Time: candle.OpenTime, Message: err.Error()})
	return err
}

// OnFill 处理执行结果。开仓失败回到 idle，平仓失败保留持仓下一根重试；
// 账本写入失败属于致命错误。
func (c *Core) OnFill(ctx context.Context, rs *ledger.RiskState, req model.OrderRequest, fill model.Fill, execErr error) error {
	defer c.refresh(rs)

	switch req.Intent {
	case model.IntentOpen:
		if execErr != nil {
			if err := c.machine.FailEntry(); err != nil {
				return err
			}
			c.reject(req.Time, &model.RejectionError{Reason: model.RejectExecution, Detail: execErr.Error()})
			return nil
		}
		pos, err := c.machine.ConfirmEntry(fill)
		if err != nil {
			return err
		}
		c.publish(notify.Event{Type: notify.EventPositionOpened, Time: pos.EntryTime, Position: &pos})
		return nil

	case model.IntentClose:
		if execErr != nil {
			if err := c.machine.FailExit(); err != nil {
				return err
			}
			c.logger.Error("Exit order failed, will retry on next bar",
				zap.String("Reason", string(req.Reason)), zap.Error(execErr))
			c.publish(notify.Event{Type: notify.EventError, Time: req.Time, Message: "exit failed: " + execErr.Error()})
			return nil
		}
		rec, err := c.machine.ConfirmExit(fill)
		if err != nil {
			return err
		}
		if err := c.ledger.Record(ctx, rs, rec); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrInvariantViolation, c.instrument, err)
		}
		c.trades = append(c.trades, rec)
		c.publish(notify.Event{Type: notify.EventPositionClosed, Time: rec.ExitTime, Trade: &rec})
		return nil

	default:
		return fmt.Errorf("%w: %s: unknown order intent %q", model.ErrInvariantViolation, c.instrument, req.Intent)
	}
}

// ForceClose 停机时以最新价格平仓，无持仓返回 nil
func (c *Core) ForceClose() *model.OrderRequest {
	return c.machine.ForceClose(c.lastPrice, c.lastBar)
}

// Summary 当前交易日汇总
func (c *Core) Summary(rs *ledger.RiskState) model.DailySummary {
	return ledger.Summarize(rs)
}
