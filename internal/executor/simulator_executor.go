package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"scalping-engine/internal/model"
)

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	InitialCapital float64 // 初始资金
	Leverage       float64 // 杠杆倍数 (例如 10)
	FeeRate        float64 // 交易手续费率 (例如 0.0005)
	SlippagePct    float64 // 不利滑点比例 (例如 0.0002)
}

// simPosition 模拟交易所的持仓数据结构
type simPosition struct {
	Side             model.Direction
	Size             float64 // 持仓数量
	AvgPrice         float64 // 平均开仓价格
	LiquidationPrice float64 // 强平价格
	Margin           float64
	EntryFee         float64 // 记录开仓手续费
}

// Account 模拟账户快照
type Account struct {
	Balance      float64 // 账户余额 (包含已实现盈亏)
	Equity       float64 // 账户净值 = 余额 + 已用保证金
	MaxEquity    float64 // 历史最高账户净值
	MarginUsed   float64
	Fees         float64
	RealizedPnL  float64
	Liquidations int
}

// SimulatorExecutor 以参考价加不利滑点立即成交，成交时间取触发 K 线的时间，
// 因此回测结果可复现。
type SimulatorExecutor struct {
	cfg    SimulatorConfig
	logger *zap.Logger

	mu sync.RWMutex // 保护账户状态

	balance    float64
	maxEquity  float64
	marginUsed float64
	fees       float64
	realized   float64

	liquidations int

	positions map[string]*simPosition
}

func NewSimulatorExecutor(cfg SimulatorConfig, logger *zap.Logger) *SimulatorExecutor {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &SimulatorExecutor{
		cfg:       cfg,
		logger:    logger,
		balance:   cfg.InitialCapital,
		maxEquity: cfg.InitialCapital, // 初始化时，最大净值 = 初始资金
		positions: make(map[string]*simPosition),
	}
}

// fillPrice 买入向上、卖出向下滑点
func (e *SimulatorExecutor) fillPrice(side model.OrderSide, ref float64) float64 {
	if side == model.SideBuy {
		return ref * (1 + e.cfg.SlippagePct)
	}
	return ref * (1 - e.cfg.SlippagePct)
}

func (e *SimulatorExecutor) Execute(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	if err := ctx.Err(); err != nil {
		return model.Fill{}, err
	}
	if req.Price <= 0 || req.Size <= 0 {
		return model.Fill{}, fmt.Errorf("sim: invalid order %s", req)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price := e.fillPrice(req.Side, req.Price)
	switch req.Intent {
	case model.IntentOpen:
		if err := e.open(req, price); err != nil {
			return model.Fill{}, err
		}
	case model.IntentClose:
		filled, err := e.close(req, price)
		if err != nil {
			return model.Fill{}, err
		}
		price = filled
	default:
		return model.Fill{}, fmt.Errorf("sim: unknown intent %q", req.Intent)
	}

	if equity := e.balance + e.marginUsed; equity > e.maxEquity {
		e.maxEquity = equity
	}
	return model.Fill{OrderID: req.ID, FilledPrice: price, FilledTime: req.Time}, nil
}

func (e *SimulatorExecutor) open(req model.OrderRequest, price float64) error {
	if _, ok := e.positions[req.Instrument]; ok {
		return fmt.Errorf("sim: %s already has an open position", req.Instrument)
	}

	requiredMargin := req.Size * price / e.cfg.Leverage
	fee := req.Size * price * e.cfg.FeeRate
	if e.balance < requiredMargin+fee {
		e.logger.Info("Sim Rejected: Insufficient balance",
			zap.Float64("Need", requiredMargin+fee), zap.Float64("Have", e.balance))
		return fmt.Errorf("sim: insufficient margin: need %.2f, have %.2f", requiredMargin+fee, e.balance)
	}

	e.balance -= requiredMargin + fee
	e.marginUsed += requiredMargin
	e.fees += fee

	pos := &simPosition{
		Side:             req.Direction,
		Size:             req.Size,
		AvgPrice:         price,
		LiquidationPrice: liquidationPrice(price, req.Direction, e.cfg.Leverage),
		Margin:           requiredMargin,
		EntryFee:         fee,
	}
	e.positions[req.Instrument] = pos

	e.logger.Debug("Sim ORDER FILLED (OPEN)",
		zap.String("Instrument", req.Instrument),
		zap.String("Direction", req.Direction.String()),
		zap.Float64("Size", req.Size),
		zap.Float64("Price", price),
		zap.Float64("Fee", fee),
		zap.Float64("Liquidation", pos.LiquidationPrice))
	return nil
}

// close 平仓价越过强平价时按强平价成交，亏损恰好为全部保证金
func (e *SimulatorExecutor) close(req model.OrderRequest, price float64) (float64, error) {
	pos, ok := e.positions[req.Instrument]
	if !ok {
		return 0, fmt.Errorf("sim: %s has no open position", req.Instrument)
	}
	if liquidated(pos, price) {
		e.logger.Warn("Sim POSITION LIQUIDATED",
			zap.String("Instrument", req.Instrument),
			zap.Float64("ClosePrice", price),
			zap.Float64("Liquidation", pos.LiquidationPrice))
		price = pos.LiquidationPrice
		e.liquidations++
	}

	pnl := closedPnL(pos, price)
	closeFee := pos.Size * price * e.cfg.FeeRate

	// 更新余额，释放保证金
	e.balance += pos.Margin + pnl - closeFee
	e.marginUsed -= pos.Margin
	e.fees += closeFee
	e.realized += pnl
	delete(e.positions, req.Instrument)

	e.logger.Debug("Sim POSITION CLOSED",
		zap.String("Instrument", req.Instrument),
		zap.String("Reason", string(req.Reason)),
		zap.Float64("Price", price),
		zap.Float64("PnL", pnl),
		zap.Float64("Balance", e.balance))
	return price, nil
}

func liquidated(pos *simPosition, price float64) bool {
	if pos.LiquidationPrice <= 0 {
		return false
	}
	if pos.Side == model.DirLong {
		return price <= pos.LiquidationPrice
	}
	return price >= pos.LiquidationPrice
}

// liquidationPrice 计算强平价格 (简化模型，使用初始保证金率 1/杠杆)
func liquidationPrice(avgPrice float64, side model.Direction, leverage float64) float64 {
	if leverage <= 1 || side == model.DirFlat {
		return 0
	}
	marginRatio := 1.0 / leverage
	if side == model.DirLong {
		return avgPrice * (1.0 - marginRatio)
	}
	return avgPrice * (1.0 + marginRatio)
}

// closedPnL 已实现盈亏 (计价货币)
func closedPnL(pos *simPosition, closePrice float64) float64 {
	return pos.Side.Sign() * (closePrice - pos.AvgPrice) * pos.Size
}

// Account 账户快照
func (e *SimulatorExecutor) Account() Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Account{
		Balance:      e.balance,
		Equity:       e.balance + e.marginUsed,
		MaxEquity:    e.maxEquity,
		MarginUsed:   e.marginUsed,
		Fees:         e.fees,
		RealizedPnL:  e.realized,
		Liquidations: e.liquidations,
	}
}

// Available 可用于开新仓的余额
func (e *SimulatorExecutor) Available() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance
}
