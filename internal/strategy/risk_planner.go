package strategy

import (
	"math"
	"time"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

// RiskPlanner 计算括号单 (止损/止盈/最长持仓) 与仓位数量
type RiskPlanner struct {
	cfg service.RiskConfig
}

func NewRiskPlanner(cfg service.RiskConfig) *RiskPlanner {
	return &RiskPlanner{cfg: cfg}
}

// MaxHold 最长持仓时间
func (rp *RiskPlanner) MaxHold() time.Duration {
	return time.Duration(rp.cfg.MaxHoldMinutes) * time.Minute
}

// Plan 止损距离取固定百分比与 ATR 倍数中较大者，止盈距离按风险回报比放大。
// 任何退化的括号单都返回 *model.InvalidBracketError。
func (rp *RiskPlanner) Plan(dir model.Direction, entry float64, at time.Time, atr float64) (model.ExitPlan, error) {
	if dir != model.DirLong && dir != model.DirShort {
		return model.ExitPlan{}, &model.InvalidBracketError{Entry: entry, Reason: "direction must be long or short"}
	}
	if !(entry > 0) || math.IsInf(entry, 0) {
		return model.ExitPlan{}, &model.InvalidBracketError{Entry: entry, Reason: "entry price must be positive"}
	}
	if math.IsNaN(atr) || atr < 0 {
		atr = 0
	}

	// 1. 止损距离
	slDistance := math.Max(entry*rp.cfg.StopLossPct, atr*rp.cfg.StopLossATRMult)

	// 2. 止盈距离
	tpDistance := slDistance * rp.cfg.RewardRiskRatio

	sign := dir.Sign()
	plan := model.ExitPlan{
		EntryPrice:      entry,
		StopLossPrice:   entry - sign*slDistance,
		TakeProfitPrice: entry + sign*tpDistance,
		Deadline:        at.Add(rp.MaxHold()),
		MaxHold:         rp.MaxHold(),
	}
	if err := ValidatePlan(dir, plan); err != nil {
		return model.ExitPlan{}, err
	}
	return plan, nil
}

// ValidatePlan 止损、止盈、入场价互不相等且位于正确一侧
func ValidatePlan(dir model.Direction, p model.ExitPlan) error {
	invalid := func(reason string) error {
		return &model.InvalidBracketError{Entry: p.EntryPrice, StopLoss: p.StopLossPrice, TakeProfit: p.TakeProfitPrice, Reason: reason}
	}
	switch {
	case !(p.StopLossPrice > 0) || !(p.TakeProfitPrice > 0):
		return invalid("bracket levels must be positive")
	case p.StopLossPrice == p.EntryPrice:
		return invalid("stop loss equals entry")
	case p.TakeProfitPrice == p.EntryPrice:
		return invalid("take profit equals entry")
	case p.StopLossPrice == p.TakeProfitPrice:
		return invalid("stop loss equals take profit")
	}
	if dir == model.DirLong && !(p.StopLossPrice < p.EntryPrice && p.EntryPrice < p.TakeProfitPrice) {
		return invalid("long bracket must satisfy sl < entry < tp")
	}
	if dir == model.DirShort && !(p.TakeProfitPrice < p.EntryPrice && p.EntryPrice < p.StopLossPrice) {
		return invalid("short bracket must satisfy tp < entry < sl")
	}
	return nil
}

// capHeadroom 杠杆封顶时保留的资金余量，吸收浮点误差与交易所数量取整
const capHeadroom = 0.999

// Size 仓位数量 = 当前资金 * 单笔风险 / 止损距离，再按最大杠杆封顶。
// 封顶按不利滑点后的成交价计算保证金与开仓手续费，保证封顶仓位仍能成交。
// 杠杆只影响保证金，不影响止损距离和风险计算。
func (rp *RiskPlanner) Size(plan model.ExitPlan, equity float64) float64 {
	slDistance := math.Abs(plan.EntryPrice - plan.StopLossPrice)
	if slDistance == 0 || plan.EntryPrice <= 0 || !(equity > 0) {
		return 0
	}
	maxRisk := equity * rp.cfg.MaxPerTradeRisk
	size := maxRisk / slDistance

	if rp.cfg.MaxLeverage > 0 {
		worstPrice := plan.EntryPrice * (1 + rp.cfg.SlippagePct)
		unitCost := worstPrice * (1/rp.cfg.MaxLeverage + rp.cfg.FeeRate)
		size = math.Min(size, equity*capHeadroom/unitCost)
	}
	return size
}
