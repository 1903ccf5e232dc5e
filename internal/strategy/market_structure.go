package strategy

import (
	"fmt"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
	"scalping-engine/pkg/ta"
)

// StructureClassifier 根据波动率与方向持续性划分市场状态
type StructureClassifier struct {
	cfg service.StructureConfig
}

func NewStructureClassifier(cfg service.StructureConfig) *StructureClassifier {
	return &StructureClassifier{cfg: cfg}
}

// WindowSize 分类所需的历史长度 (ATR 需要多一根作为前收盘)
func (sc *StructureClassifier) WindowSize() int {
	return max(sc.cfg.Lookback, sc.cfg.ATRPeriod+1)
}

// Classify 纯查询。历史不足 Lookback 时返回 RegimeUnknown，ATR 仍按可用数据给出
func (sc *StructureClassifier) Classify(window []model.Candle) model.MarketStructure {
	ms := model.MarketStructure{
		Regime: model.RegimeUnknown,
		Trend:  model.DirFlat,
		ATR:    ta.ATR(window, sc.cfg.ATRPeriod),
	}

	lookback := window
	if len(lookback) > sc.cfg.Lookback {
		lookback = lookback[len(lookback)-sc.cfg.Lookback:]
	}
	if len(lookback) < sc.cfg.Lookback || len(lookback) < 3 {
		return ms
	}

	ms.Persistence, ms.Trend = ta.Persistence(lookback)
	ms.Volatility = ta.ReturnVolatility(lookback)

	if ms.Trend != model.DirFlat && ms.Persistence > sc.cfg.PersistenceThreshold {
		ms.Regime = model.RegimeTrending
	} else {
		ms.Regime = model.RegimeRanging
		ms.Trend = model.DirFlat
	}
	return ms
}

// Gate 逆势过滤与波动率区间过滤，返回 *model.RejectionError
func (sc *StructureClassifier) Gate(ms model.MarketStructure, dir model.Direction) error {
	if ms.Regime == model.RegimeTrending && dir == ms.Trend.Opposite() {
		return &model.RejectionError{
			Reason: model.RejectCounterTrend,
			Detail: fmt.Sprintf("%s signal against %s trend (persistence %.2f)", dir, ms.Trend, ms.Persistence),
		}
	}
	if ms.Regime == model.RegimeUnknown {
		return nil
	}
	if sc.cfg.MinVolatility > 0 && ms.Volatility < sc.cfg.MinVolatility {
		return &model.RejectionError{
			Reason: model.RejectVolatility,
			Detail: fmt.Sprintf("volatility %.6f below %.6f", ms.Volatility, sc.cfg.MinVolatility),
		}
	}
	if sc.cfg.MaxVolatility > 0 && ms.Volatility > sc.cfg.MaxVolatility {
		return &model.RejectionError{
			Reason: model.RejectVolatility,
			Detail: fmt.Sprintf("volatility %.6f above %.6f", ms.Volatility, sc.cfg.MaxVolatility),
		}
	}
	return nil
}
