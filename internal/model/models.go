package model

import (
	"math"
	"time"
)

// Ticker 代表最小粒度的市场数据（逐笔成交）
type Ticker struct {
	Instrument   string  // 所属合约，例如 "BTCUSDT"
	Timestamp    int64   // 毫秒时间戳
	Price        float64 // 成交价格
	Volume       float64 // 成交量
	IsBuyerMaker bool    // 是否为 Maker 买方 (用于判断主动方向)
}

// Candle 代表一根已完成的 OHLCV K 线，追加进缓冲区后不可修改
type Candle struct {
	Instrument string
	OpenTime   time.Time // 开盘时间，同一合约内严格递增
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// IsUp 收盘价高于开盘价
func (c Candle) IsUp() bool { return c.Close > c.Open }

// IsDown 收盘价低于开盘价
func (c Candle) IsDown() bool { return c.Close < c.Open }

// Direction 返回 K 线方向，十字星返回 DirFlat
func (c Candle) Direction() Direction {
	switch {
	case c.IsUp():
		return DirLong
	case c.IsDown():
		return DirShort
	default:
		return DirFlat
	}
}

// BodyRatio 实体占整根 K 线振幅的比例，high == low 时为 0
func (c Candle) BodyRatio() float64 {
	rng := c.High - c.Low
	if rng <= 0 {
		return 0
	}
	return math.Abs(c.Close-c.Open) / rng
}

// Validate 检查价格是否为正、高低点是否包住开收盘
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return &MalformedCandleError{Instrument: c.Instrument, OpenTime: c.OpenTime, Reason: "non-positive or non-finite price"}
		}
	}
	if math.IsNaN(c.Volume) || c.Volume < 0 {
		return &MalformedCandleError{Instrument: c.Instrument, OpenTime: c.OpenTime, Reason: "negative volume"}
	}
	if c.High < math.Max(c.Open, c.Close) {
		return &MalformedCandleError{Instrument: c.Instrument, OpenTime: c.OpenTime, Reason: "high below body"}
	}
	if c.Low > math.Min(c.Open, c.Close) {
		return &MalformedCandleError{Instrument: c.Instrument, OpenTime: c.OpenTime, Reason: "low above body"}
	}
	if c.OpenTime.IsZero() {
		return &MalformedCandleError{Instrument: c.Instrument, OpenTime: c.OpenTime, Reason: "missing open time"}
	}
	return nil
}

// 市场状态 (Regime)
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
	RegimeUnknown  Regime = "UNKNOWN" // 历史数据不足
)

// MarketStructure 市场结构分类结果
type MarketStructure struct {
	Regime      Regime
	Trend       Direction // 仅在 RegimeTrending 时有意义
	ATR         float64
	Persistence float64 // 同向收盘占比 [0,1]
	Volatility  float64 // 收盘收益率标准差
}
