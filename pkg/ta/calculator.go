// Package ta 基于 go-talib 的指标计算，输入为缓冲区窗口 (旧 -> 新)
package ta

import (
	"math"

	"github.com/markcheno/go-talib"

	"scalping-engine/internal/model"
)

// series 将 K 线拆成 talib 需要的价格序列
func series(candles []model.Candle) (high, low, closes, volume []float64) {
	high = make([]float64, len(candles))
	low = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	volume = make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}
	return high, low, closes, volume
}

// TrueRange 真实波动幅度，prev 为空时退化为 high-low
func TrueRange(prev *model.Candle, cur model.Candle) float64 {
	tr := cur.High - cur.Low
	if prev == nil {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR 平均真实波动范围。
// 历史足够时使用 talib (Wilder 平滑)，不足时取可用 K 线真实波动的简单平均。
func ATR(candles []model.Candle, period int) float64 {
	if len(candles) == 0 || period < 1 {
		return 0
	}

	if len(candles) > period {
		high, low, closes, _ := series(candles)
		atr := talib.Atr(high, low, closes, period)
		return atr[len(atr)-1]
	}

	var sum float64
	for i := range candles {
		var prev *model.Candle
		if i > 0 {
			prev = &candles[i-1]
		}
		sum += TrueRange(prev, candles[i])
	}
	return sum / float64(len(candles))
}

// Persistence 同向收盘比例以及占多数的方向
func Persistence(candles []model.Candle) (float64, model.Direction) {
	if len(candles) < 2 {
		return 0, model.DirFlat
	}
	var ups, downs int
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			ups++
		case candles[i].Close < candles[i-1].Close:
			downs++
		}
	}
	steps := float64(len(candles) - 1)
	switch {
	case ups > downs:
		return float64(ups) / steps, model.DirLong
	case downs > ups:
		return float64(downs) / steps, model.DirShort
	default:
		return float64(ups) / steps, model.DirFlat
	}
}

// ReturnVolatility 收盘收益率的总体标准差
func ReturnVolatility(candles []model.Candle) float64 {
	if len(candles) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		returns = append(returns, candles[i].Close/candles[i-1].Close-1)
	}
	std := talib.StdDev(returns, len(returns), 1)
	return std[len(std)-1]
}

// AverageVolume 窗口平均成交量
func AverageVolume(candles []model.Candle) float64 {
	switch len(candles) {
	case 0:
		return 0
	case 1:
		return candles[0].Volume
	}
	_, _, _, volume := series(candles)
	sma := talib.Sma(volume, len(volume))
	return sma[len(sma)-1]
}
