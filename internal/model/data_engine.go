package model

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// CandleAggregator 将单一合约的逐笔成交聚合为固定周期的 K 线
type CandleAggregator struct {
	Instrument string
	Interval   time.Duration
	current    Candle // 正在构建的当前 K 线
	started    bool
	lastClose  float64
	logger     *zap.Logger
}

// NewCandleAggregator 创建一个新的聚合器
func NewCandleAggregator(instrument string, interval time.Duration, logger *zap.Logger) *CandleAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CandleAggregator{
		Instrument: instrument,
		Interval:   interval,
		logger:     logger,
	}
}

// ProcessTicker 将 Ticker 聚合到当前 K 线。
// 当 Ticker 进入新的周期时，返回上一根已完成的 K 线。
func (agg *CandleAggregator) ProcessTicker(t Ticker) (Candle, bool) {
	if t.Instrument != agg.Instrument || t.Price <= 0 {
		return Candle{}, false
	}

	// 1. 将 Ticker 时间戳对齐到 K 线起始时间
	start := time.UnixMilli(t.Timestamp).UTC().Truncate(agg.Interval)

	// 迟到的成交直接丢弃，已发出的 K 线不可修改
	if agg.started && start.Before(agg.current.OpenTime) {
		return Candle{}, false
	}

	var completed Candle
	var done bool

	// 2. 检查 K 线是否完成
	if agg.started && start.After(agg.current.OpenTime) {
		completed = agg.current
		done = true
		agg.lastClose = completed.Close
		agg.started = false
	}

	// 3. 初始化新 K 线，开盘价取上一根的收盘价 (首根取成交价)
	if !agg.started {
		open := t.Price
		if agg.lastClose > 0 {
			open = agg.lastClose
		}
		agg.current = Candle{
			Instrument: agg.Instrument,
			OpenTime:   start,
			Open:       open,
			High:       math.Max(open, t.Price),
			Low:        math.Min(open, t.Price),
		}
		agg.started = true
	}

	// 4. 更新 HLCV
	agg.current.Close = t.Price
	agg.current.High = math.Max(agg.current.High, t.Price)
	agg.current.Low = math.Min(agg.current.Low, t.Price)
	agg.current.Volume += t.Volume

	return completed, done
}

// Run 消费 Ticker 通道并输出已完成的 K 线，in 关闭或 ctx 取消时返回
func (agg *CandleAggregator) Run(ctx context.Context, in <-chan Ticker, out chan<- Candle) error {
	agg.logger.Info("CandleAggregator started",
		zap.String("Instrument", agg.Instrument),
		zap.Duration("Interval", agg.Interval))
	defer agg.logger.Info("CandleAggregator stopped", zap.String("Instrument", agg.Instrument))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-in:
			if !ok {
				return nil
			}
			c, done := agg.ProcessTicker(t)
			if !done {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
