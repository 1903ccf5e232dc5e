// Package feed 提供 K 线来源：回测文件、交易所历史数据与实时推送
package feed

import (
	"context"

	"scalping-engine/internal/model"
)

// Feed 按时间顺序将已完成的 K 线写入 out。
// 数据耗尽时返回 nil，ctx 取消时返回 ctx.Err()。Stream 不负责关闭 out。
type Feed interface {
	Stream(ctx context.Context, out chan<- model.Candle) error
}

// SliceFeed 内存中的 K 线序列
type SliceFeed struct {
	Candles []model.Candle
}

func (f *SliceFeed) Stream(ctx context.Context, out chan<- model.Candle) error {
	return send(ctx, f.Candles, out)
}

func send(ctx context.Context, candles []model.Candle, out chan<- model.Candle) error {
	for _, c := range candles {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
