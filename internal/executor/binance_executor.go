package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scalping-engine/internal/model"
)

// orderPlacer 由 api.BinanceClient 实现
type orderPlacer interface {
	MarketOrder(ctx context.Context, symbol string, side model.OrderSide, qty float64, reduceOnly bool, clientOrderID string) (float64, time.Time, error)
}

// BinanceExecutor U 本位合约市价单，平仓单带 reduceOnly
type BinanceExecutor struct {
	client orderPlacer
	logger *zap.Logger
}

func NewBinanceExecutor(client orderPlacer, logger *zap.Logger) *BinanceExecutor {
	return &BinanceExecutor{client: client, logger: logger}
}

func (e *BinanceExecutor) Execute(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	reduceOnly := req.Intent == model.IntentClose
	price, at, err := e.client.MarketOrder(ctx, req.Instrument, req.Side, req.Size, reduceOnly, req.ID)
	if err != nil {
		return model.Fill{}, fmt.Errorf("binance %s order %s: %w", req.Intent, req.ID, err)
	}

	e.logger.Info("Binance ORDER FILLED",
		zap.String("Instrument", req.Instrument),
		zap.String("Intent", string(req.Intent)),
		zap.String("Side", string(req.Side)),
		zap.Float64("Reference", req.Price),
		zap.Float64("Filled", price),
		zap.Float64("SlippagePct", (price-req.Price)/req.Price*100))
	return model.Fill{OrderID: req.ID, FilledPrice: price, FilledTime: at}, nil
}
