package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

// klinesPageLimit 单次请求的最大 K 线数
const klinesPageLimit = 1500

// BinanceClient 封装 USDT 永续合约 REST/WS 接口，所有 REST 请求经过限速和指数退避重试
type BinanceClient struct {
	client      *futures.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	maxRetries  int
	backoff     time.Duration

	mu        sync.Mutex
	stepSizes map[string]decimal.Decimal // 交易对数量精度
}

func NewBinanceClient(cfg service.ExchangeConfig, logger *zap.Logger) *BinanceClient {
	// 需要在创建客户端之前设置
	futures.UseTestnet = cfg.Testnet

	httpClient := &http.Client{
		Timeout: time.Second * 10,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	futuresClient := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	futuresClient.HTTPClient = httpClient
	if cfg.RESTURL != "" {
		futuresClient.BaseURL = cfg.RESTURL
	}

	return &BinanceClient{
		client:      futuresClient,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:      logger,
		maxRetries:  3,
		backoff:     100 * time.Millisecond,
		stepSizes:   make(map[string]decimal.Decimal),
	}
}

// withRetry 限速后执行 fn，失败时按 2^n * backoff 退避
func (c *BinanceClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if werr := c.rateLimiter.Wait(ctx); werr != nil {
			return werr
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt == c.maxRetries || ctx.Err() != nil {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		c.logger.Warn("Binance request failed, retrying",
			zap.String("Op", op),
			zap.Int("Attempt", attempt+1),
			zap.Duration("Backoff", waitTime),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetKlines 单页 K 线
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, startTime, endTime int64) ([]*futures.Kline, error) {
	var klines []*futures.Kline
	err := c.withRetry(ctx, "klines", func() error {
		var err error
		klines, err = c.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(startTime).
			EndTime(endTime).
			Limit(klinesPageLimit).
			Do(ctx)
		return err
	})
	return klines, err
}

// HistoricalCandles 分页拉取 [from, to) 内已收盘的 K 线
func (c *BinanceClient) HistoricalCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Candle, error) {
	step, err := service.ParseIntervalDuration(interval)
	if err != nil {
		return nil, err
	}

	var out []model.Candle
	for start := from.UnixMilli(); start < to.UnixMilli(); {
		klines, err := c.GetKlines(ctx, symbol, interval, start, to.UnixMilli()-1)
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			if k.CloseTime >= to.UnixMilli() {
				continue
			}
			candle, err := KlineToCandle(symbol, k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
			if err != nil {
				c.logger.Warn("Skipping unparsable kline", zap.String("Symbol", symbol), zap.Error(err))
				continue
			}
			out = append(out, candle)
		}
		start = klines[len(klines)-1].OpenTime + step.Milliseconds()
	}
	return out, nil
}

// KlineToCandle 字符串价格转为 Candle
func KlineToCandle(symbol string, openTime int64, open, high, low, closePrice, volume string) (model.Candle, error) {
	vals := make([]float64, 5)
	for i, s := range []string{open, high, low, closePrice, volume} {
		v, err := service.StringToFloat(s)
		if err != nil {
			return model.Candle{}, err
		}
		vals[i] = v
	}
	return model.Candle{
		Instrument: symbol,
		OpenTime:   time.UnixMilli(openTime).UTC(),
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4],
	}, nil
}

// stepSize 从交易规则中读取数量步长并缓存
func (c *BinanceClient) stepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	step, ok := c.stepSizes[symbol]
	c.mu.Unlock()
	if ok {
		return step, nil
	}

	var info *futures.ExchangeInfo
	err := c.withRetry(ctx, "exchange info", func() error {
		var err error
		info, err = c.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if f := s.LotSizeFilter(); f != nil {
			if d, err := decimal.NewFromString(f.StepSize); err == nil && d.IsPositive() {
				c.stepSizes[s.Symbol] = d
			}
		}
	}
	step, ok = c.stepSizes[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown symbol %s", symbol)
	}
	return step, nil
}

// FormatQuantity 按步长向下取整
func FormatQuantity(qty float64, step decimal.Decimal) string {
	if !step.IsPositive() {
		return decimal.NewFromFloat(qty).String()
	}
	return decimal.NewFromFloat(qty).Div(step).Floor().Mul(step).String()
}

// MarketOrder 市价单。clientOrderID 使用引擎的订单 ID，交易所会拒绝重复 ID，因此不做自动重试。
// 返回成交均价与成交时间。
func (c *BinanceClient) MarketOrder(ctx context.Context, symbol string, side model.OrderSide, qty float64, reduceOnly bool, clientOrderID string) (float64, time.Time, error) {
	step, err := c.stepSize(ctx, symbol)
	if err != nil {
		return 0, time.Time{}, err
	}
	quantity := FormatQuantity(qty, step)
	if d, _ := decimal.NewFromString(quantity); !d.IsPositive() {
		return 0, time.Time{}, fmt.Errorf("quantity %f below step %s", qty, step)
	}

	sideType := futures.SideTypeBuy
	if side == model.SideSell {
		sideType = futures.SideTypeSell
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, time.Time{}, err
	}
	resp, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		ReduceOnly(reduceOnly).
		NewClientOrderID(clientOrderID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("create order: %w", err)
	}
	c.logger.Info("Binance order accepted",
		zap.String("Symbol", symbol),
		zap.String("Side", string(side)),
		zap.String("Quantity", quantity),
		zap.Bool("ReduceOnly", reduceOnly),
		zap.String("Status", string(resp.Status)))

	if resp.Status == futures.OrderStatusTypeFilled {
		if price, err := service.StringToFloat(resp.AvgPrice); err == nil && price > 0 {
			return price, time.UnixMilli(resp.UpdateTime).UTC(), nil
		}
	}
	return c.awaitFill(ctx, symbol, clientOrderID)
}

// awaitFill 轮询订单直到完全成交
func (c *BinanceClient) awaitFill(ctx context.Context, symbol, clientOrderID string) (float64, time.Time, error) {
	wait := 200 * time.Millisecond
	for {
		var order *futures.Order
		err := c.withRetry(ctx, "get order", func() error {
			var err error
			order, err = c.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
			return err
		})
		if err != nil {
			return 0, time.Time{}, err
		}

		switch order.Status {
		case futures.OrderStatusTypeFilled:
			price, err := service.StringToFloat(order.AvgPrice)
			if err != nil {
				return 0, time.Time{}, fmt.Errorf("parse avg price %q: %w", order.AvgPrice, err)
			}
			return price, time.UnixMilli(order.UpdateTime).UTC(), nil
		case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
			return 0, time.Time{}, fmt.Errorf("order %s ended as %s", clientOrderID, order.Status)
		}

		select {
		case <-ctx.Done():
			return 0, time.Time{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ErrStreamClosed 行情推送连接被服务端关闭
var ErrStreamClosed = errors.New("kline stream closed")

// StreamKlines 订阅 K 线推送，只转发已收盘的 K 线，ctx 取消时关闭连接
func (c *BinanceClient) StreamKlines(ctx context.Context, symbol, interval string, out chan<- model.Candle) error {
	errCh := make(chan error, 1)
	handler := func(event *futures.WsKlineEvent) {
		k := event.Kline
		if !k.IsFinal {
			return
		}
		candle, err := KlineToCandle(strings.ToUpper(symbol), k.StartTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			c.logger.Warn("Skipping unparsable kline", zap.String("Symbol", symbol), zap.Error(err))
			return
		}
		select {
		case out <- candle:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	doneC, stopC, err := futures.WsKlineServe(symbol, interval, handler, errHandler)
	if err != nil {
		return fmt.Errorf("subscribe klines %s: %w", symbol, err)
	}
	c.logger.Info("Subscribed to Binance kline stream", zap.String("Symbol", symbol), zap.String("Interval", interval))

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errCh:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return ErrStreamClosed
	}
}
