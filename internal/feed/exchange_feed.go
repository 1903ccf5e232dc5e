package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scalping-engine/internal/api"
	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

// BinanceHistoryFeed 回测时从 Binance 拉取 [From, To) 的历史 K 线
type BinanceHistoryFeed struct {
	Client     *api.BinanceClient
	Instrument string
	Interval   string
	From, To   time.Time
	logger     *zap.Logger
}

func NewBinanceHistoryFeed(client *api.BinanceClient, instrument string, interval time.Duration, from, to time.Time, logger *zap.Logger) *BinanceHistoryFeed {
	return &BinanceHistoryFeed{
		Client:     client,
		Instrument: instrument,
		Interval:   service.FormatInterval(interval),
		From:       from,
		To:         to,
		logger:     logger,
	}
}

func (f *BinanceHistoryFeed) Stream(ctx context.Context, out chan<- model.Candle) error {
	candles, err := f.Client.HistoricalCandles(ctx, f.Instrument, f.Interval, f.From, f.To)
	if err != nil {
		return fmt.Errorf("fetch history %s: %w", f.Instrument, err)
	}
	f.logger.Info("Historical candles loaded",
		zap.String("Instrument", f.Instrument),
		zap.Int("Count", len(candles)),
		zap.Time("From", f.From),
		zap.Time("To", f.To))
	return send(ctx, candles, out)
}

// BinanceKlineFeed 实盘订阅 Binance K 线推送，断线后重连
type BinanceKlineFeed struct {
	Client         *api.BinanceClient
	Instrument     string
	Interval       string
	ReconnectDelay time.Duration
	logger         *zap.Logger
}

func NewBinanceKlineFeed(client *api.BinanceClient, instrument string, interval time.Duration, logger *zap.Logger) *BinanceKlineFeed {
	return &BinanceKlineFeed{
		Client:         client,
		Instrument:     instrument,
		Interval:       service.FormatInterval(interval),
		ReconnectDelay: 5 * time.Second,
		logger:         logger,
	}
}

func (f *BinanceKlineFeed) Stream(ctx context.Context, out chan<- model.Candle) error {
	for {
		err := f.Client.StreamKlines(ctx, f.Instrument, f.Interval, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Error("Binance kline stream ended, attempting to reconnect...",
			zap.String("Instrument", f.Instrument), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.ReconnectDelay):
		}
	}
}

// OkxTradeFeed 实盘订阅 Okx 逐笔成交，本地聚合为 K 线
type OkxTradeFeed struct {
	WSURL      string
	Instrument string
	Interval   time.Duration
	logger     *zap.Logger
}

func NewOkxTradeFeed(wsURL, instrument string, interval time.Duration, logger *zap.Logger) *OkxTradeFeed {
	return &OkxTradeFeed{WSURL: wsURL, Instrument: instrument, Interval: interval, logger: logger}
}

func (f *OkxTradeFeed) Stream(ctx context.Context, out chan<- model.Candle) error {
	tickers := make(chan model.Ticker, 1000)
	connector := api.NewConnector(f.WSURL, []string{f.Instrument}, f.logger)
	aggregator := model.NewCandleAggregator(f.Instrument, f.Interval, f.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return connector.Run(gctx, tickers) })
	g.Go(func() error { return aggregator.Run(gctx, tickers, out) })
	return g.Wait()
}
