package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"scalping-engine/internal/api"
	"scalping-engine/internal/engine"
	"scalping-engine/internal/executor"
	"scalping-engine/internal/feed"
	"scalping-engine/internal/ledger"
	"scalping-engine/internal/notify"
	"scalping-engine/internal/server"
	"scalping-engine/internal/service"
)

func main() {
	flags := pflag.NewFlagSet("scalper", pflag.ExitOnError)
	configPath := flags.String("config", "config", "config directory or yaml file")
	flags.String("mode", "backtest", "backtest or live")
	flags.StringSlice("instrument", nil, "instrument to trade, repeatable (e.g. BTCUSDT)")
	flags.String("csv", "", "candle csv for backtest replay")
	_ = flags.Parse(os.Args[1:])

	cfg, err := service.LoadConfig(*configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	service.InitLogger(cfg.Log.Level)
	defer service.Logger.Sync()
	logger := service.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting scalping engine",
		zap.String("Mode", cfg.Mode),
		zap.Strings("Instruments", cfg.Instruments),
		zap.String("Interval", cfg.Interval),
		zap.String("SignalMode", cfg.Pattern.SignalMode))

	// 1. 账本
	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open ledger", zap.Error(err))
	}
	tradeLedger := ledger.NewLedger(store, cfg.SessionLocation(), logger)

	// 2. 通知
	dispatcher := newDispatcher(cfg, logger)
	go dispatcher.Run()

	// 3. 运行
	switch cfg.Mode {
	case "live":
		err = runLive(ctx, cfg, tradeLedger, dispatcher, logger)
	default:
		err = runBacktest(ctx, cfg, tradeLedger, dispatcher, logger)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := dispatcher.Close(closeCtx); cerr != nil {
		logger.Warn("Notifications not fully delivered", zap.Error(cerr))
	}
	if dropped := dispatcher.Dropped(); dropped > 0 {
		logger.Warn("Notifications dropped", zap.Int64("Count", dropped))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Engine stopped with error", zap.Error(err))
	}
	logger.Info("Engine stopped")
}

func openStore(cfg *service.Config) (ledger.Store, error) {
	switch {
	case cfg.Mode == "backtest":
		return ledger.NewFileStore(cfg.Ledger.BacktestPath)
	case cfg.Ledger.Driver == "postgres":
		return ledger.NewGormStore(cfg.Ledger.DSN)
	default:
		return ledger.NewFileStore(cfg.Ledger.Path)
	}
}

func newDispatcher(cfg *service.Config, logger *zap.Logger) *notify.Dispatcher {
	sinks := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Notify.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordNotifier(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.Warn("Telegram notifier disabled", zap.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	return notify.NewDispatcher(cfg.Notify.QueueSize, 10*time.Second, logger, sinks...)
}

func sessionConfig(cfg *service.Config) engine.SessionConfig {
	return engine.SessionConfig{QueueSize: cfg.QueueSize, OrderTimeout: cfg.OrderTimeout, CloseRetries: 3}
}

func simulatorConfig(cfg *service.Config) executor.SimulatorConfig {
	return executor.SimulatorConfig{
		InitialCapital: cfg.Risk.Capital,
		Leverage:       cfg.Risk.MaxLeverage,
		FeeRate:        cfg.Risk.FeeRate,
		SlippagePct:    cfg.Risk.SlippagePct,
	}
}

// runBacktest 每个合约独立的模拟账户，结束后输出回测报告
func runBacktest(ctx context.Context, cfg *service.Config, l *ledger.Ledger, events notify.Publisher, logger *zap.Logger) error {
	var client *api.BinanceClient
	if cfg.Backtest.Source == "binance" {
		client = api.NewBinanceClient(cfg.Exchange, logger)
	}
	to := time.Now().UTC().Truncate(cfg.BarInterval())
	from := to.AddDate(0, 0, -cfg.Backtest.Days)

	sessions := make([]*engine.Session, 0, len(cfg.Instruments))
	simulators := make([]*executor.SimulatorExecutor, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		var f feed.Feed
		if client != nil {
			f = feed.NewBinanceHistoryFeed(client, inst, cfg.BarInterval(), from, to, logger)
		} else {
			f = feed.NewCSVFeed(strings.ReplaceAll(cfg.Backtest.CSVPath, "{instrument}", inst), inst, logger)
		}

		sim := executor.NewSimulatorExecutor(simulatorConfig(cfg), logger)
		core := engine.NewCore(inst, cfg, l, events, logger)
		sessions = append(sessions, engine.NewSession(core, f, sim, ledger.NewRiskState(inst), events, sessionConfig(cfg), logger))
		simulators = append(simulators, sim)
	}

	err := engine.New(l, logger, sessions...).Run(ctx)

	for i, s := range sessions {
		report := engine.NewReport(s.Core().Instrument(), s.Core().Trades(), simulators[i].Account().Equity)
		logger.Info(report.String())
		events.Publish(notify.Event{
			Type:       notify.EventBacktestResult,
			Instrument: report.Instrument,
			Time:       time.Now().UTC(),
			Report:     report.Fields(),
		})
	}
	return err
}

// runLive 没有 API Key 时使用模拟执行器 (纸面交易)
func runLive(ctx context.Context, cfg *service.Config, l *ledger.Ledger, events notify.Publisher, logger *zap.Logger) error {
	client := api.NewBinanceClient(cfg.Exchange, logger)

	var exec executor.Executor
	if cfg.Exchange.APIKey != "" && cfg.Exchange.SecretKey != "" {
		exec = executor.NewBinanceExecutor(client, logger)
	} else {
		logger.Warn("No exchange credentials, live mode runs with simulated fills")
		exec = executor.NewSimulatorExecutor(simulatorConfig(cfg), logger)
	}

	sessions := make([]*engine.Session, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		var f feed.Feed
		switch cfg.Exchange.Feed {
		case "okx":
			f = feed.NewOkxTradeFeed(cfg.Exchange.WSURL, inst, cfg.BarInterval(), logger)
		default:
			f = feed.NewBinanceKlineFeed(client, inst, cfg.BarInterval(), logger)
		}

		// 重启后从账本恢复当日风控状态
		rs := ledger.NewRiskState(inst)
		if err := l.Restore(ctx, rs, time.Now()); err != nil {
			return fmt.Errorf("restore %s: %w", inst, err)
		}

		core := engine.NewCore(inst, cfg, l, events, logger)
		sessions = append(sessions, engine.NewSession(core, f, exec, rs, events, sessionConfig(cfg), logger))
	}
	eng := engine.New(l, logger, sessions...)

	if cfg.Server.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		go func() {
			if err := server.Serve(ctx, cfg.Server.Addr, server.NewRouter(eng, l), logger); err != nil {
				logger.Error("Status API failed", zap.Error(err))
			}
		}()
	}

	return eng.Run(ctx)
}
