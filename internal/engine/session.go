package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scalping-engine/internal/executor"
	"scalping-engine/internal/feed"
	"scalping-engine/internal/ledger"
	"scalping-engine/internal/model"
	"scalping-engine/internal/notify"
)

// SessionConfig 会话的队列与超时参数
type SessionConfig struct {
	QueueSize    int           // K 线队列容量
	OrderTimeout time.Duration // 单笔订单执行超时
	CloseRetries int           // 停机强平的重试次数
}

type execResult struct {
	req  model.OrderRequest
	fill model.Fill
	err  error
}

// Session 驱动单一合约的 Core：行情协程写入有界队列，执行协程处理订单并回传结果，
// 所有状态修改都发生在 Run 所在的协程。
type Session struct {
	core   *Core
	feed   feed.Feed
	exec   executor.Executor
	risk   *ledger.RiskState
	events notify.Publisher
	cfg    SessionConfig
	logger *zap.Logger
}

func NewSession(core *Core, f feed.Feed, exec executor.Executor, rs *ledger.RiskState, events notify.Publisher, cfg SessionConfig, logger *zap.Logger) *Session {
	if events == nil {
		events = notify.Discard{}
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 15 * time.Second
	}
	if cfg.CloseRetries < 1 {
		cfg.CloseRetries = 3
	}
	return &Session{
		core:   core,
		feed:   f,
		exec:   exec,
		risk:   rs,
		events: events,
		cfg:    cfg,
		logger: logger.With(zap.String("Instrument", core.Instrument())),
	}
}

func (s *Session) Core() *Core { return s.core }

func (s *Session) Risk() *ledger.RiskState { return s.risk }

// Run 直到行情耗尽、ctx 取消或发生致命错误。
// 正常结束时先强平持仓，再发布当日汇总。
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Session started")
	s.events.Publish(notify.Event{Type: notify.EventStatus, Instrument: s.core.Instrument(), Time: time.Now().UTC(), Message: "session started"})

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	candles := make(chan model.Candle, s.cfg.QueueSize)
	feedDone := make(chan error, 1)
	go func() {
		defer close(candles)
		feedDone <- s.feed.Stream(feedCtx, candles)
	}()

	// 执行协程使用独立的 ctx，保证停机强平在主 ctx 取消后仍能下单
	orders := make(chan model.OrderRequest, 1)
	results := make(chan execResult, 1)
	workerDone := make(chan struct{})
	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(workerDone)
		for req := range orders {
			octx, cancel := context.WithTimeout(execCtx, s.cfg.OrderTimeout)
			fill, err := s.exec.Execute(octx, req)
			cancel()
			results <- execResult{req: req, fill: fill, err: err}
		}
	}()
	defer func() {
		close(orders)
		<-workerDone
	}()

	for {
		// 有在途订单时只等待成交结果
		if s.core.AwaitingFill() {
			res := <-results
			if err := s.core.OnFill(execCtx, s.risk, res.req, res.fill, res.err); err != nil {
				return s.halt(err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Session cancelled, shutting down")
			return s.shutdown(execCtx, orders, results, nil)

		case candle, ok := <-candles:
			if !ok {
				feedErr := <-feedDone
				if feedErr != nil && !errors.Is(feedErr, context.Canceled) {
					s.logger.Error("Feed failed", zap.Error(feedErr))
					return s.shutdown(execCtx, orders, results, fmt.Errorf("feed %s: %w", s.core.Instrument(), feedErr))
				}
				s.logger.Info("Feed exhausted, shutting down")
				return s.shutdown(execCtx, orders, results, nil)
			}

			if funded, ok := s.exec.(executor.Funded); ok {
				s.risk.Available = funded.Available()
			}
			req, err := s.core.Step(s.risk, candle)
			if err != nil {
				if errors.Is(err, model.ErrInvariantViolation) {
					return s.halt(err)
				}
				continue
			}
			if req != nil {
				orders <- *req
			}
		}
	}
}

// halt 致命错误：不再下单，直接终止会话
func (s *Session) halt(err error) error {
	s.logger.Error("Session halted", zap.Error(err))
	s.events.Publish(notify.Event{Type: notify.EventError, Instrument: s.core.Instrument(), Time: time.Now().UTC(), Message: err.Error()})
	return err
}

// shutdown 强平持仓 (有限次重试)，发布当日汇总
func (s *Session) shutdown(ctx context.Context, orders chan<- model.OrderRequest, results <-chan execResult, cause error) error {
	for attempt := 1; attempt <= s.cfg.CloseRetries; attempt++ {
		req := s.core.ForceClose()
		if req == nil {
			break
		}
		s.logger.Warn("Force closing position", zap.Int("Attempt", attempt), zap.String("Order", req.String()))
		orders <- *req
		res := <-results
		if err := s.core.OnFill(ctx, s.risk, res.req, res.fill, res.err); err != nil {
			return s.halt(err)
		}
	}
	if pos, open := s.core.machine.Position(); open {
		err := fmt.Errorf("position %s still open after %d close attempts", pos.ID, s.cfg.CloseRetries)
		s.logger.Error("Force close failed", zap.Error(err))
		s.events.Publish(notify.Event{Type: notify.EventError, Instrument: s.core.Instrument(), Time: time.Now().UTC(), Message: err.Error()})
		if cause == nil {
			cause = err
		}
	}

	summary := s.core.Summary(s.risk)
	s.logger.Info(summary.String())
	s.events.Publish(notify.Event{Type: notify.EventDailySummary, Instrument: s.core.Instrument(), Time: summary.Day, Summary: &summary})
	s.logger.Info("Session stopped", zap.Int("Trades", len(s.core.trades)))
	return cause
}
