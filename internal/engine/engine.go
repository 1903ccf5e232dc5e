package engine

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scalping-engine/internal/ledger"
)

// Engine 每个合约一个会话，会话之间互不共享可变状态；全部结束后关闭账本
type Engine struct {
	sessions []*Session
	ledger   *ledger.Ledger
	logger   *zap.Logger
}

func New(l *ledger.Ledger, logger *zap.Logger, sessions ...*Session) *Engine {
	return &Engine{sessions: sessions, ledger: l, logger: logger}
}

func (e *Engine) Sessions() []*Session { return e.sessions }

// Statuses 所有会话的快照
func (e *Engine) Statuses() []Status {
	out := make([]Status, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.Core().Snapshot())
	}
	return out
}

// Run 任一会话出现致命错误时取消其余会话，各会话仍会执行自身的停机流程
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range e.sessions {
		s := s
		g.Go(func() error { return s.Run(gctx) })
	}
	err := g.Wait()

	if cerr := e.ledger.Close(); cerr != nil {
		e.logger.Error("Failed to close ledger", zap.Error(cerr))
		if err == nil {
			err = cerr
		}
	}
	return err
}
