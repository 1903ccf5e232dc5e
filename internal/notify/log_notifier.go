package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier 把事件写入日志，始终启用
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("Type", string(e.Type)),
		zap.String("Instrument", e.Instrument),
		zap.Time("EventTime", e.Time),
	}
	if e.Type == EventError {
		n.logger.Error(e.Title()+": "+e.Text(), fields...)
		return nil
	}
	n.logger.Info(e.Title()+": "+e.Text(), fields...)
	return nil
}
