package notify

import (
	"context"
	"fmt"
	"time"

	"scalping-engine/internal/model"
)

type EventType string

const (
	EventSignalDetected EventType = "signal_detected"
	EventSignalRejected EventType = "signal_rejected"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventDailySummary   EventType = "daily_summary"
	EventBacktestResult EventType = "backtest_result"
	EventStatus         EventType = "status" // 启动/停止
	EventError          EventType = "error"
)

// Event 发给通知渠道的结构化消息，按类型只填充对应字段
type Event struct {
	Type       EventType
	Instrument string
	Time       time.Time
	Message    string

	Signal    *model.Signal
	Rejection *model.RejectionError
	Position  *model.Position
	Trade     *model.TradeRecord
	Summary   *model.DailySummary
	Report    map[string]string // 回测报告，键值已格式化
}

// Title 用于日志与消息标题
func (e Event) Title() string {
	switch e.Type {
	case EventSignalDetected:
		return "Signal detected"
	case EventSignalRejected:
		return "Signal rejected"
	case EventPositionOpened:
		return "Position opened"
	case EventPositionClosed:
		if e.Trade != nil && !e.Trade.IsLoss() {
			return "Position closed (profit)"
		}
		return "Position closed (loss)"
	case EventDailySummary:
		return "Daily summary"
	case EventBacktestResult:
		return "Backtest result"
	case EventStatus:
		return "Engine status"
	default:
		return "Engine error"
	}
}

// Text 单行纯文本描述
func (e Event) Text() string {
	switch {
	case e.Signal != nil:
		return e.Signal.String()
	case e.Rejection != nil:
		return fmt.Sprintf("[%s] %s", e.Instrument, e.Rejection.Error())
	case e.Trade != nil:
		t := e.Trade
		return fmt.Sprintf("[%s] %s %s -> %s | %.4f -> %.4f | pnl %.4f%% | hold %s",
			t.Instrument, t.Direction, t.ID, t.ExitReason, t.EntryPrice, t.ExitPrice, t.PnLPct, t.HoldDuration)
	case e.Position != nil:
		p := e.Position
		return fmt.Sprintf("[%s] %s %.6f @ %.4f | SL %.4f | TP %.4f | until %s",
			p.Instrument, p.Direction, p.Size, p.EntryPrice, p.Plan.StopLossPrice, p.Plan.TakeProfitPrice,
			p.Plan.Deadline.Format(time.RFC3339))
	case e.Summary != nil:
		return e.Summary.String()
	}
	if e.Instrument != "" {
		return fmt.Sprintf("[%s] %s", e.Instrument, e.Message)
	}
	return e.Message
}

// Notifier 单个通知渠道，失败只返回错误，不影响交易状态
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Publisher 引擎侧的发送接口，必须非阻塞
type Publisher interface {
	Publish(e Event)
}

// Discard 丢弃所有事件
type Discard struct{}

func (Discard) Publish(Event) {}
