package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Dispatcher 有界队列 + 单个投递协程，把事件扇出到所有通知渠道。
// 队列满时丢弃新事件，投递失败只记录日志。
type Dispatcher struct {
	queue   chan Event
	sinks   []Notifier
	timeout time.Duration
	logger  *zap.Logger

	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.RWMutex // 保护 queue 关闭与 Publish 的竞争
	done    chan struct{}
}

func NewDispatcher(queueSize int, timeout time.Duration, logger *zap.Logger, sinks ...Notifier) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:   make(chan Event, queueSize),
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Publish 非阻塞入队
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case d.queue <- e:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("Notification queue full, dropping event",
			zap.String("Type", string(e.Type)),
			zap.Int64("Dropped", n))
	}
}

// Dropped 累计丢弃的事件数
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run 投递直到 Close 被调用且队列清空
func (d *Dispatcher) Run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := sink.Notify(ctx, e); err != nil {
			d.logger.Error("Notification delivery failed",
				zap.String("Sink", sink.Name()),
				zap.String("Type", string(e.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// Close 停止接收新事件，等待已入队事件投递完成或 ctx 超时
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed.Swap(true) {
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
