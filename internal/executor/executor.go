package executor

import (
	"context"

	"scalping-engine/internal/model"
)

// Executor 是交易执行器的通用接口，负责与交易所通信。
// 回测与实盘只在这里和行情来源上不同。
type Executor interface {
	// 提交市价单并等待成交，返回实际成交价与成交时间
	Execute(ctx context.Context, req model.OrderRequest) (model.Fill, error)
}

// Funded 能报告可用资金的执行器，会话据此按当前资金计算仓位
type Funded interface {
	Available() float64
}
