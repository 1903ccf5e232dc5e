package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvariantViolation 状态不一致 (例如同一合约出现两个持仓、账本写入失败)，必须终止会话
var ErrInvariantViolation = errors.New("invariant violation")

// OutOfOrderError K 线时间戳不晚于缓冲区最后一根
type OutOfOrderError struct {
	Instrument string
	Last       time.Time
	Got        time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order candle for %s: %s is not after %s",
		e.Instrument, e.Got.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

// MalformedCandleError K 线数据本身不合法
type MalformedCandleError struct {
	Instrument string
	OpenTime   time.Time
	Reason     string
}

func (e *MalformedCandleError) Error() string {
	return fmt.Sprintf("malformed candle for %s at %s: %s", e.Instrument, e.OpenTime.Format(time.RFC3339), e.Reason)
}

// InvalidBracketError 止损/止盈/入场价重合或非法
type InvalidBracketError struct {
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

func (e *InvalidBracketError) Error() string {
	return fmt.Sprintf("invalid bracket (entry %.6f, sl %.6f, tp %.6f): %s", e.Entry, e.StopLoss, e.TakeProfit, e.Reason)
}

// RejectionReason 风控拒绝原因
type RejectionReason string

const (
	RejectDailyTradeLimit   RejectionReason = "daily_trade_limit"
	RejectSignalGap         RejectionReason = "signal_gap"
	RejectConsecutiveLosses RejectionReason = "consecutive_losses"
	RejectDailyLossLimit    RejectionReason = "daily_loss_limit"
	RejectCounterTrend      RejectionReason = "counter_trend"
	RejectVolatility        RejectionReason = "volatility_out_of_band"
	RejectInvalidBracket    RejectionReason = "invalid_bracket"
	RejectExecution         RejectionReason = "execution_failed"
)

// RejectionError 信号被拒绝 (非致命)
type RejectionError struct {
	Reason RejectionReason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("signal rejected: %s", e.Reason)
	}
	return fmt.Sprintf("signal rejected: %s (%s)", e.Reason, e.Detail)
}
