package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

// OkxWsData 适用于 Okx V5 的通用响应结构
type OkxWsData struct {
	Arg struct {
		Channel string `json:"channel"`
		InstId  string `json:"instId"`
	} `json:"arg"`
	Data  json.RawMessage `json:"data"` // 延迟解析
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
}

// OkxTradeData 适配 Okx trades 频道数据结构
type OkxTradeData struct {
	Timestamp string `json:"ts"`   // 成交时间 (毫秒字符串)
	Price     string `json:"px"`   // 成交价格
	Size      string `json:"sz"`   // 成交数量
	Side      string `json:"side"` // buy 或 sell (主动方向)
	TradeId   string `json:"tradeId"`
	InstId    string `json:"instId"`
}

// InstMap 映射 InstId 到 Symbol (例如 BTC-USDT-SWAP -> BTCUSDT)
type InstMap map[string]string

// InstID BTCUSDT -> BTC-USDT-SWAP
func InstID(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return base + "-" + quote + "-SWAP"
		}
	}
	return symbol
}

// Connector Okx 公共成交推送，断线后自动重连
type Connector struct {
	wsURL          string
	instToSymbol   InstMap
	logger         *zap.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
}

func NewConnector(wsURL string, symbols []string, logger *zap.Logger) *Connector {
	instToSymbol := make(InstMap, len(symbols))
	for _, symbol := range symbols {
		instToSymbol[InstID(symbol)] = symbol
	}

	logger.Info("Connector initialized", zap.Strings("Symbols", symbols))

	return &Connector{
		wsURL:          wsURL,
		instToSymbol:   instToSymbol,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		pingInterval:   20 * time.Second,
	}
}

// Run 持续推送 Ticker 直到 ctx 取消，连接失败或断开时等待后重连
func (c *Connector) Run(ctx context.Context, out chan<- model.Ticker) error {
	for {
		err := c.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("Okx WS session ended, attempting to reconnect...",
			zap.Error(err), zap.Duration("Delay", c.reconnectDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

// session 单次连接：订阅、心跳、读循环
func (c *Connector) session(ctx context.Context, out chan<- model.Ticker) error {
	c.logger.Info("Starting Okx WS connection...", zap.String("URL", c.wsURL))

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	defer conn.Close()

	args := make([]map[string]string, 0, len(c.instToSymbol))
	for instID := range c.instToSymbol {
		args = append(args, map[string]string{"channel": "trades", "instId": instID})
	}
	subscribeMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("Subscribed to Okx TRADE streams", zap.Int("Instruments", len(args)))

	// ctx 取消时关闭连接以打断阻塞的读；Okx 30 秒无消息会断开，定时发送 ping
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-sessionDone:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, t := range c.parseMessage(message) {
			select {
			case out <- t:
			default:
				c.logger.Warn("Ticker channel full! Dropping trade data", zap.String("Symbol", t.Instrument))
			}
		}
	}
}

// parseMessage 解析 trades 推送，忽略事件、心跳与未订阅的合约
func (c *Connector) parseMessage(message []byte) []model.Ticker {
	if string(message) == "pong" {
		return nil
	}

	var wsResp OkxWsData
	if err := json.Unmarshal(message, &wsResp); err != nil {
		return nil
	}
	if wsResp.Event != "" {
		if wsResp.Event == "error" {
			c.logger.Error("Okx WS error event", zap.String("Code", wsResp.Code), zap.String("Msg", wsResp.Msg))
		}
		return nil
	}
	if wsResp.Arg.Channel != "trades" || len(wsResp.Data) == 0 {
		return nil
	}
	symbol, ok := c.instToSymbol[wsResp.Arg.InstId]
	if !ok {
		return nil
	}

	var trades []OkxTradeData
	if err := json.Unmarshal(wsResp.Data, &trades); err != nil {
		c.logger.Error("Trade data unmarshal error", zap.Error(err))
		return nil
	}

	tickers := make([]model.Ticker, 0, len(trades))
	for _, okxTrade := range trades {
		// 1. 数据转换
		price, err := service.StringToFloat(okxTrade.Price)
		if err != nil {
			continue
		}
		volume, err := service.StringToFloat(okxTrade.Size)
		if err != nil {
			continue
		}
		timestamp, err := service.StringToInt64(okxTrade.Timestamp)
		if err != nil {
			continue
		}

		// 2. side="buy" 为主动买入，否则主动卖出
		tickers = append(tickers, model.Ticker{
			Instrument:   symbol,
			Timestamp:    timestamp,
			Price:        price,
			Volume:       volume,
			IsBuyerMaker: okxTrade.Side != "buy",
		})
	}
	return tickers
}
