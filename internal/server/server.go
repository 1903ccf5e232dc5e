// Package server 只读状态接口
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scalping-engine/internal/engine"
	"scalping-engine/internal/model"
)

// StatusSource 由 engine.Engine 实现
type StatusSource interface {
	Statuses() []engine.Status
}

// TradeSource 由 ledger.Ledger 实现
type TradeSource interface {
	Trades(ctx context.Context, instrument string, limit int) ([]model.TradeRecord, error)
}

const defaultTradeLimit = 100

func NewRouter(status StatusSource, trades TradeSource) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, status, trades)
	return r
}

func RegisterRoutes(r *gin.Engine, status StatusSource, trades TradeSource) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 所有合约的会话快照
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Statuses())
	})

	// 最近的交易记录: ?limit=50&instrument=BTCUSDT
	r.GET("/trades", func(c *gin.Context) {
		limit := defaultTradeLimit
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		records, err := trades.Trades(c.Request.Context(), c.Query("instrument"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if records == nil {
			records = []model.TradeRecord{}
		}
		c.JSON(http.StatusOK, records)
	})
}

// Serve 在 ctx 取消时优雅关闭
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status API listening", zap.String("Addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("Status API stopped")
		return nil
	}
}
