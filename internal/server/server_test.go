package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scalping-engine/internal/engine"
	"scalping-engine/internal/model"
	"scalping-engine/internal/strategy"
)

type staticStatus []engine.Status

func (s staticStatus) Statuses() []engine.Status { return s }

type MockTrades struct {
	mock.Mock
}

func (m *MockTrades) Trades(ctx context.Context, instrument string, limit int) ([]model.TradeRecord, error) {
	args := m.Called(ctx, instrument, limit)
	records, _ := args.Get(0).([]model.TradeRecord)
	return records, args.Error(1)
}

func do(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func Test_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exit := time.Date(2024, 3, 1, 9, 3, 0, 0, time.UTC)
	status := staticStatus{{Instrument: "BTCUSDT", State: strategy.StateOpen, Regime: model.RegimeTrending, LastPrice: 101.5}}
	trades := new(MockTrades)
	trades.On("Trades", mock.Anything, "", defaultTradeLimit).
		Return([]model.TradeRecord{{ID: "t1", Instrument: "BTCUSDT", ExitTime: exit, PnLPct: -1}}, nil).Once()
	trades.On("Trades", mock.Anything, "ETHUSDT", 2).Return(nil, nil).Once()
	trades.On("Trades", mock.Anything, "", 5).Return(nil, errors.New("db down")).Once()
	r := NewRouter(status, trades)

	w := do(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(r, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var got []engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, strategy.StateOpen, got[0].State)
	assert.Equal(t, 101.5, got[0].LastPrice)

	w = do(r, "/trades")
	require.Equal(t, http.StatusOK, w.Code)
	var records []model.TradeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].ID)
	assert.Equal(t, exit, records[0].ExitTime)

	w = do(r, "/trades?instrument=ETHUSDT&limit=2")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(r, "/trades?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "/trades?limit=5")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	trades.AssertExpectations(t)
}
