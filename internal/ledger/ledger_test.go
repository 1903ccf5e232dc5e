package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
)

var day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// MockStore is a testify mock for Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, rec model.TradeRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockStore) Load(ctx context.Context, instrument string, since time.Time) ([]model.TradeRecord, error) {
	args := m.Called(ctx, instrument, since)
	recs, _ := args.Get(0).([]model.TradeRecord)
	return recs, args.Error(1)
}

func (m *MockStore) Close() error { return m.Called().Error(0) }

func trade(id string, minute int, pnl float64) model.TradeRecord {
	entry := day1.Add(time.Duration(minute) * time.Minute)
	exit := entry.Add(2 * time.Minute)
	return model.TradeRecord{
		ID:           id,
		Instrument:   "BTCUSDT",
		Direction:    model.DirLong,
		Size:         0.5,
		EntryPrice:   100,
		ExitPrice:    100 * (1 + pnl/100),
		EntryTime:    entry,
		ExitTime:     exit,
		PnLPct:       pnl,
		HoldDuration: exit.Sub(entry),
		ExitReason:   model.ExitTakeProfit,
	}
}

func newFileLedger(t *testing.T) (*Ledger, *FileStore) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "ledger", "trades.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewLedger(store, time.UTC, zap.NewNop()), store
}

func Test_Ledger_Record(t *testing.T) {
	l, _ := newFileLedger(t)
	rs := NewRiskState("BTCUSDT")
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, rs, trade("a", 0, -0.3)))
	require.NoError(t, l.Record(ctx, rs, trade("b", 5, 0)))
	assert.Equal(t, 2, rs.DailyTradeCount)
	assert.Equal(t, 2, rs.ConsecutiveLosses, "zero pnl counts as a loss")
	assert.Equal(t, day1.Add(7*time.Minute), rs.LastLossTime)

	require.NoError(t, l.Record(ctx, rs, trade("c", 10, 0.6)))
	assert.Equal(t, 3, rs.DailyTradeCount)
	assert.Zero(t, rs.ConsecutiveLosses)
	assert.Equal(t, 1, rs.DailyWins)
	assert.Equal(t, day1.Add(12*time.Minute), rs.LastSignalTime)
	assert.True(t, rs.DailyPnL.Equal(decimal.RequireFromString("0.3")), "got %s", rs.DailyPnL)

	trades, err := l.Trades(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "b", trades[0].ID)
	assert.Equal(t, "c", trades[1].ID)
}

func Test_Ledger_RecordFailureLeavesStateUntouched(t *testing.T) {
	store := new(MockStore)
	store.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	l := NewLedger(store, time.UTC, zap.NewNop())
	rs := NewRiskState("BTCUSDT")

	err := l.Record(context.Background(), rs, trade("a", 0, -1))
	require.Error(t, err)
	assert.Zero(t, rs.DailyTradeCount)
	assert.Zero(t, rs.ConsecutiveLosses)
	store.AssertExpectations(t)
}

func Test_Ledger_Restore(t *testing.T) {
	l, store := newFileLedger(t)
	ctx := context.Background()

	yesterday := trade("old", -24*60, 2)
	require.NoError(t, store.Append(ctx, yesterday))
	require.NoError(t, store.Append(ctx, trade("t1", 0, 0.5)))
	require.NoError(t, store.Append(ctx, trade("t2", 5, -0.2)))
	require.NoError(t, store.Append(ctx, trade("t3", 10, -0.2)))
	other := trade("eth", 3, -5)
	other.Instrument = "ETHUSDT"
	require.NoError(t, store.Append(ctx, other))

	rs := NewRiskState("BTCUSDT")
	require.NoError(t, l.Restore(ctx, rs, day1.Add(time.Hour)))

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rs.SessionDay)
	assert.Equal(t, 3, rs.DailyTradeCount)
	assert.Equal(t, 2, rs.ConsecutiveLosses)
	assert.Equal(t, 1, rs.DailyWins)
	assert.True(t, rs.DailyPnL.Equal(decimal.RequireFromString("0.1")))

	// 0.5 units at 100: +0.25, -0.1, -0.1
	assert.InDelta(t, 0.05, rs.RealizedPnL, 1e-9)
	assert.InDelta(t, 1000.05, rs.Equity(1000), 1e-9)
	rs.Available = 900
	assert.InDelta(t, 900.0, rs.Equity(1000), 1e-9)
}

func Test_SummarizeAndSumPnL(t *testing.T) {
	records := []model.TradeRecord{trade("a", 0, 0.1), trade("b", 1, 0.2), trade("c", 2, -0.05)}
	assert.True(t, SumPnL(records).Equal(decimal.RequireFromString("0.25")))

	rs := NewRiskState("BTCUSDT")
	rs.SessionDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, r := range records {
		apply(rs, r)
	}
	s := Summarize(rs)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 2.0/3.0, s.WinRate, 1e-12)
	assert.InDelta(t, 0.25, s.TotalPnL, 1e-12)
}
