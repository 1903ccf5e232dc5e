package model

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func candleAt(minute int, price float64) Candle {
	return Candle{
		Instrument: "BTCUSDT",
		OpenTime:   t0.Add(time.Duration(minute) * time.Minute),
		Open:       price,
		High:       price + 1,
		Low:        price - 1,
		Close:      price + 0.5,
		Volume:     1,
	}
}

func Test_CandleBuffer_AppendAndWindow(t *testing.T) {
	b := NewCandleBuffer("BTCUSDT", 3)
	assert.Empty(t, b.Window(5))
	_, ok := b.Last()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Append(candleAt(i, 100+float64(i))))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())

	w := b.Window(10)
	require.Len(t, w, 3)
	assert.Equal(t, candleAt(2, 102).OpenTime, w[0].OpenTime)
	assert.Equal(t, candleAt(4, 104).OpenTime, w[2].OpenTime)

	w2 := b.Window(2)
	require.Len(t, w2, 2)
	assert.Equal(t, w[1], w2[0])

	// returned windows are copies
	w2[0].Close = -1
	assert.NotEqual(t, -1.0, b.Window(2)[0].Close)

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 104.5, last.Close)
}

func Test_CandleBuffer_OutOfOrder(t *testing.T) {
	b := NewCandleBuffer("BTCUSDT", 10)
	require.NoError(t, b.Append(candleAt(5, 100)))

	for _, minute := range []int{5, 4} {
		err := b.Append(candleAt(minute, 100))
		var ooo *OutOfOrderError
		require.True(t, errors.As(err, &ooo))
		assert.Equal(t, "BTCUSDT", ooo.Instrument)
	}
	assert.Equal(t, 1, b.Len())
}

func Test_CandleBuffer_RandomizedInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, capacity := range []int{1, 2, 7, 50} {
		b := NewCandleBuffer("BTCUSDT", capacity)
		minute := 0
		for i := 0; i < 500; i++ {
			// occasionally go backwards or repeat
			step := r.Intn(4) - 1
			minute += step
			_ = b.Append(candleAt(minute, 100))

			require.LessOrEqual(t, b.Len(), capacity)
			w := b.Window(capacity)
			for j := 1; j < len(w); j++ {
				require.True(t, w[j].OpenTime.After(w[j-1].OpenTime))
			}
		}
	}
}

func Test_Candle_Validate(t *testing.T) {
	good := candleAt(0, 100)
	require.NoError(t, good.Validate())

	tests := []struct {
		name   string
		mutate func(c *Candle)
	}{
		{name: "Zero price", mutate: func(c *Candle) { c.Open = 0 }},
		{name: "High below close", mutate: func(c *Candle) { c.High = c.Close - 0.1 }},
		{name: "Low above open", mutate: func(c *Candle) { c.Low = c.Open + 0.1 }},
		{name: "Negative volume", mutate: func(c *Candle) { c.Volume = -1 }},
		{name: "Missing time", mutate: func(c *Candle) { c.OpenTime = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			var malformed *MalformedCandleError
			assert.True(t, errors.As(c.Validate(), &malformed))
		})
	}
}

func Test_Candle_BodyRatioAndDirection(t *testing.T) {
	c := Candle{Open: 100, Close: 104, High: 105, Low: 100}
	assert.Equal(t, 0.8, c.BodyRatio())
	assert.Equal(t, DirLong, c.Direction())

	flat := Candle{Open: 100, Close: 100, High: 100, Low: 100}
	assert.Zero(t, flat.BodyRatio())
	assert.Equal(t, DirFlat, flat.Direction())

	down := Candle{Open: 104, Close: 100, High: 105, Low: 99}
	assert.Equal(t, DirShort, down.Direction())
}
