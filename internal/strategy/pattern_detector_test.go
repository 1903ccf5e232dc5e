package strategy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// bar builds a one-minute candle with the given body ratio around price p
func bar(i int, dir model.Direction, body float64, p float64) model.Candle {
	rng := 1.0
	half := body * rng / 2
	c := model.Candle{
		Instrument: "BTCUSDT",
		OpenTime:   baseTime.Add(time.Duration(i) * time.Minute),
		High:       p + rng/2,
		Low:        p - rng/2,
		Volume:     10,
	}
	switch dir {
	case model.DirLong:
		c.Open, c.Close = p-half, p+half
	case model.DirShort:
		c.Open, c.Close = p+half, p-half
	default:
		c.Open, c.Close = p, p
	}
	return c
}

func testPatternConfig() service.PatternConfig {
	return service.PatternConfig{
		MinConsecutive:     3,
		MaxConsecutive:     6,
		BodyRatioThreshold: 0.8,
		MinConfidence:      0.3,
		ConfidenceBase:     0.6,
		ConfidenceStep:     0.1,
		GapPenalty:         0.8,
		UseVolumeFilter:    true,
		VolumeFactor:       0.8,
		VolumePenalty:      0.7,
		SignalMode:         "continuation",
	}
}

func series(dirs []model.Direction, body float64) []model.Candle {
	out := make([]model.Candle, len(dirs))
	for i, d := range dirs {
		out[i] = bar(i, d, body, 100+float64(i))
	}
	return out
}

func Test_Detect_FourUpCandles(t *testing.T) {
	d := NewPatternDetector(testPatternConfig(), time.Minute)
	up := model.DirLong
	window := series([]model.Direction{up, up, up, up}, 0.85)

	var signals []model.Signal
	for i := 1; i <= len(window); i++ {
		if sig, ok := d.Detect(window[:i]); ok {
			signals = append(signals, sig)
		}
	}
	require.NotEmpty(t, signals)

	sig, ok := d.Detect(window)
	require.True(t, ok, "4th candle must produce a signal")
	assert.Equal(t, model.DirLong, sig.Direction)
	assert.Equal(t, 4, sig.ConsecutiveCount)
	assert.InDelta(t, 0.85, sig.BodyRatio, 1e-9)
	assert.InDelta(t, 0.7*0.85, sig.Confidence, 1e-9)
	assert.GreaterOrEqual(t, sig.Confidence, 0.3)
	assert.Equal(t, window[3].OpenTime, sig.Timestamp)
	assert.Equal(t, window[3].Close, sig.Price)
}

func Test_Detect_RunBoundaries(t *testing.T) {
	up, down, flat := model.DirLong, model.DirShort, model.DirFlat
	tests := []struct {
		name      string
		dirs      []model.Direction
		body      float64
		wantOK    bool
		wantDir   model.Direction
		wantCount int
	}{
		{name: "Too short", dirs: []model.Direction{down, up, up}, body: 0.9, wantOK: false},
		{name: "Exactly minimum", dirs: []model.Direction{down, up, up, up}, body: 0.9, wantOK: true, wantDir: up, wantCount: 3},
		{name: "Down run", dirs: []model.Direction{up, down, down, down, down}, body: 0.9, wantOK: true, wantDir: down, wantCount: 4},
		{name: "Long run truncated to maximum", dirs: []model.Direction{up, up, up, up, up, up, up, up, up}, body: 0.9, wantOK: true, wantDir: up, wantCount: 6},
		{name: "Doji breaks the run", dirs: []model.Direction{up, up, flat, up, up}, body: 0.9, wantOK: false},
		{name: "Newest candle is doji", dirs: []model.Direction{up, up, up, flat}, body: 0.9, wantOK: false},
		{name: "Body below threshold", dirs: []model.Direction{up, up, up, up}, body: 0.75, wantOK: false},
	}
	d := NewPatternDetector(testPatternConfig(), time.Minute)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := d.Detect(series(tt.dirs, tt.body))
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantDir, sig.Direction)
			assert.Equal(t, tt.wantCount, sig.ConsecutiveCount)
			assert.LessOrEqual(t, sig.Confidence, 1.0)
		})
	}
}

func Test_Detect_BodyRatioMustExceedThreshold(t *testing.T) {
	window := make([]model.Candle, 3)
	for i := range window {
		// body 4, range 5: ratio exactly 0.8
		window[i] = model.Candle{
			Instrument: "BTCUSDT",
			OpenTime:   baseTime.Add(time.Duration(i) * time.Minute),
			Open:       100,
			Close:      104,
			High:       105,
			Low:        100,
			Volume:     1,
		}
	}
	d := NewPatternDetector(testPatternConfig(), time.Minute)
	_, ok := d.Detect(window)
	assert.False(t, ok)

	cfg := testPatternConfig()
	cfg.BodyRatioThreshold = 0.79
	_, ok = NewPatternDetector(cfg, time.Minute).Detect(window)
	assert.True(t, ok)
}

func Test_Detect_Penalties(t *testing.T) {
	up := model.DirLong

	t.Run("Timestamp gap lowers confidence", func(t *testing.T) {
		d := NewPatternDetector(testPatternConfig(), time.Minute)
		window := series([]model.Direction{up, up, up}, 0.9)
		clean, ok := d.Detect(window)
		require.True(t, ok)

		window[2].OpenTime = window[2].OpenTime.Add(5 * time.Minute)
		gapped, ok := d.Detect(window)
		require.True(t, ok)
		assert.InDelta(t, clean.Confidence*0.8, gapped.Confidence, 1e-9)
	})

	t.Run("Low volume lowers confidence", func(t *testing.T) {
		d := NewPatternDetector(testPatternConfig(), time.Minute)
		window := series([]model.Direction{up, up, up}, 0.9)
		clean, ok := d.Detect(window)
		require.True(t, ok)

		window[2].Volume = 1
		thin, ok := d.Detect(window)
		require.True(t, ok)
		assert.InDelta(t, clean.Confidence*0.7, thin.Confidence, 1e-9)
	})

	t.Run("Penalty can push below minimum confidence", func(t *testing.T) {
		cfg := testPatternConfig()
		cfg.MinConfidence = 0.5
		d := NewPatternDetector(cfg, time.Minute)
		window := series([]model.Direction{up, up, up}, 0.9)
		window[2].Volume = 1
		_, ok := d.Detect(window)
		assert.False(t, ok)
	})
}

func Test_Detect_Monotonicity(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	dirs := []model.Direction{model.DirLong, model.DirShort, model.DirFlat}

	for trial := 0; trial < 200; trial++ {
		n := 3 + r.Intn(20)
		window := make([]model.Candle, n)
		for i := range window {
			dir := dirs[r.Intn(10)%3]
			if r.Intn(3) > 0 {
				dir = model.DirLong
			}
			window[i] = bar(i, dir, 0.5+r.Float64()*0.5, 100)
			window[i].Volume = 1 + r.Float64()*10
		}

		count := func(threshold float64) int {
			cfg := testPatternConfig()
			cfg.BodyRatioThreshold = threshold
			d := NewPatternDetector(cfg, time.Minute)
			hits := 0
			for i := 1; i <= n; i++ {
				if _, ok := d.Detect(window[:i]); ok {
					hits++
				}
			}
			return hits
		}

		prev := count(0.95)
		for _, th := range []float64{0.9, 0.8, 0.7, 0.6, 0.5} {
			cur := count(th)
			require.GreaterOrEqual(t, cur, prev, "lowering threshold to %.2f lost signals (trial %d)", th, trial)
			prev = cur
		}
	}
}

func Test_SignalMode_TradeDirection(t *testing.T) {
	assert.Equal(t, model.DirLong, ModeContinuation.TradeDirection(model.DirLong))
	assert.Equal(t, model.DirShort, ModeContinuation.TradeDirection(model.DirShort))
	assert.Equal(t, model.DirShort, ModeReversal.TradeDirection(model.DirLong))
	assert.Equal(t, model.DirLong, ModeReversal.TradeDirection(model.DirShort))
}
