package strategy

import (
	"fmt"
	"time"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
	"scalping-engine/pkg/ta"
)

// SignalMode 连续形态的交易解读方式
type SignalMode string

const (
	ModeContinuation SignalMode = "continuation" // 顺势：连续阳线做多
	ModeReversal     SignalMode = "reversal"     // 反转：连续阳线做空
)

// TradeDirection 将形态方向映射为交易方向
func (m SignalMode) TradeDirection(run model.Direction) model.Direction {
	if m == ModeReversal {
		return run.Opposite()
	}
	return run
}

// PatternDetector 识别连续同向大实体 K 线，纯函数，不持有状态
type PatternDetector struct {
	cfg      service.PatternConfig
	interval time.Duration // 用于判断时间缺口，0 表示不检查
}

func NewPatternDetector(cfg service.PatternConfig, interval time.Duration) *PatternDetector {
	return &PatternDetector{cfg: cfg, interval: interval}
}

// Detect 从最新一根 K 线向前扫描。window 按时间从旧到新排列，
// 整个窗口同时作为成交量过滤的均值基准。
func (d *PatternDetector) Detect(window []model.Candle) (model.Signal, bool) {
	n := len(window)
	if n == 0 || d.cfg.MinConsecutive < 1 {
		return model.Signal{}, false
	}

	// 1. 统计连续同向 K 线，十字星或实体不足即中断，超过上限的部分只看最近的
	newest := window[n-1]
	dir := newest.Direction()
	if dir == model.DirFlat {
		return model.Signal{}, false
	}
	limit := d.cfg.MaxConsecutive
	if limit < d.cfg.MinConsecutive {
		limit = d.cfg.MinConsecutive
	}
	run := 0
	for i := n - 1; i >= 0 && run < limit; i-- {
		c := window[i]
		if c.Direction() != dir || c.BodyRatio() <= d.cfg.BodyRatioThreshold {
			break
		}
		run++
	}
	if run < d.cfg.MinConsecutive {
		return model.Signal{}, false
	}

	// 2. 成交量确认只取决于最新一根，对所有子窗口相同
	volumeFactor := 1.0
	if d.cfg.UseVolumeFilter {
		if avg := ta.AverageVolume(window); avg > 0 && newest.Volume < d.cfg.VolumeFactor*avg {
			volumeFactor = d.cfg.VolumePenalty
		}
	}

	// 3. 在所有合格的最近子窗口中取置信度最高者，相同时取更长的
	var best model.Signal
	found := false
	for k := d.cfg.MinConsecutive; k <= run; k++ {
		sub := window[n-k:]
		avgBody := averageBodyRatio(sub)
		conf := d.confidence(k, avgBody) * volumeFactor
		if d.hasGap(sub) {
			conf *= d.cfg.GapPenalty
		}
		if !found || conf >= best.Confidence {
			found = true
			best = model.Signal{
				Instrument:       newest.Instrument,
				Direction:        dir,
				ConsecutiveCount: k,
				BodyRatio:        avgBody,
				Confidence:       conf,
				Timestamp:        newest.OpenTime,
				Price:            newest.Close,
				Reason:           fmt.Sprintf("%d consecutive %s candles", k, dir),
			}
		}
	}

	if !found || best.Confidence < d.cfg.MinConfidence {
		return model.Signal{}, false
	}
	return best, true
}

// confidence 长度越长越高 (上限 1)，再乘以平均实体比例
func (d *PatternDetector) confidence(k int, avgBody float64) float64 {
	lengthScore := d.cfg.ConfidenceBase + d.cfg.ConfidenceStep*float64(k-d.cfg.MinConsecutive)
	if lengthScore > 1 {
		lengthScore = 1
	}
	conf := lengthScore * avgBody
	if conf < 0 {
		return 0
	}
	return conf
}

func (d *PatternDetector) hasGap(sub []model.Candle) bool {
	if d.interval <= 0 {
		return false
	}
	for i := 1; i < len(sub); i++ {
		if sub[i].OpenTime.Sub(sub[i-1].OpenTime) > d.interval {
			return true
		}
	}
	return false
}

func averageBodyRatio(candles []model.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += c.BodyRatio()
	}
	return sum / float64(len(candles))
}
