package model

// CandleBuffer 固定容量的环形 K 线缓冲区，按 OpenTime 严格递增。
// 单写单读，不做并发保护。
type CandleBuffer struct {
	instrument string
	data       []Candle
	head       int // 最旧元素的下标
	size       int
}

// NewCandleBuffer 创建缓冲区，capacity 至少为 1
func NewCandleBuffer(instrument string, capacity int) *CandleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CandleBuffer{
		instrument: instrument,
		data:       make([]Candle, capacity),
	}
}

// Append 追加一根 K 线，时间戳不晚于最后一根时返回 *OutOfOrderError。
// 容量已满时淘汰最旧的一根。
func (b *CandleBuffer) Append(c Candle) error {
	if last, ok := b.Last(); ok && !c.OpenTime.After(last.OpenTime) {
		return &OutOfOrderError{Instrument: b.instrument, Last: last.OpenTime, Got: c.OpenTime}
	}

	capacity := len(b.data)
	if b.size < capacity {
		b.data[(b.head+b.size)%capacity] = c
		b.size++
		return nil
	}

	// 覆盖最旧的一根
	b.data[b.head] = c
	b.head = (b.head + 1) % capacity
	return nil
}

// Window 返回最近 n 根 K 线 (旧 -> 新)，历史不足时返回全部
func (b *CandleBuffer) Window(n int) []Candle {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Candle, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.data[(b.head+start+i)%len(b.data)]
	}
	return out
}

// Last 最新一根 K 线
func (b *CandleBuffer) Last() (Candle, bool) {
	if b.size == 0 {
		return Candle{}, false
	}
	return b.data[(b.head+b.size-1)%len(b.data)], true
}

func (b *CandleBuffer) Len() int { return b.size }

func (b *CandleBuffer) Cap() int { return len(b.data) }
