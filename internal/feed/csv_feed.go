package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"scalping-engine/internal/model"
	"scalping-engine/internal/service"
)

var csvHeader = []string{"open_time", "open", "high", "low", "close", "volume"}

// CSVFeed 回放 CSV 文件。表头为 open_time,open,high,low,close,volume，
// open_time 可以是毫秒时间戳或 RFC3339。无法解析的行记录日志后跳过。
type CSVFeed struct {
	Path       string
	Instrument string
	logger     *zap.Logger
}

func NewCSVFeed(path, instrument string, logger *zap.Logger) *CSVFeed {
	return &CSVFeed{Path: path, Instrument: instrument, logger: logger}
}

func (f *CSVFeed) Stream(ctx context.Context, out chan<- model.Candle) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open csv %s: %w", f.Path, err)
	}
	defer file.Close()
	return f.read(ctx, file, out)
}

func (f *CSVFeed) read(ctx context.Context, r io.Reader, out chan<- model.Candle) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	for i, name := range csvHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return fmt.Errorf("unexpected csv header %v, want %v", header, csvHeader)
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				f.logger.Warn("Skipping malformed csv row", zap.Int("Line", line), zap.Error(err))
				continue
			}
			return fmt.Errorf("read csv: %w", err)
		}

		candle, err := parseRow(f.Instrument, record)
		if err != nil {
			f.logger.Warn("Skipping unparsable csv row", zap.Int("Line", line), zap.Error(err))
			continue
		}
		select {
		case out <- candle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseRow(instrument string, record []string) (model.Candle, error) {
	openTime, err := parseTime(strings.TrimSpace(record[0]))
	if err != nil {
		return model.Candle{}, err
	}
	vals := make([]float64, 5)
	for i := range vals {
		v, err := service.StringToFloat(strings.TrimSpace(record[i+1]))
		if err != nil {
			return model.Candle{}, fmt.Errorf("column %s: %w", csvHeader[i+1], err)
		}
		vals[i] = v
	}
	return model.Candle{
		Instrument: instrument,
		OpenTime:   openTime,
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4],
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := service.StringToInt64(s); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("open_time %q: %w", s, err)
	}
	return t.UTC(), nil
}
