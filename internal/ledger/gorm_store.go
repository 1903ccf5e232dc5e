package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scalping-engine/internal/model"
)

// tradeRow 价格用 double precision 保存，时间与持仓时长保存为纳秒，保证往返无损
type tradeRow struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Instrument   string  `gorm:"index:idx_trade_inst_exit;size:32;not null"`
	Direction    string  `gorm:"size:8;not null"`
	Size         float64 `gorm:"type:double precision;not null"`
	EntryPrice   float64 `gorm:"type:double precision;not null"`
	ExitPrice    float64 `gorm:"type:double precision;not null"`
	EntryTimeNs  int64   `gorm:"not null"`
	ExitTimeNs   int64   `gorm:"index:idx_trade_inst_exit;not null"`
	PnLPct       float64 `gorm:"column:pnl_pct;type:double precision;not null"`
	HoldDuration int64   `gorm:"not null"`
	ExitReason   string  `gorm:"size:16;not null"`
}

func (tradeRow) TableName() string { return "trade_records" }

func toRow(r model.TradeRecord) tradeRow {
	return tradeRow{
		ID:           r.ID,
		Instrument:   r.Instrument,
		Direction:    string(r.Direction),
		Size:         r.Size,
		EntryPrice:   r.EntryPrice,
		ExitPrice:    r.ExitPrice,
		EntryTimeNs:  r.EntryTime.UnixNano(),
		ExitTimeNs:   r.ExitTime.UnixNano(),
		PnLPct:       r.PnLPct,
		HoldDuration: int64(r.HoldDuration),
		ExitReason:   string(r.ExitReason),
	}
}

func (row tradeRow) toRecord() model.TradeRecord {
	return model.TradeRecord{
		ID:           row.ID,
		Instrument:   row.Instrument,
		Direction:    model.Direction(row.Direction),
		Size:         row.Size,
		EntryPrice:   row.EntryPrice,
		ExitPrice:    row.ExitPrice,
		EntryTime:    time.Unix(0, row.EntryTimeNs).UTC(),
		ExitTime:     time.Unix(0, row.ExitTimeNs).UTC(),
		PnLPct:       row.PnLPct,
		HoldDuration: time.Duration(row.HoldDuration),
		ExitReason:   model.ExitReason(row.ExitReason),
	}
}

// GormStore Postgres 交易记录表
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(ctx context.Context, rec model.TradeRecord) error {
	row := toRow(rec)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Load(ctx context.Context, instrument string, since time.Time) ([]model.TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&tradeRow{})
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if !since.IsZero() {
		q = q.Where("exit_time_ns >= ?", since.UnixNano())
	}

	var rows []tradeRow
	if err := q.Order("exit_time_ns asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.TradeRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
