// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config 启动时读取一次，运行期间不再重新加载
type Config struct {
	Mode           string        `mapstructure:"Mode" validate:"oneof=backtest live"`
	Instruments    []string      `mapstructure:"Instruments" validate:"required,min=1,dive,required"`
	Interval       string        `mapstructure:"Interval" validate:"required"`
	BufferCapacity int           `mapstructure:"BufferCapacity" validate:"gte=10"`
	QueueSize      int           `mapstructure:"QueueSize" validate:"gte=1"`
	OrderTimeout   time.Duration `mapstructure:"OrderTimeout" validate:"gt=0"`

	Log       LogConfig       `mapstructure:"Log"`
	Pattern   PatternConfig   `mapstructure:"Pattern"`
	Structure StructureConfig `mapstructure:"Structure"`
	Risk      RiskConfig      `mapstructure:"Risk"`
	Limits    LimitConfig     `mapstructure:"Limits"`
	Exchange  ExchangeConfig  `mapstructure:"Exchange"`
	Backtest  BacktestConfig  `mapstructure:"Backtest"`
	Ledger    LedgerConfig    `mapstructure:"Ledger"`
	Notify    NotifyConfig    `mapstructure:"Notify"`
	Server    ServerConfig    `mapstructure:"Server"`
}

type LogConfig struct {
	Level string `validate:"omitempty,oneof=debug info warn error"`
}

// PatternConfig 连续 K 线形态参数
type PatternConfig struct {
	MinConsecutive     int     `validate:"gte=1"`
	MaxConsecutive     int     `validate:"gtefield=MinConsecutive"`
	BodyRatioThreshold float64 `validate:"gte=0,lt=1"`
	MinConfidence      float64 `validate:"gte=0,lte=1"`
	ConfidenceBase     float64 `validate:"gt=0,lte=1"`
	ConfidenceStep     float64 `validate:"gte=0"`
	GapPenalty         float64 `validate:"gt=0,lte=1"`
	UseVolumeFilter    bool
	VolumeFactor       float64 `validate:"gte=0"`
	VolumePenalty      float64 `validate:"gt=0,lte=1"`
	SignalMode         string  `validate:"oneof=continuation reversal"` // 连续形态按顺势还是反转解读
}

// StructureConfig 市场结构分类参数
type StructureConfig struct {
	Lookback             int     `validate:"gte=3"`
	ATRPeriod            int     `validate:"gte=1"`
	PersistenceThreshold float64 `validate:"gt=0,lte=1"`
	MinVolatility        float64 `validate:"gte=0"` // 0 表示不限制
	MaxVolatility        float64 `validate:"gte=0"`
}

// RiskConfig 定义了止损止盈与仓位计算参数
type RiskConfig struct {
	StopLossPct     float64 `validate:"gte=0"`
	StopLossATRMult float64 `validate:"gte=0"`
	RewardRiskRatio float64 `validate:"gt=0"`
	MaxHoldMinutes  int     `validate:"gte=1"`
	Capital         float64 `validate:"gt=0"`
	MaxPerTradeRisk float64 `validate:"gt=0,lte=1"`
	MaxLeverage     float64 `validate:"gte=1"`
	SlippagePct     float64 `validate:"gte=0"`
	FeeRate         float64 `validate:"gte=0"` // 单边手续费率，模拟成交与仓位封顶共用
}

// LimitConfig 日内交易次数、信号间隔、连亏冷却
type LimitConfig struct {
	MaxDailyTrades       int     `validate:"gte=1"`
	MinSignalGapMinutes  int     `validate:"gte=0"`
	MaxConsecutiveLosses int     `validate:"gte=0"` // 0 表示不启用
	LossCooldownMinutes  int     `validate:"gte=0"` // 0 表示冷却到下一个交易日
	MaxDailyLossPct      float64 `validate:"gte=0"` // 0 表示不启用
	SessionTimezone      string  `validate:"required"`
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	Feed      string `validate:"oneof=okx binance"` // 实盘行情来源
	APIKey    string
	SecretKey string
	WSURL     string
	RESTURL   string
	Testnet   bool
	// 每秒请求数与突发上限
	RateLimit float64 `validate:"gt=0"`
	RateBurst int     `validate:"gte=1"`
}

type BacktestConfig struct {
	Source string `validate:"oneof=csv binance"`
	// 多个合约时 {instrument} 会被替换为合约名
	CSVPath string
	Days    int `validate:"gte=1"`
}

type LedgerConfig struct {
	Driver       string `validate:"oneof=file postgres"`
	Path         string
	BacktestPath string // 回测成交单独落盘，避免污染实盘的恢复数据
	DSN          string
}

type NotifyConfig struct {
	QueueSize         int `validate:"gte=1"`
	DiscordWebhookURL string
	TelegramToken     string
	TelegramChatID    int64
}

type ServerConfig struct {
	Addr string // 为空时不启动状态接口
}

// BarInterval K 线周期
func (c *Config) BarInterval() time.Duration {
	d, err := ParseIntervalDuration(c.Interval)
	if err != nil {
		return time.Minute
	}
	return d
}

// SessionLocation 交易日切换所用时区
func (c *Config) SessionLocation() *time.Location {
	loc, err := time.LoadLocation(c.Limits.SessionTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate 校验结构体标签以及周期、时区等无法用标签表达的字段
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := ParseIntervalDuration(c.Interval); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(c.Limits.SessionTimezone); err != nil {
		return fmt.Errorf("invalid configuration: session timezone: %w", err)
	}
	if c.Risk.StopLossPct == 0 && c.Risk.StopLossATRMult == 0 {
		return errors.New("invalid configuration: Risk.StopLossPct and Risk.StopLossATRMult cannot both be zero")
	}
	if c.Backtest.Source == "csv" && c.Mode == "backtest" && c.Backtest.CSVPath == "" {
		return errors.New("invalid configuration: Backtest.CSVPath is required for csv source")
	}
	if c.Ledger.Driver == "postgres" && c.Ledger.DSN == "" {
		return errors.New("invalid configuration: Ledger.DSN is required for postgres driver")
	}
	return nil
}

// setDefaults 与原始策略验证过的参数保持一致
func setDefaults(v *viper.Viper) {
	v.SetDefault("Mode", "backtest")
	v.SetDefault("Instruments", []string{"BTCUSDT"})
	v.SetDefault("Interval", "1m")
	v.SetDefault("BufferCapacity", 500)
	v.SetDefault("QueueSize", 256)
	v.SetDefault("OrderTimeout", 15*time.Second)

	v.SetDefault("Log.Level", "info")

	v.SetDefault("Pattern.MinConsecutive", 3)
	v.SetDefault("Pattern.MaxConsecutive", 6)
	v.SetDefault("Pattern.BodyRatioThreshold", 0.8)
	v.SetDefault("Pattern.MinConfidence", 0.3)
	v.SetDefault("Pattern.ConfidenceBase", 0.6)
	v.SetDefault("Pattern.ConfidenceStep", 0.1)
	v.SetDefault("Pattern.GapPenalty", 0.8)
	v.SetDefault("Pattern.UseVolumeFilter", true)
	v.SetDefault("Pattern.VolumeFactor", 0.8)
	v.SetDefault("Pattern.VolumePenalty", 0.7)
	v.SetDefault("Pattern.SignalMode", "continuation")

	v.SetDefault("Structure.Lookback", 20)
	v.SetDefault("Structure.ATRPeriod", 14)
	v.SetDefault("Structure.PersistenceThreshold", 0.7)
	v.SetDefault("Structure.MinVolatility", 0.0)
	v.SetDefault("Structure.MaxVolatility", 0.05)

	v.SetDefault("Risk.StopLossPct", 0.003)
	v.SetDefault("Risk.StopLossATRMult", 1.0)
	v.SetDefault("Risk.RewardRiskRatio", 1.0)
	v.SetDefault("Risk.MaxHoldMinutes", 10)
	v.SetDefault("Risk.Capital", 10000.0)
	v.SetDefault("Risk.MaxPerTradeRisk", 0.01)
	v.SetDefault("Risk.MaxLeverage", 20.0)
	v.SetDefault("Risk.SlippagePct", 0.0002)
	v.SetDefault("Risk.FeeRate", 0.0004)

	v.SetDefault("Limits.MaxDailyTrades", 50)
	v.SetDefault("Limits.MinSignalGapMinutes", 1)
	v.SetDefault("Limits.MaxConsecutiveLosses", 5)
	v.SetDefault("Limits.LossCooldownMinutes", 30)
	v.SetDefault("Limits.MaxDailyLossPct", 5.0)
	v.SetDefault("Limits.SessionTimezone", "UTC")

	v.SetDefault("Exchange.Feed", "binance")
	v.SetDefault("Exchange.APIKey", "")
	v.SetDefault("Exchange.SecretKey", "")
	v.SetDefault("Exchange.WSURL", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("Exchange.RESTURL", "")
	v.SetDefault("Exchange.Testnet", true)
	v.SetDefault("Exchange.RateLimit", 10.0)
	v.SetDefault("Exchange.RateBurst", 20)

	v.SetDefault("Backtest.Source", "csv")
	v.SetDefault("Backtest.CSVPath", "data/candles.csv")
	v.SetDefault("Backtest.Days", 7)

	v.SetDefault("Ledger.Driver", "file")
	v.SetDefault("Ledger.Path", "data/trades.jsonl")
	v.SetDefault("Ledger.BacktestPath", "data/backtest-trades.jsonl")
	v.SetDefault("Ledger.DSN", "")

	v.SetDefault("Notify.QueueSize", 128)
	v.SetDefault("Notify.DiscordWebhookURL", "")
	v.SetDefault("Notify.TelegramToken", "")
	v.SetDefault("Notify.TelegramChatID", 0)

	v.SetDefault("Server.Addr", "")
}

// LoadConfig 读取并解析配置：默认值 < config.yaml < 环境变量 (SCALPER_ 前缀, 可放在 .env) < 命令行参数。
// configPath 可以是目录 (查找 config.yaml) 或文件。
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	// .env 可选，缺失时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCALPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if strings.HasSuffix(configPath, ".yaml") || strings.HasSuffix(configPath, ".yml") {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config") // 文件名是 config
			v.SetConfigType("yaml")   // 文件类型是 yaml
			v.AddConfigPath(configPath)
		}

		// 查找并读取配置文件，找不到时使用默认值和环境变量
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if flags != nil {
		for key, name := range map[string]string{"Mode": "mode", "Instruments": "instrument", "Backtest.CSVPath": "csv"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
