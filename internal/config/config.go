// Package config loads the platform's JSON configuration file.
package config

import (
	"os"
	"time"

	"main/internal/feed"
	"main/internal/model"
	"main/internal/model/enum"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	defaultPayoutRate       = 0.8
	defaultSettleIntervalMs = 1000
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Instruments []InstrumentConfig `json:"instruments"`
	Timeframes  []string           `json:"timeframes"`
	Feed        FeedConfig         `json:"feed"`
	Redis       RedisConfig        `json:"redis"`
	Postgres    PostgresConfig     `json:"postgres"`
	Trading     TradingConfig      `json:"trading"`
	Accounts    []AccountConfig    `json:"accounts"`
}

// InstrumentConfig describes one instrument entry.
type InstrumentConfig struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Precision  int     `json:"precision"`
	Source     string  `json:"source"`
	StartPrice float64 `json:"startPrice"`
	MinPrice   float64 `json:"minPrice"`
	MaxPrice   float64 `json:"maxPrice"`
	Volatility float64 `json:"volatility"`
	IntervalMs int64   `json:"intervalMs"`
	PairKey    string  `json:"pairKey"`
}

// FeedConfig describes the shared upstream connection.
type FeedConfig struct {
	URL           string  `json:"url"`
	BackoffBaseMs int64   `json:"backoffBaseMs"`
	BackoffMaxMs  int64   `json:"backoffMaxMs"`
	BackoffFactor float64 `json:"backoffFactor"`
	BackoffJitter float64 `json:"backoffJitter"`
}

// RedisConfig describes the fast volatile store. An empty host keeps
// everything in memory.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresConfig describes the durable store. An empty host keeps
// everything in memory.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// TradingConfig describes the trade services.
type TradingConfig struct {
	PayoutRate       float64 `json:"payoutRate"`
	SettleIntervalMs int64   `json:"settleIntervalMs"`
}

// AccountConfig seeds a demo account in memory mode.
type AccountConfig struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Instruments    []model.Instrument
	Timeframes     []model.Timeframe
	FeedURL        string
	Backoff        feed.Backoff
	Redis          RedisConfig
	Postgres       PostgresConfig
	PayoutRate     decimal.Decimal
	SettleInterval time.Duration
	Accounts       []AccountConfig
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	return Resolve(cfg)
}

// Resolve validates the raw layout and applies defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	instruments := make([]model.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		instrument, err := resolveInstrument(ic)
		if err != nil {
			// one broken instrument entry never takes the rest down
			logs.Errorf("skip instrument %s: %v", ic.ID, err)
			continue
		}
		instruments = append(instruments, instrument)
	}

	frames := make([]model.Timeframe, 0, len(cfg.Timeframes))
	for _, raw := range cfg.Timeframes {
		tf, err := model.ParseTimeframe(raw)
		if err != nil {
			return Loaded{}, err
		}
		if tf == model.TimeframeBase {
			continue
		}
		frames = append(frames, tf)
	}
	if len(frames) == 0 {
		frames = model.DefaultHigherTimeframes()
	}

	backoff := feed.DefaultBackoff()
	if cfg.Feed.BackoffBaseMs > 0 {
		backoff.Base = time.Duration(cfg.Feed.BackoffBaseMs) * time.Millisecond
	}
	if cfg.Feed.BackoffMaxMs > 0 {
		backoff.Max = time.Duration(cfg.Feed.BackoffMaxMs) * time.Millisecond
	}
	if cfg.Feed.BackoffFactor > 1 {
		backoff.Factor = cfg.Feed.BackoffFactor
	}
	if cfg.Feed.BackoffJitter > 0 {
		backoff.Jitter = cfg.Feed.BackoffJitter
	}

	payoutRate := cfg.Trading.PayoutRate
	if payoutRate <= 0 {
		payoutRate = defaultPayoutRate
	}
	settleIntervalMs := cfg.Trading.SettleIntervalMs
	if settleIntervalMs <= 0 {
		settleIntervalMs = defaultSettleIntervalMs
	}

	return Loaded{
		Instruments:    instruments,
		Timeframes:     frames,
		FeedURL:        cfg.Feed.URL,
		Backoff:        backoff,
		Redis:          cfg.Redis,
		Postgres:       cfg.Postgres,
		PayoutRate:     decimal.NewFromFloat(payoutRate),
		SettleInterval: time.Duration(settleIntervalMs) * time.Millisecond,
		Accounts:       cfg.Accounts,
	}, nil
}

func resolveInstrument(ic InstrumentConfig) (model.Instrument, error) {
	source, ok := enum.ParseSourceKind(ic.Source)
	if !ok {
		return model.Instrument{}, errors.Errorf("instrument %s: unknown source %q", ic.ID, ic.Source)
	}
	instrument := model.Instrument{
		ID:         ic.ID,
		Symbol:     ic.Symbol,
		Precision:  ic.Precision,
		Source:     source,
		StartPrice: ic.StartPrice,
		MinPrice:   ic.MinPrice,
		MaxPrice:   ic.MaxPrice,
		Volatility: ic.Volatility,
		IntervalMs: ic.IntervalMs,
		PairKey:    ic.PairKey,
	}
	if err := instrument.Validate(); err != nil {
		return model.Instrument{}, err
	}
	return instrument, nil
}
