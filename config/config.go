// Package config loads the bot configuration from YAML and secrets from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/scheduler"
	"gopkg.in/yaml.v3"
)

const (
	ExchangeBinance  = "binance"
	ExchangeSimulate = "simulate"

	ModeNormal = "normal"
	ModeTest   = "test"
)

// Defaults.
var (
	DefaultInvestFraction = decimal.RequireFromString("0.10")
	DefaultMinNotional    = decimal.NewFromInt(5000)
	DefaultFeeRate        = decimal.RequireFromString("0.0005")
	DefaultInitialQuote   = decimal.NewFromInt(10_000_000)
	DefaultSchedule       = []string{"23:01", "07:01", "15:01"}
)

const (
	DefaultHistorySize    = 10
	DefaultDailyBars      = 30
	DefaultHourlyBars     = 24
	DefaultReplyAttempts  = 5
	DefaultReplyDelay     = 5 * time.Second
	DefaultPollAttempts   = 10
	DefaultPollInterval   = 2 * time.Second
	DefaultTestCadence    = time.Minute
	DefaultNotifyInterval = time.Second
	DefaultLLMURL         = "https://api.openai.com/v1/chat/completions"
	DefaultLLMModel       = "gpt-4o"
	DefaultNewsQuery      = "bitcoin"
	DefaultLedgerDriver   = "wal"
	DefaultLedgerPath     = "./wal/ledger"
	DefaultSettlementsDir = "./wal/settlements"
)

// Secrets credentials read from the environment.
type Secrets struct {
	BinanceAPIKey    string
	BinanceAPISecret string
	LLMAPIKey        string
	SlackToken       string
	SerpAPIKey       string
}

// Config typed bot configuration.
type Config struct {
	Exchange    string
	Instruments []domain.Instrument
	Excluded    []string

	InvestFraction decimal.Decimal
	MinNotional    decimal.Decimal
	FeeRate        decimal.Decimal

	HistorySize int
	DailyBars   int
	HourlyBars  int

	ReplyAttempts int
	ReplyDelay    time.Duration
	PollAttempts  int
	PollInterval  time.Duration

	Schedule    []scheduler.Clock
	Location    *time.Location
	TestCadence time.Duration

	LLMURL           string
	LLMModel         string
	InstructionsFile string

	NewsURL        string
	NewsQuery      string
	FearGreedURL   string
	FearGreedLimit int

	SlackChannel   string
	NotifyInterval time.Duration

	LedgerDriver   string
	LedgerPath     string
	SettlementsDir string

	SimulateInitialQuote decimal.Decimal
	SimulateStateDir     string

	// DashboardAddr listen address of the web dashboard, empty disables it.
	DashboardAddr string

	Tracing bool

	Secrets Secrets
}

// ConfigTmp raw YAML layout. Amounts and counts are strings so an absent
// value can be told apart from zero.
type ConfigTmp struct {
	Exchange       string   `yaml:"exchange"`
	Instruments    []string `yaml:"instruments"`
	Excluded       []string `yaml:"excluded,omitempty"`
	InvestFraction string   `yaml:"invest_fraction,omitempty"`
	MinNotional    string   `yaml:"min_notional,omitempty"`
	FeeRate        string   `yaml:"fee_rate,omitempty"`

	HistorySizeStr string `yaml:"history_size,omitempty"`
	DailyBarsStr   string `yaml:"daily_bars,omitempty"`
	HourlyBarsStr  string `yaml:"hourly_bars,omitempty"`

	ReplyAttemptsStr string        `yaml:"reply_attempts,omitempty"`
	ReplyDelay       time.Duration `yaml:"reply_delay,omitempty"`
	PollAttemptsStr  string        `yaml:"poll_attempts,omitempty"`
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`

	Schedule    []string      `yaml:"schedule,omitempty"`
	Timezone    string        `yaml:"timezone,omitempty"`
	TestCadence time.Duration `yaml:"test_cadence,omitempty"`

	LLM struct {
		APIURL           string `yaml:"api_url,omitempty"`
		Model            string `yaml:"model,omitempty"`
		InstructionsFile string `yaml:"instructions_file,omitempty"`
	} `yaml:"llm,omitempty"`

	News struct {
		URL   string `yaml:"url,omitempty"`
		Query string `yaml:"query,omitempty"`
	} `yaml:"news,omitempty"`

	FearGreed struct {
		URL      string `yaml:"url,omitempty"`
		LimitStr string `yaml:"limit,omitempty"`
	} `yaml:"fear_greed,omitempty"`

	Slack struct {
		Channel  string        `yaml:"channel,omitempty"`
		Interval time.Duration `yaml:"interval,omitempty"`
	} `yaml:"slack,omitempty"`

	Ledger struct {
		Driver string `yaml:"driver,omitempty"`
		Path   string `yaml:"path,omitempty"`
	} `yaml:"ledger,omitempty"`

	SettlementsDir string `yaml:"settlements_dir,omitempty"`

	Simulate struct {
		InitialQuote string `yaml:"initial_quote,omitempty"`
		StateDir     string `yaml:"state_dir,omitempty"`
	} `yaml:"simulate,omitempty"`

	Dashboard struct {
		Addr string `yaml:"addr,omitempty"`
	} `yaml:"dashboard,omitempty"`

	Tracing bool `yaml:"tracing,omitempty"`
}

// Load reads path, loads .env and applies secrets from the environment.
func Load(path string) (Config, error) {
	// missing .env is not an error
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	cfg.Secrets = SecretsFromEnv()
	return cfg, nil
}

// Parse decodes a YAML document into a validated Config.
func Parse(raw []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml")
	}
	return tmp.Convert()
}

// SecretsFromEnv reads credentials from the environment.
func SecretsFromEnv() Secrets {
	return Secrets{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		SlackToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SerpAPIKey:       os.Getenv("SERPAPI_API_KEY"),
	}
}

// Convert validates the raw values and fills in defaults.
func (c ConfigTmp) Convert() (Config, error) {
	cfg := Config{
		Exchange:         strings.ToLower(strings.TrimSpace(c.Exchange)),
		ReplyDelay:       durationOr(c.ReplyDelay, DefaultReplyDelay),
		PollInterval:     durationOr(c.PollInterval, DefaultPollInterval),
		TestCadence:      durationOr(c.TestCadence, DefaultTestCadence),
		LLMURL:           stringOr(c.LLM.APIURL, DefaultLLMURL),
		LLMModel:         stringOr(c.LLM.Model, DefaultLLMModel),
		InstructionsFile: c.LLM.InstructionsFile,
		NewsURL:          c.News.URL,
		NewsQuery:        stringOr(c.News.Query, DefaultNewsQuery),
		FearGreedURL:     c.FearGreed.URL,
		SlackChannel:     c.Slack.Channel,
		NotifyInterval:   durationOr(c.Slack.Interval, DefaultNotifyInterval),
		LedgerDriver:     strings.ToLower(stringOr(c.Ledger.Driver, DefaultLedgerDriver)),
		LedgerPath:       stringOr(c.Ledger.Path, DefaultLedgerPath),
		SettlementsDir:   stringOr(c.SettlementsDir, DefaultSettlementsDir),
		SimulateStateDir: c.Simulate.StateDir,
		DashboardAddr:    strings.TrimSpace(c.Dashboard.Addr),
		Tracing:          c.Tracing,
	}

	switch cfg.Exchange {
	case "":
		cfg.Exchange = ExchangeSimulate
	case ExchangeBinance, ExchangeSimulate:
	default:
		return Config{}, fmt.Errorf("incorrect 'exchange' param in yaml config: %q", c.Exchange)
	}

	instruments, err := parseInstruments(c.Instruments)
	if err != nil {
		return Config{}, err
	}
	cfg.Instruments = instruments

	for _, id := range c.Excluded {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			cfg.Excluded = append(cfg.Excluded, id)
		}
	}

	if cfg.InvestFraction, err = decimalOr(c.InvestFraction, DefaultInvestFraction, "invest_fraction"); err != nil {
		return Config{}, err
	}
	if !cfg.InvestFraction.IsPositive() || cfg.InvestFraction.GreaterThan(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("incorrect 'invest_fraction' param in yaml config: %s must be in (0, 1]", cfg.InvestFraction)
	}
	if cfg.MinNotional, err = decimalOr(c.MinNotional, DefaultMinNotional, "min_notional"); err != nil {
		return Config{}, err
	}
	if cfg.MinNotional.IsNegative() {
		return Config{}, fmt.Errorf("incorrect 'min_notional' param in yaml config: %s is negative", cfg.MinNotional)
	}
	if cfg.FeeRate, err = decimalOr(c.FeeRate, DefaultFeeRate, "fee_rate"); err != nil {
		return Config{}, err
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("incorrect 'fee_rate' param in yaml config: %s must be in [0, 1)", cfg.FeeRate)
	}
	if cfg.SimulateInitialQuote, err = decimalOr(c.Simulate.InitialQuote, DefaultInitialQuote, "simulate.initial_quote"); err != nil {
		return Config{}, err
	}

	ints := []struct {
		raw  string
		def  int
		name string
		dst  *int
	}{
		{c.HistorySizeStr, DefaultHistorySize, "history_size", &cfg.HistorySize},
		{c.DailyBarsStr, DefaultDailyBars, "daily_bars", &cfg.DailyBars},
		{c.HourlyBarsStr, DefaultHourlyBars, "hourly_bars", &cfg.HourlyBars},
		{c.ReplyAttemptsStr, DefaultReplyAttempts, "reply_attempts", &cfg.ReplyAttempts},
		{c.PollAttemptsStr, DefaultPollAttempts, "poll_attempts", &cfg.PollAttempts},
		{c.FearGreed.LimitStr, 30, "fear_greed.limit", &cfg.FearGreedLimit},
	}
	for _, p := range ints {
		if *p.dst, err = positiveIntOr(p.raw, p.def, p.name); err != nil {
			return Config{}, err
		}
	}

	times := c.Schedule
	if len(times) == 0 {
		times = DefaultSchedule
	}
	for _, s := range times {
		clock, err := scheduler.ParseClock(s)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'schedule' param in yaml config: %w", err)
		}
		cfg.Schedule = append(cfg.Schedule, clock)
	}

	cfg.Location = time.UTC
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'timezone' param in yaml config: %w", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

// Quote returns the quote currency shared by every instrument.
func (c Config) Quote() string {
	if len(c.Instruments) == 0 {
		return ""
	}
	return c.Instruments[0].Quote()
}

// Policy returns the trading policy described by the config.
func (c Config) Policy() *Policy {
	return NewPolicy(c.Instruments, c.Excluded, c.InvestFraction, c.MinNotional)
}

func parseInstruments(raw []string) ([]domain.Instrument, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("yaml config needs at least one entry in 'instruments'")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]domain.Instrument, 0, len(raw))
	for _, s := range raw {
		pair, err := domain.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'instruments' param in yaml config: %s, error: %w", s, err)
		}
		inst := domain.NewInstrument(pair)
		if len(out) > 0 && inst.Quote() != out[0].Quote() {
			return nil, fmt.Errorf("instrument %s does not share quote currency %s", s, out[0].Quote())
		}
		if seen[inst.ID] {
			return nil, fmt.Errorf("instrument %s listed twice", inst.ID)
		}
		seen[inst.ID] = true
		out = append(out, inst)
	}
	return out, nil
}

func decimalOr(raw string, def decimal.Decimal, name string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", name, err)
	}
	return v, nil
}

func positiveIntOr(raw string, def int, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (must be an integer), error: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config: %d must be positive", name, v)
	}
	return v, nil
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func stringOr(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
