package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"survivald/internal/model"
)

// SourceConfig describes one opportunity source.
type SourceConfig struct {
	Category  string `yaml:"category"`
	URL       string `yaml:"url"`
	StreamURL string `yaml:"stream_url"`
}

// Config holds all application configuration.
type Config struct {
	Ledger struct {
		BaseURL           string  `yaml:"base_url"`
		APIKey            string  `yaml:"api_key"`
		CreditURL         string  `yaml:"credit_url"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"ledger"`
	Webhook struct {
		URL string `yaml:"url"`
	} `yaml:"webhook"`
	Treasury struct {
		StateFile              string  `yaml:"state_file"`
		OperatingFraction      float64 `yaml:"operating_fraction"`
		TradingFraction        float64 `yaml:"trading_fraction"`
		EmergencyFraction      float64 `yaml:"emergency_fraction"`
		ProfitShareFraction    float64 `yaml:"profit_share_fraction"`
		MinOperatingReserveUSD float64 `yaml:"min_operating_reserve_usd"`
		MinEmergencyReserveUSD float64 `yaml:"min_emergency_reserve_usd"`
		// Pointers: an explicit 0 is meaningful (distribute any positive
		// profit / ignore win rate) and must not be replaced by a default.
		ProfitShareThresholdUSD *float64 `yaml:"profit_share_threshold_usd"`
		MinWinRate              *float64 `yaml:"min_win_rate"`
		CreatorAddress          string   `yaml:"creator_address"`
	} `yaml:"treasury"`
	Work struct {
		Enabled       bool           `yaml:"enabled"`
		Priority      string         `yaml:"priority"` // low|medium|high
		MaxConcurrent int            `yaml:"max_concurrent"`
		MinPayoutUSD  *float64       `yaml:"min_payout_usd"` // explicit 0 accepts any payout
		JobTimeoutSec int            `yaml:"job_timeout_sec"`
		Sources       []SourceConfig `yaml:"sources"`
	} `yaml:"work"`
	Tiers struct {
		CreditLow          float64 `yaml:"credit_low"`
		CreditHigh         float64 `yaml:"credit_high"`
		TreasuryFloorUSD   float64 `yaml:"treasury_floor_usd"`
		TreasuryLowUSD     float64 `yaml:"treasury_low_usd"`
		TreasuryHighUSD    float64 `yaml:"treasury_high_usd"`
		UpgradeMargin      float64 `yaml:"upgrade_margin"`
		NormalTickMs       int     `yaml:"normal_tick_ms"`
		LowComputeTickMs   int     `yaml:"low_compute_tick_ms"`
		CriticalTickMs     int     `yaml:"critical_tick_ms"`
		DeadPollMs         int     `yaml:"dead_poll_ms"`
	} `yaml:"tiers"`
	Heartbeat struct {
		DistressAfterTicks int    `yaml:"distress_after_ticks"`
		DistressMinGapMin  int    `yaml:"distress_min_gap_min"`
		SnapshotCron       string `yaml:"snapshot_cron"`
		DailyReportCron    string `yaml:"daily_report_cron"`
		ShutdownGraceSec   int    `yaml:"shutdown_grace_sec"`
	} `yaml:"heartbeat"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LEDGER_BASE_URL"); v != "" {
		cfg.Ledger.BaseURL = v
	}
	if v := os.Getenv("LEDGER_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("CREDIT_URL"); v != "" {
		cfg.Ledger.CreditURL = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("CREATOR_ADDRESS"); v != "" {
		cfg.Treasury.CreatorAddress = v
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		cfg.Treasury.StateFile = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("PROFIT_SHARE_THRESHOLD"); v != "" {
		var threshold float64
		if _, err := fmt.Sscanf(v, "%f", &threshold); err == nil {
			cfg.Treasury.ProfitShareThresholdUSD = &threshold
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	t := &cfg.Treasury
	if t.OperatingFraction == 0 && t.TradingFraction == 0 &&
		t.EmergencyFraction == 0 && t.ProfitShareFraction == 0 {
		t.OperatingFraction = 0.40
		t.TradingFraction = 0.30
		t.EmergencyFraction = 0.20
		t.ProfitShareFraction = 0.10
	}
	if t.StateFile == "" {
		t.StateFile = "data/treasury_state.json"
	}
	if t.ProfitShareThresholdUSD == nil {
		t.ProfitShareThresholdUSD = f64(50)
	}
	if t.MinWinRate == nil {
		t.MinWinRate = f64(0.5)
	}
	if cfg.Work.Priority == "" {
		cfg.Work.Priority = "medium"
	}
	if cfg.Work.MaxConcurrent == 0 {
		cfg.Work.MaxConcurrent = 3
	}
	if cfg.Work.MinPayoutUSD == nil {
		cfg.Work.MinPayoutUSD = f64(0.5)
	}
	if cfg.Work.JobTimeoutSec == 0 {
		cfg.Work.JobTimeoutSec = 120
	}
	tr := &cfg.Tiers
	if tr.CreditLow == 0 {
		tr.CreditLow = 0.1
	}
	if tr.CreditHigh == 0 {
		tr.CreditHigh = 0.5
	}
	if tr.TreasuryFloorUSD == 0 {
		tr.TreasuryFloorUSD = 10
	}
	if tr.TreasuryLowUSD == 0 {
		tr.TreasuryLowUSD = 25
	}
	if tr.TreasuryHighUSD == 0 {
		tr.TreasuryHighUSD = 100
	}
	if tr.UpgradeMargin == 0 {
		tr.UpgradeMargin = 0.10
	}
	if tr.NormalTickMs == 0 {
		tr.NormalTickMs = 60_000
	}
	if tr.LowComputeTickMs == 0 {
		tr.LowComputeTickMs = 300_000
	}
	if tr.CriticalTickMs == 0 {
		tr.CriticalTickMs = 600_000
	}
	if tr.DeadPollMs == 0 {
		tr.DeadPollMs = 1_800_000
	}
	hb := &cfg.Heartbeat
	if hb.DistressAfterTicks == 0 {
		hb.DistressAfterTicks = 3
	}
	if hb.DistressMinGapMin == 0 {
		hb.DistressMinGapMin = 60
	}
	if hb.SnapshotCron == "" {
		hb.SnapshotCron = "0 0 * * * *" // hourly
	}
	if hb.DailyReportCron == "" {
		hb.DailyReportCron = "0 0 8 * * *"
	}
	if hb.ShutdownGraceSec == 0 {
		hb.ShutdownGraceSec = 30
	}
	if cfg.Ledger.RequestsPerSecond == 0 {
		cfg.Ledger.RequestsPerSecond = 2
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/survivald.db"
	}
}

// Validate checks configuration invariants. A violation here is a fatal
// startup error: the process refuses to run with an inconsistent policy.
func (c *Config) Validate() error {
	p := c.Policy()
	if math.Abs(p.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("treasury fractions must sum to 1.0, got %.12f", p.Sum())
	}
	for name, f := range map[string]float64{
		"operating_fraction":    p.OperatingFraction,
		"trading_fraction":      p.TradingFraction,
		"emergency_fraction":    p.EmergencyFraction,
		"profit_share_fraction": p.ProfitShareFraction,
	} {
		if f < 0 || f > 1 {
			return fmt.Errorf("treasury.%s must be in [0,1], got %f", name, f)
		}
	}
	if c.Treasury.MinOperatingReserveUSD < 0 || c.Treasury.MinEmergencyReserveUSD < 0 {
		return fmt.Errorf("reserve minimums must not be negative")
	}
	if w := *c.Treasury.MinWinRate; w < 0 || w > 1 {
		return fmt.Errorf("treasury.min_win_rate must be in [0,1], got %f", w)
	}
	if *c.Treasury.ProfitShareThresholdUSD < 0 {
		return fmt.Errorf("treasury.profit_share_threshold_usd must not be negative")
	}
	if *c.Work.MinPayoutUSD < 0 {
		return fmt.Errorf("work.min_payout_usd must not be negative")
	}
	if c.Work.MaxConcurrent < 1 {
		return fmt.Errorf("work.max_concurrent must be at least 1")
	}
	switch model.Urgency(c.Work.Priority) {
	case model.UrgencyLow, model.UrgencyMedium, model.UrgencyHigh:
	default:
		return fmt.Errorf("work.priority must be low, medium or high, got %q", c.Work.Priority)
	}
	if c.Tiers.CreditLow >= c.Tiers.CreditHigh {
		return fmt.Errorf("tiers.credit_low must be below tiers.credit_high")
	}
	if !(c.Tiers.TreasuryFloorUSD < c.Tiers.TreasuryLowUSD && c.Tiers.TreasuryLowUSD < c.Tiers.TreasuryHighUSD) {
		return fmt.Errorf("tiers thresholds must satisfy floor < low < high")
	}
	for name, ms := range map[string]int{
		"normal_tick_ms":      c.Tiers.NormalTickMs,
		"low_compute_tick_ms": c.Tiers.LowComputeTickMs,
		"critical_tick_ms":    c.Tiers.CriticalTickMs,
		"dead_poll_ms":        c.Tiers.DeadPollMs,
	} {
		if ms <= 0 {
			return fmt.Errorf("tiers.%s must be positive", name)
		}
	}
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required")
	}
	if c.Treasury.CreatorAddress == "" && c.Treasury.ProfitShareFraction > 0 {
		return fmt.Errorf("treasury.creator_address is required when profit_share_fraction > 0")
	}
	return nil
}

// Policy returns the configured allocation policy.
func (c *Config) Policy() model.AllocationPolicy {
	return model.AllocationPolicy{
		OperatingFraction:   c.Treasury.OperatingFraction,
		TradingFraction:     c.Treasury.TradingFraction,
		EmergencyFraction:   c.Treasury.EmergencyFraction,
		ProfitShareFraction: c.Treasury.ProfitShareFraction,
	}
}

// JobTimeout returns the per-opportunity execution timeout.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Work.JobTimeoutSec) * time.Second
}

func f64(v float64) *float64 { return &v }
