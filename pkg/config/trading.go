package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError marks a malformed or incomplete trading configuration. The
// process must not start when one is returned.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func errf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SymbolConfig describes one tradable instrument, with optional per-symbol
// overrides of strategy defaults.
type SymbolConfig struct {
	Name     string  `yaml:"name"`
	TickSize float64 `yaml:"tick_size"`

	// Overrides; zero means "use the strategy default".
	Quantity  int     `yaml:"quantity"`
	BufferPct float64 `yaml:"buffer_percentage"`
}

// SessionConfig bounds the trading day. Times are "HH:MM" wall-clock in the
// configured location.
type SessionConfig struct {
	Open      string `yaml:"open"`
	Close     string `yaml:"close"`
	SquareOff string `yaml:"square_off"`
	Timezone  string `yaml:"timezone"`
}

// CapitalConfig allocates account capital.
type CapitalConfig struct {
	Total          float64 `yaml:"total"`
	MaxPerTradePct float64 `yaml:"max_per_trade_pct"`
	MaxPerSymbol   int     `yaml:"max_per_symbol"`
}

// RiskConfig holds account-wide risk limits.
type RiskConfig struct {
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	MaxPositions    int     `yaml:"max_positions"`
	DailyLossPct    float64 `yaml:"daily_loss_pct"`
	WeeklyLossPct   float64 `yaml:"weekly_loss_pct"`
	MonthlyLossPct  float64 `yaml:"monthly_loss_pct"`
}

// TargetPolicy selects how the ladder behaves once price runs past the final
// target without reversal.
type TargetPolicy string

const (
	// TargetExtend extends the existing ladder along the same level schedule.
	TargetExtend TargetPolicy = "extend"
	// TargetRelevel rebuilds the ladder from the current price.
	TargetRelevel TargetPolicy = "relevel"
)

// StrategyConfig holds the Gann strategy parameters.
type StrategyConfig struct {
	GannIncrements []float64    `yaml:"gann_increments"`
	NumValues      int          `yaml:"num_values"`
	PrimaryAngle   int          `yaml:"primary_angle"`
	BufferPct      float64      `yaml:"buffer_percentage"`
	NumTargets     int          `yaml:"num_targets"`
	VolumeMultiple float64      `yaml:"volume_multiple"`
	RSIPeriod      int          `yaml:"rsi_period"`
	VolumePeriod   int          `yaml:"volume_period"`
	DeviationPct   float64      `yaml:"deviation_pct"`
	TargetPolicy   TargetPolicy `yaml:"target_policy"`
}

// TimeframeConfig names the primary and secondary bar intervals.
type TimeframeConfig struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// TradingConfig is the full typed trading configuration.
type TradingConfig struct {
	Symbols    []SymbolConfig  `yaml:"symbols"`
	Timeframes TimeframeConfig `yaml:"timeframes"`
	Session    SessionConfig   `yaml:"session"`
	Capital    CapitalConfig   `yaml:"capital"`
	Risk       RiskConfig      `yaml:"risk"`
	Strategy   StrategyConfig  `yaml:"strategy"`
}

// LoadTrading reads and validates the YAML trading configuration.
func LoadTrading(path string) (*TradingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trading config: %w", err)
	}
	var cfg TradingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse trading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every recognized field and returns the first ConfigError.
func (c *TradingConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return errf("symbols", "at least one symbol is required")
	}
	seen := map[string]bool{}
	for i, s := range c.Symbols {
		if s.Name == "" {
			return errf("symbols", "symbol %d has no name", i)
		}
		if seen[s.Name] {
			return errf("symbols", "duplicate symbol %q", s.Name)
		}
		seen[s.Name] = true
		if s.TickSize < 0 {
			return errf("symbols", "%s: negative tick_size", s.Name)
		}
		if s.Quantity < 0 {
			return errf("symbols", "%s: negative quantity override", s.Name)
		}
	}

	for _, tf := range []struct{ name, val string }{
		{"timeframes.primary", c.Timeframes.Primary},
		{"timeframes.secondary", c.Timeframes.Secondary},
	} {
		if tf.val == "" {
			return errf(tf.name, "missing")
		}
		if _, err := time.ParseDuration(tf.val); err != nil {
			return errf(tf.name, "invalid interval %q", tf.val)
		}
	}

	if _, err := c.Session.Location(); err != nil {
		return errf("session.timezone", "%v", err)
	}
	for _, tt := range []struct{ name, val string }{
		{"session.open", c.Session.Open},
		{"session.close", c.Session.Close},
		{"session.square_off", c.Session.SquareOff},
	} {
		if _, err := parseClock(tt.val); err != nil {
			return errf(tt.name, "%v", err)
		}
	}
	openM, _ := parseClock(c.Session.Open)
	closeM, _ := parseClock(c.Session.Close)
	sqM, _ := parseClock(c.Session.SquareOff)
	if openM >= closeM {
		return errf("session", "open %s not before close %s", c.Session.Open, c.Session.Close)
	}
	if sqM <= openM || sqM > closeM {
		return errf("session.square_off", "%s outside session window", c.Session.SquareOff)
	}

	if c.Capital.Total <= 0 {
		return errf("capital.total", "must be positive, got %v", c.Capital.Total)
	}
	if c.Capital.MaxPerTradePct <= 0 || c.Capital.MaxPerTradePct > 1 {
		return errf("capital.max_per_trade_pct", "must be in (0,1], got %v", c.Capital.MaxPerTradePct)
	}
	if c.Capital.MaxPerSymbol <= 0 {
		return errf("capital.max_per_symbol", "must be positive, got %d", c.Capital.MaxPerSymbol)
	}

	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct >= 1 {
		return errf("risk.risk_per_trade_pct", "must be in (0,1), got %v", c.Risk.RiskPerTradePct)
	}
	if c.Risk.MaxPositions <= 0 {
		return errf("risk.max_positions", "must be positive, got %d", c.Risk.MaxPositions)
	}
	for _, p := range []struct {
		name string
		val  float64
	}{
		{"risk.daily_loss_pct", c.Risk.DailyLossPct},
		{"risk.weekly_loss_pct", c.Risk.WeeklyLossPct},
		{"risk.monthly_loss_pct", c.Risk.MonthlyLossPct},
	} {
		if p.val <= 0 || p.val >= 1 {
			return errf(p.name, "must be in (0,1), got %v", p.val)
		}
	}
	if c.Risk.DailyLossPct > c.Risk.WeeklyLossPct || c.Risk.WeeklyLossPct > c.Risk.MonthlyLossPct {
		return errf("risk", "loss limits must widen: daily <= weekly <= monthly")
	}

	s := c.Strategy
	if len(s.GannIncrements) == 0 {
		return errf("strategy.gann_increments", "missing")
	}
	for i, inc := range s.GannIncrements {
		if inc <= 0 {
			return errf("strategy.gann_increments", "increment %d must be positive, got %v", i, inc)
		}
	}
	if s.NumValues <= 0 {
		return errf("strategy.num_values", "must be positive, got %d", s.NumValues)
	}
	if s.PrimaryAngle < -1 || s.PrimaryAngle >= len(s.GannIncrements) {
		return errf("strategy.primary_angle", "index %d out of range", s.PrimaryAngle)
	}
	if s.BufferPct < 0 || s.BufferPct >= 1 {
		return errf("strategy.buffer_percentage", "must be in [0,1), got %v", s.BufferPct)
	}
	if s.NumTargets <= 0 {
		return errf("strategy.num_targets", "must be positive, got %d", s.NumTargets)
	}
	if s.VolumeMultiple <= 0 {
		return errf("strategy.volume_multiple", "must be positive, got %v", s.VolumeMultiple)
	}
	if s.RSIPeriod <= 0 {
		return errf("strategy.rsi_period", "must be positive, got %d", s.RSIPeriod)
	}
	if s.VolumePeriod <= 0 {
		return errf("strategy.volume_period", "must be positive, got %d", s.VolumePeriod)
	}
	if s.DeviationPct <= 0 || s.DeviationPct >= 1 {
		return errf("strategy.deviation_pct", "must be in (0,1), got %v", s.DeviationPct)
	}
	switch s.TargetPolicy {
	case TargetExtend, TargetRelevel:
	default:
		return errf("strategy.target_policy", "unknown policy %q", s.TargetPolicy)
	}

	return nil
}

// Location resolves the session timezone.
func (s SessionConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return nil, fmt.Errorf("missing")
	}
	return time.LoadLocation(s.Timezone)
}

// SquareOffAt returns the square-off instant on the given day.
func (s SessionConfig) SquareOffAt(day time.Time, loc *time.Location) time.Time {
	m, _ := parseClock(s.SquareOff)
	y, mo, d := day.In(loc).Date()
	return time.Date(y, mo, d, m/60, m%60, 0, 0, loc)
}

// WithinSession reports whether t falls inside the open/close window.
func (s SessionConfig) WithinSession(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()
	openM, _ := parseClock(s.Open)
	closeM, _ := parseClock(s.Close)
	return m >= openM && m < closeM
}

// PastSquareOff reports whether t is at or past the square-off cutoff.
func (s SessionConfig) PastSquareOff(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()
	sqM, _ := parseClock(s.SquareOff)
	return m >= sqM
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// SymbolOverride returns the symbol config by name.
func (c *TradingConfig) SymbolOverride(name string) (SymbolConfig, bool) {
	for _, s := range c.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return SymbolConfig{}, false
}
