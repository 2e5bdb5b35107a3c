// Package config provides configuration management for the trading agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/avollmer/openrange/internal/clock"
)

// Strategy constants. These are part of the trading contract and only
// overridable through the config file, not the environment.
const (
	// defaultMinNetCredit is the net-credit floor a spread must clear.
	defaultMinNetCredit = 4.60
	// defaultSlippageBuffer is the expected execution shortfall versus mid.
	defaultSlippageBuffer = 0.10
	// defaultSpreadWidth is the distance between legs in index points.
	defaultSpreadWidth = 10.0
	// defaultPollInterval is the quote-monitor cadence.
	defaultPollInterval = "10s"

	defaultDailyRiskPct = 0.03
	defaultMinContracts = 1
	defaultMaxContracts = 50

	defaultUnderlying = "$SPX"
	defaultOptionRoot = "SPXW"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`

	marketOpen    clock.HM
	orEnd         clock.HM
	entryDeadline clock.HM
	marketClose   clock.HM
}

// EnvironmentConfig defines the run-mode settings.
type EnvironmentConfig struct {
	// DryRun constructs and logs order payloads without transmitting.
	DryRun *bool `yaml:"dry_run"`
	// EnableLiveTrading is the second, independent gate. Both must be
	// set the right way for an order to leave the process.
	EnableLiveTrading bool   `yaml:"enable_live_trading"`
	LogLevel          string `yaml:"log_level"`
}

// BrokerConfig defines brokerage API settings.
type BrokerConfig struct {
	APIBaseURL    string `yaml:"api_base_url"`
	AuthBaseURL   string `yaml:"auth_base_url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RefreshToken  string `yaml:"refresh_token"`
	AccessToken   string `yaml:"access_token"`
	AccountNumber string `yaml:"account_number"`
	Underlying    string `yaml:"underlying"`
	OptionRoot    string `yaml:"option_root"`
	Timeout       string `yaml:"timeout"`
}

// StrategyConfig defines the credit-spread parameters.
type StrategyConfig struct {
	MinNetCredit   float64 `yaml:"min_net_credit"`
	SlippageBuffer float64 `yaml:"slippage_buffer"`
	SpreadWidth    float64 `yaml:"spread_width"`
	PollInterval   string  `yaml:"poll_interval"`
}

// RiskConfig defines position-sizing parameters.
type RiskConfig struct {
	DailyRiskPct float64 `yaml:"daily_risk_pct"`
	MinContracts int     `yaml:"min_contracts"`
	MaxContracts int     `yaml:"max_contracts"`
}

// ScheduleConfig defines the trading-day timetable.
type ScheduleConfig struct {
	Timezone      string   `yaml:"timezone"`       // e.g. "America/New_York"
	MarketOpen    string   `yaml:"market_open"`    // "09:30"
	OREnd         string   `yaml:"or_end"`         // "10:00"
	EntryDeadline string   `yaml:"entry_deadline"` // "12:00"
	MarketClose   string   `yaml:"market_close"`   // "16:00"
	Holidays      []string `yaml:"holidays"`       // "YYYY-MM-DD"
}

// StorageConfig defines where trades and reports are journaled.
type StorageConfig struct {
	Type       string `yaml:"type"` // csv | sqlite
	Path       string `yaml:"path"`
	ReportsDir string `yaml:"reports_dir"`
}

// NotifyConfig defines end-of-day report delivery.
type NotifyConfig struct {
	Recipient string `yaml:"recipient"`
	Sender    string `yaml:"sender"`
	Password  string `yaml:"password"`
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
}

// DashboardConfig defines the embedded web dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns the configuration used when no file is present; the
// enumerated environment variables then carry the run.
func Default() *Config {
	dryRun := true
	return &Config{
		Environment: EnvironmentConfig{DryRun: &dryRun, LogLevel: "info"},
		Broker: BrokerConfig{
			APIBaseURL:  "https://api.schwabapi.com",
			AuthBaseURL: "https://api.schwabapi.com",
			Underlying:  defaultUnderlying,
			OptionRoot:  defaultOptionRoot,
			Timeout:     "30s",
		},
		Strategy: StrategyConfig{
			MinNetCredit:   defaultMinNetCredit,
			SlippageBuffer: defaultSlippageBuffer,
			SpreadWidth:    defaultSpreadWidth,
			PollInterval:   defaultPollInterval,
		},
		Risk: RiskConfig{
			DailyRiskPct: defaultDailyRiskPct,
			MinContracts: defaultMinContracts,
			MaxContracts: defaultMaxContracts,
		},
		Schedule: ScheduleConfig{
			Timezone:      "America/New_York",
			MarketOpen:    "09:30",
			OREnd:         "10:00",
			EntryDeadline: "12:00",
			MarketClose:   "16:00",
		},
		Storage: StorageConfig{
			Type:       "csv",
			Path:       "tracking/trades.csv",
			ReportsDir: "reports",
		},
		Notify: NotifyConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Dashboard: DashboardConfig{Port: 9847},
	}
}

// Load reads the configuration file, expands ${ENV} references, applies
// the enumerated environment overrides, and validates. A missing file at
// the default path is not an error: the environment drives the run.
func Load(configPath string) (*Config, error) {
	explicit := configPath != ""
	if configPath == "" {
		configPath = "config.yaml"
	}

	config := Default()

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config.applyDefaults()
	if err := config.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// applyDefaults fills any field the file left at its zero value.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Environment.DryRun == nil {
		c.Environment.DryRun = d.Environment.DryRun
	}
	if c.Broker.APIBaseURL == "" {
		c.Broker.APIBaseURL = d.Broker.APIBaseURL
	}
	if c.Broker.AuthBaseURL == "" {
		c.Broker.AuthBaseURL = d.Broker.AuthBaseURL
	}
	if c.Broker.Underlying == "" {
		c.Broker.Underlying = d.Broker.Underlying
	}
	if c.Broker.OptionRoot == "" {
		c.Broker.OptionRoot = d.Broker.OptionRoot
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = d.Broker.Timeout
	}
	if c.Strategy.MinNetCredit == 0 {
		c.Strategy.MinNetCredit = d.Strategy.MinNetCredit
	}
	if c.Strategy.SlippageBuffer == 0 {
		c.Strategy.SlippageBuffer = d.Strategy.SlippageBuffer
	}
	if c.Strategy.SpreadWidth == 0 {
		c.Strategy.SpreadWidth = d.Strategy.SpreadWidth
	}
	if c.Strategy.PollInterval == "" {
		c.Strategy.PollInterval = d.Strategy.PollInterval
	}
	if c.Risk.DailyRiskPct == 0 {
		c.Risk.DailyRiskPct = d.Risk.DailyRiskPct
	}
	if c.Risk.MinContracts == 0 {
		c.Risk.MinContracts = d.Risk.MinContracts
	}
	if c.Risk.MaxContracts == 0 {
		c.Risk.MaxContracts = d.Risk.MaxContracts
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = d.Schedule.Timezone
	}
	if c.Schedule.MarketOpen == "" {
		c.Schedule.MarketOpen = d.Schedule.MarketOpen
	}
	if c.Schedule.OREnd == "" {
		c.Schedule.OREnd = d.Schedule.OREnd
	}
	if c.Schedule.EntryDeadline == "" {
		c.Schedule.EntryDeadline = d.Schedule.EntryDeadline
	}
	if c.Schedule.MarketClose == "" {
		c.Schedule.MarketClose = d.Schedule.MarketClose
	}
	if c.Storage.Type == "" {
		c.Storage.Type = d.Storage.Type
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	if c.Storage.ReportsDir == "" {
		c.Storage.ReportsDir = d.Storage.ReportsDir
	}
	if c.Notify.SMTPHost == "" {
		c.Notify.SMTPHost = d.Notify.SMTPHost
	}
	if c.Notify.SMTPPort == 0 {
		c.Notify.SMTPPort = d.Notify.SMTPPort
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = d.Dashboard.Port
	}
}

// applyEnvOverrides lets the enumerated environment variables win over
// the file. These are the same names the deployment has always used.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN=%q is not a bool: %w", v, err)
		}
		c.Environment.DryRun = &b
	}
	if v := os.Getenv("ENABLE_LIVE_TRADING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_LIVE_TRADING=%q is not a bool: %w", v, err)
		}
		c.Environment.EnableLiveTrading = b
	}
	if v := os.Getenv("DAILY_RISK_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DAILY_RISK_PCT=%q is not a number: %w", v, err)
		}
		c.Risk.DailyRiskPct = f
	}
	if v := os.Getenv("MIN_CONTRACTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MIN_CONTRACTS=%q is not an int: %w", v, err)
		}
		c.Risk.MinContracts = n
	}
	if v := os.Getenv("MAX_CONTRACTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONTRACTS=%q is not an int: %w", v, err)
		}
		c.Risk.MaxContracts = n
	}
	if v := os.Getenv("SCHWAB_API_BASE_URL"); v != "" {
		c.Broker.APIBaseURL = v
	}
	if v := os.Getenv("SCHWAB_AUTH_BASE_URL"); v != "" {
		c.Broker.AuthBaseURL = v
	}
	if v := os.Getenv("SCHWAB_CLIENT_ID"); v != "" {
		c.Broker.ClientID = v
	}
	if v := os.Getenv("SCHWAB_CLIENT_SECRET"); v != "" {
		c.Broker.ClientSecret = v
	}
	if v := os.Getenv("SCHWAB_REFRESH_TOKEN"); v != "" {
		c.Broker.RefreshToken = v
	}
	if v := os.Getenv("SCHWAB_ACCOUNT_NUMBER"); v != "" {
		c.Broker.AccountNumber = v
	}
	if v := os.Getenv("EMAIL_RECIPIENT"); v != "" {
		c.Notify.Recipient = v
	}
	if v := os.Getenv("EMAIL_SENDER"); v != "" {
		c.Notify.Sender = v
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		c.Notify.Password = v
	}
	return nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Risk.DailyRiskPct <= 0 || c.Risk.DailyRiskPct > 1 {
		return fmt.Errorf("risk.daily_risk_pct must be in (0, 1]")
	}
	if c.Risk.MinContracts < 1 {
		return fmt.Errorf("risk.min_contracts must be >= 1")
	}
	if c.Risk.MaxContracts < c.Risk.MinContracts {
		return fmt.Errorf("risk.max_contracts (%d) must be >= risk.min_contracts (%d)",
			c.Risk.MaxContracts, c.Risk.MinContracts)
	}

	if c.Strategy.MinNetCredit <= 0 {
		return fmt.Errorf("strategy.min_net_credit must be > 0")
	}
	if c.Strategy.SlippageBuffer < 0 {
		return fmt.Errorf("strategy.slippage_buffer must be >= 0")
	}
	if c.Strategy.SpreadWidth <= 0 {
		return fmt.Errorf("strategy.spread_width must be > 0")
	}
	if d, err := time.ParseDuration(c.Strategy.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("strategy.poll_interval invalid: %q", c.Strategy.PollInterval)
	}
	if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
		return fmt.Errorf("broker.timeout invalid: %w", err)
	}

	var err error
	if c.marketOpen, err = clock.ParseHM(c.Schedule.MarketOpen); err != nil {
		return fmt.Errorf("schedule.market_open: %w", err)
	}
	if c.orEnd, err = clock.ParseHM(c.Schedule.OREnd); err != nil {
		return fmt.Errorf("schedule.or_end: %w", err)
	}
	if c.entryDeadline, err = clock.ParseHM(c.Schedule.EntryDeadline); err != nil {
		return fmt.Errorf("schedule.entry_deadline: %w", err)
	}
	if c.marketClose, err = clock.ParseHM(c.Schedule.MarketClose); err != nil {
		return fmt.Errorf("schedule.market_close: %w", err)
	}
	if !c.marketOpen.Before(c.orEnd) || !c.orEnd.Before(c.entryDeadline) || !c.entryDeadline.Before(c.marketClose) {
		return fmt.Errorf("schedule must order market_open < or_end < entry_deadline < market_close")
	}
	for _, h := range c.Schedule.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("schedule.holidays entry %q: %w", h, err)
		}
	}

	if c.Storage.Type != "csv" && c.Storage.Type != "sqlite" {
		return fmt.Errorf("storage.type must be 'csv' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in 1..65535")
	}

	if c.LiveSubmissionAllowed() {
		if c.Broker.ClientID == "" || c.Broker.ClientSecret == "" {
			return fmt.Errorf("live trading requires broker.client_id and broker.client_secret")
		}
		if c.Broker.RefreshToken == "" && c.Broker.AccessToken == "" {
			return fmt.Errorf("live trading requires broker.refresh_token or broker.access_token")
		}
	}
	return nil
}

// DryRun reports whether order payloads are logged instead of sent.
func (c *Config) DryRun() bool {
	return c.Environment.DryRun == nil || *c.Environment.DryRun
}

// ForceDryRun pins the run to dry-run mode regardless of file or
// environment, used by the --dry-run flag.
func (c *Config) ForceDryRun() {
	t := true
	c.Environment.DryRun = &t
}

// LiveSubmissionAllowed is the single gate predicate: an order may leave
// the process only when this returns true.
func (c *Config) LiveSubmissionAllowed() bool {
	return !c.DryRun() && c.Environment.EnableLiveTrading
}

// PollInterval returns the quote-monitor cadence.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Strategy.PollInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// BrokerTimeout returns the per-request HTTP timeout.
func (c *Config) BrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MarketOpen returns the validated session-open time of day.
func (c *Config) MarketOpen() clock.HM { return c.marketOpen }

// OREnd returns the validated opening-range close time of day.
func (c *Config) OREnd() clock.HM { return c.orEnd }

// EntryDeadline returns the validated last instant for order entry.
func (c *Config) EntryDeadline() clock.HM { return c.entryDeadline }

// MarketClose returns the validated settlement time of day.
func (c *Config) MarketClose() clock.HM { return c.marketClose }
