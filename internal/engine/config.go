package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
)

// Mode selects which pricing, execution, clock and reconciliation variants
// the engine builds at startup. Nothing else in the engine inspects the mode.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

var AllModes = []any{
	ModeBacktest,
	ModeLive,
}

// VenueConfig holds the live venue credentials and endpoint.
type VenueConfig struct {
	ApiKey    string `yaml:"api_key" json:"api_key" jsonschema:"title=API Key,description=Venue API key"`
	SecretKey string `yaml:"secret_key" json:"secret_key" jsonschema:"title=Secret Key,description=Venue API secret key"`
	// BaseURL overrides the venue endpoint, mainly for the e2e mock server.
	BaseURL    string `yaml:"base_url" json:"base_url" jsonschema:"title=Base URL,description=Optional venue endpoint override"`
	UseTestnet bool   `yaml:"use_testnet" json:"use_testnet" jsonschema:"title=Use Testnet,description=Route orders to the venue testnet"`
}

type Config struct {
	Mode Mode `yaml:"mode" json:"mode" jsonschema:"title=Mode,description=Execution mode" validate:"required,oneof=backtest live"`
	// InitialCapital is deposited into a fresh ledger before the first cycle.
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital in the cash asset,minimum=0" validate:"gte=0"`
	// Assets is the traded universe; reconciliation checks exactly these.
	Assets    []string `yaml:"assets" json:"assets" jsonschema:"title=Assets,description=Assets the strategy may trade" validate:"required,min=1"`
	CashAsset string   `yaml:"cash_asset" json:"cash_asset" jsonschema:"title=Cash Asset,description=Quote asset the ledger's cash is denominated in"`

	// DataPath is the parquet candle archive driving a backtest. Glob patterns
	// are accepted.
	DataPath  string                     `yaml:"data_path" json:"data_path" jsonschema:"title=Data Path,description=Historical candle parquet path (backtest)"`
	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the backtest period"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the backtest period"`

	// CycleInterval is the live cycle cadence. Backtests pace on the candle
	// series instead.
	CycleInterval time.Duration `yaml:"cycle_interval" json:"cycle_interval" jsonschema:"title=Cycle Interval,description=Wall clock time between live cycles"`
	// PollInterval is how often an in-flight trade is stepped.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" jsonschema:"title=Poll Interval,description=Delay between lifecycle polls"`
	// CycleTimeout bounds one cycle's Executing phase; stragglers fail.
	CycleTimeout        time.Duration `yaml:"cycle_timeout" json:"cycle_timeout" jsonschema:"title=Cycle Timeout,description=Deadline for all of a cycle's trades to reach a terminal state"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" json:"confirmation_timeout" jsonschema:"title=Confirmation Timeout,description=How long a submitted order may stay unconfirmed"`
	RetryBackoff        time.Duration `yaml:"retry_backoff" json:"retry_backoff" jsonschema:"title=Retry Backoff,description=Initial backoff after a transient venue error"`
	// MaxAttempts is the submission budget per trade, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" jsonschema:"title=Max Attempts,description=Submission attempts before a trade fails,minimum=1" validate:"gte=1"`
	// SlippageTolerance is the max fractional deviation of fill from plan.
	SlippageTolerance float64 `yaml:"slippage_tolerance" json:"slippage_tolerance" jsonschema:"title=Slippage Tolerance,description=Maximum fill deviation from the planned price,minimum=0" validate:"gte=0"`
	// DriftTolerance is the reconciliation threshold, relative to the ledger.
	DriftTolerance float64 `yaml:"drift_tolerance" json:"drift_tolerance" jsonschema:"title=Drift Tolerance,description=Ledger vs venue divergence tolerated before correction,minimum=0" validate:"gte=0"`
	// OutageThreshold is how many consecutive failed cycles count as a venue
	// outage. Exceeding it stops the engine.
	OutageThreshold int `yaml:"outage_threshold" json:"outage_threshold" jsonschema:"title=Outage Threshold,description=Consecutive failed cycles before the engine stops,minimum=1" validate:"gte=1"`
	// StaleTolerance is how old a historical candle may be and still quote.
	StaleTolerance time.Duration `yaml:"stale_tolerance" json:"stale_tolerance" jsonschema:"title=Stale Tolerance,description=Maximum candle age served as a quote (backtest)"`

	// MonitorAddr enables the HTTP monitor when set, e.g. ":8080".
	MonitorAddr string      `yaml:"monitor_addr" json:"monitor_addr" jsonschema:"title=Monitor Address,description=Listen address for the HTTP monitor (live)"`
	Venue       VenueConfig `yaml:"venue" json:"venue" jsonschema:"title=Venue,description=Live venue connection"`
}

// UnmarshalYAML implements custom unmarshaling for Config. Durations are
// written as Go duration strings; fields left out keep the EmptyConfig
// defaults.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type config struct {
		Mode                string      `yaml:"mode"`
		InitialCapital      *float64    `yaml:"initial_capital"`
		Assets              []string    `yaml:"assets"`
		CashAsset           string      `yaml:"cash_asset"`
		DataPath            string      `yaml:"data_path"`
		StartTime           *time.Time  `yaml:"start_time"`
		EndTime             *time.Time  `yaml:"end_time"`
		CycleInterval       string      `yaml:"cycle_interval"`
		PollInterval        string      `yaml:"poll_interval"`
		CycleTimeout        string      `yaml:"cycle_timeout"`
		ConfirmationTimeout string      `yaml:"confirmation_timeout"`
		RetryBackoff        string      `yaml:"retry_backoff"`
		MaxAttempts         *int        `yaml:"max_attempts"`
		SlippageTolerance   *float64    `yaml:"slippage_tolerance"`
		DriftTolerance      *float64    `yaml:"drift_tolerance"`
		OutageThreshold     *int        `yaml:"outage_threshold"`
		StaleTolerance      string      `yaml:"stale_tolerance"`
		MonitorAddr         string      `yaml:"monitor_addr"`
		Venue               VenueConfig `yaml:"venue"`
	}

	var parsed config
	if err := unmarshal(&parsed); err != nil {
		return err
	}

	*c = EmptyConfig()

	c.Mode = Mode(parsed.Mode)
	c.Assets = parsed.Assets
	c.DataPath = parsed.DataPath
	c.MonitorAddr = parsed.MonitorAddr
	c.Venue = parsed.Venue

	if parsed.CashAsset != "" {
		c.CashAsset = parsed.CashAsset
	}

	if parsed.InitialCapital != nil {
		c.InitialCapital = *parsed.InitialCapital
	}

	if parsed.StartTime != nil {
		c.StartTime = optional.Some(*parsed.StartTime)
	}

	if parsed.EndTime != nil {
		c.EndTime = optional.Some(*parsed.EndTime)
	}

	if parsed.MaxAttempts != nil {
		c.MaxAttempts = *parsed.MaxAttempts
	}

	if parsed.SlippageTolerance != nil {
		c.SlippageTolerance = *parsed.SlippageTolerance
	}

	if parsed.DriftTolerance != nil {
		c.DriftTolerance = *parsed.DriftTolerance
	}

	if parsed.OutageThreshold != nil {
		c.OutageThreshold = *parsed.OutageThreshold
	}

	durations := []struct {
		raw   string
		field *time.Duration
		name  string
	}{
		{parsed.CycleInterval, &c.CycleInterval, "cycle_interval"},
		{parsed.PollInterval, &c.PollInterval, "poll_interval"},
		{parsed.CycleTimeout, &c.CycleTimeout, "cycle_timeout"},
		{parsed.ConfirmationTimeout, &c.ConfirmationTimeout, "confirmation_timeout"},
		{parsed.RetryBackoff, &c.RetryBackoff, "retry_backoff"},
		{parsed.StaleTolerance, &c.StaleTolerance, "stale_tolerance"},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		value, err := time.ParseDuration(d.raw)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid duration for %s: %q", d.name, d.raw)
		}

		*d.field = value
	}

	return nil
}

// Validate checks the configuration, including the per-mode requirements.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine config", err)
	}

	for _, d := range []struct {
		value time.Duration
		name  string
	}{
		{c.CycleInterval, "cycle_interval"},
		{c.PollInterval, "poll_interval"},
		{c.CycleTimeout, "cycle_timeout"},
		{c.ConfirmationTimeout, "confirmation_timeout"},
		{c.RetryBackoff, "retry_backoff"},
		{c.StaleTolerance, "stale_tolerance"},
	} {
		if d.value <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "%s must be positive, got %s", d.name, d.value)
		}
	}

	switch c.Mode {
	case ModeBacktest:
		if c.DataPath == "" {
			return errors.New(errors.ErrCodeInvalidConfiguration, "backtest mode requires data_path")
		}

		if c.InitialCapital <= 0 {
			return errors.New(errors.ErrCodeInvalidConfiguration, "backtest mode requires a positive initial_capital")
		}
	case ModeLive:
		if c.Venue.ApiKey == "" || c.Venue.SecretKey == "" {
			return errors.New(errors.ErrCodeInvalidConfiguration, "live mode requires venue api_key and secret_key")
		}

		if c.CashAsset == "" {
			return errors.New(errors.ErrCodeInvalidConfiguration, "live mode requires cash_asset")
		}
	}

	return nil
}

// GenerateSchema generates a JSON schema for the Config
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:    "string",
					Pattern: "^[0-9]+(ns|us|ms|s|m|h)$",
				}
			}
			if strings.HasSuffix(t.String(), "engine.Mode") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllModes,
				}
			}
			return nil
		},
	}

	// Generate schema from Config struct
	schema := reflector.Reflect(c)

	// Set schema metadata
	schema.Title = "executor-engine-v1-config"
	schema.Description = "Configuration schema for the execution engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the Config
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// TestConfig returns a backtest configuration with short timeouts, suitable
// for fixtures.
func TestConfig(dataPath string, assets []string) Config {
	config := EmptyConfig()
	config.Mode = ModeBacktest
	config.InitialCapital = 10000
	config.Assets = assets
	config.DataPath = dataPath
	config.CycleTimeout = 30 * time.Second
	config.PollInterval = 100 * time.Millisecond

	return config
}

// EmptyConfig returns a Config with default values
func EmptyConfig() Config {
	return Config{
		Mode:                "",
		InitialCapital:      0,
		Assets:              nil,
		CashAsset:           "USDT",
		DataPath:            "",
		StartTime:           optional.None[time.Time](),
		EndTime:             optional.None[time.Time](),
		CycleInterval:       time.Minute,
		PollInterval:        2 * time.Second,
		CycleTimeout:        2 * time.Minute,
		ConfirmationTimeout: 5 * time.Minute,
		RetryBackoff:        time.Second,
		MaxAttempts:         5,
		SlippageTolerance:   0.01,
		DriftTolerance:      0.01,
		OutageThreshold:     3,
		StaleTolerance:      time.Hour,
		MonitorAddr:         "",
		Venue:               VenueConfig{},
	}
}
