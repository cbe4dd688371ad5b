package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	hunterrors "github.com/predatorfx/hunter/pkg/errors"
)

// Config is the configuration snapshot the session orchestrator reads
// once at session start (spec.md §3, §6, §9).
type Config struct {
	Server struct {
		Host     string `mapstructure:"host" validate:"required"`
		Port     int    `mapstructure:"port" validate:"required"`
		GRPCPort int    `mapstructure:"grpc_port"`
	} `mapstructure:"server"`

	Broker struct {
		StreamBaseURL string `mapstructure:"stream_base_url" validate:"required"`
		RESTBaseURL   string `mapstructure:"rest_base_url" validate:"required"`
		Token         string `mapstructure:"token" validate:"required"`
		AccountID     string `mapstructure:"account_id" validate:"required"`
		LiveTrading   bool   `mapstructure:"live_trading"`
	} `mapstructure:"broker"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Trading struct {
		Instruments          []string           `mapstructure:"instruments" validate:"required,min=1"`
		BlockedInstruments   []string           `mapstructure:"blocked_instruments"`
		CorrelationGroups    map[string][]string `mapstructure:"correlation_groups"`
		BaseOrderUnits       int                `mapstructure:"base_order_units" validate:"required,gt=0"`
		BaseStopLossPips     float64            `mapstructure:"base_stop_loss_pips" validate:"required,gt=0"`
		BaseTakeProfitPips   float64            `mapstructure:"base_take_profit_pips" validate:"required,gt=0"`
		ZDivergenceThreshold float64            `mapstructure:"z_divergence_threshold"`
		AdminUserID          string             `mapstructure:"admin_user_id" validate:"required"`
		EngineName           string             `mapstructure:"engine_name"`
	} `mapstructure:"trading"`

	ExitGuards struct {
		RegimeHurstFloor       float64 `mapstructure:"regime_hurst_floor"`
		FlowConsensusFloorPct  float64 `mapstructure:"flow_consensus_floor_pct"`
		ZOFISlamThreshold      float64 `mapstructure:"z_ofi_slam_threshold"`
		AbsorptionBuySellRatio float64 `mapstructure:"absorption_buy_sell_ratio"`
		HoldGuardMs            int64   `mapstructure:"hold_guard_ms"`
	} `mapstructure:"exit_guards"`

	Events struct {
		NatsURL     string `mapstructure:"nats_url"`
		TopicPrefix string `mapstructure:"topic_prefix"`
	} `mapstructure:"events"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	cfg  *Config
	once sync.Once
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9091)
	v.SetDefault("trading.base_order_units", 1000)
	v.SetDefault("trading.base_stop_loss_pips", 8.0)
	v.SetDefault("trading.base_take_profit_pips", 30.0)
	v.SetDefault("trading.z_divergence_threshold", 2.0)
	v.SetDefault("trading.engine_name", "predatory_hunter")
	v.SetDefault("exit_guards.regime_hurst_floor", 0.45)
	v.SetDefault("exit_guards.flow_consensus_floor_pct", 40.0)
	v.SetDefault("exit_guards.z_ofi_slam_threshold", 3.5)
	v.SetDefault("exit_guards.absorption_buy_sell_ratio", 2.5)
	v.SetDefault("exit_guards.hold_guard_ms", 90_000)
	v.SetDefault("events.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("events.topic_prefix", "hunter.")
	v.SetDefault("monitoring.prometheus_port", 9090)
	v.SetDefault("monitoring.log_level", "info")
}

// LoadConfig loads configuration from configPath (directory) merged with
// HUNTER_-prefixed environment overrides (e.g. HUNTER_SERVER_PORT for
// server.port), validates it, and caches the result for the process
// lifetime. Environment overrides reach only keys that have a default or
// appear in the config file. Unknown keys are ignored.
func LoadConfig(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		cfg = &Config{}

		v := viper.New()
		v.SetConfigName("hunter")
		v.SetConfigType("yaml")
		setDefaults(v)

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/hunter")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("HUNTER")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = hunterrors.Wrap(hunterrors.ErrConfigInvalid, hunterrors.SeverityCritical,
					"failed to read configuration file", readErr)
				return
			}
		}

		if uerr := v.Unmarshal(cfg); uerr != nil {
			err = hunterrors.Wrap(hunterrors.ErrConfigInvalid, hunterrors.SeverityCritical,
				"failed to unmarshal configuration", uerr)
			return
		}

		if verr := validate(cfg); verr != nil {
			err = hunterrors.Wrap(hunterrors.ErrConfigInvalid, hunterrors.SeverityCritical,
				"configuration failed validation", verr)
			return
		}
	})
	return cfg, err
}

func validate(c *Config) error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// InstrumentSet returns the configured instruments minus the blocked list
// (spec.md §4.5 step 4).
func (c *Config) InstrumentSet() []string {
	blocked := make(map[string]bool, len(c.Trading.BlockedInstruments))
	for _, b := range c.Trading.BlockedInstruments {
		blocked[b] = true
	}
	out := make([]string, 0, len(c.Trading.Instruments))
	for _, i := range c.Trading.Instruments {
		if !blocked[i] {
			out = append(out, i)
		}
	}
	return out
}
