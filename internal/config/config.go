package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/monitor"
)

const (
	DefaultLogLevel = "info"

	defaultInterval     = 5
	defaultTelemetryDB  = "/var/lib/sensord/telemetry.db"
	defaultThresholdsDB = "/var/lib/sensord/thresholds.db"
	defaultBatchSize    = 16
	defaultBatchTimeout = 30

	// SENSORD_CONFIG overrides the config file search path. Set but
	// empty means "no config file", which tests rely on.
	configPathEnv = "SENSORD_CONFIG"
)

// Range is the acceptable band for one parameter plus its warning
// margin in percent of the band width.
type Range struct {
	Min     float64 `mapstructure:"min"`
	Max     float64 `mapstructure:"max"`
	Warning float64 `mapstructure:"warning"`
}

// Thresholds converts a configured range into monitor thresholds.
func (r Range) Thresholds() monitor.Thresholds {
	return monitor.Thresholds{
		OkMin:          r.Min,
		OkMax:          r.Max,
		WarningPercent: r.Warning,
	}
}

type Config struct {
	Interval     int    `mapstructure:"interval"`
	LogLevel     string `mapstructure:"log_level"`
	Once         bool   `mapstructure:"once"`
	Telemetry    bool   `mapstructure:"telemetry"`
	TelemetryDB  string `mapstructure:"database"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
	ThresholdsDB string `mapstructure:"thresholds_database"`

	Temperature Range `mapstructure:"temperature"`
	Power       Range `mapstructure:"power"`
	FanSpeed    Range `mapstructure:"fanspeed"`
	Utilization Range `mapstructure:"utilization"`
}

// Load reads configuration from the TOML file, the environment and
// command line flags, in ascending precedence, and validates the
// result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("sensord", pflag.ContinueOnError)
	flags.Int("interval", defaultInterval, "Seconds between poll cycles")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("once", false, "Run a single poll cycle and exit")
	flags.Bool("telemetry", false, "Record state transitions to the telemetry database")
	flags.String("database", defaultTelemetryDB, "Path to the telemetry database")
	flags.String("thresholds-database", defaultThresholdsDB, "Path to the thresholds database")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errors.Wrap(errors.ErrBindFlags, err)
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Flags the user actually passed override file values
	flags.Visit(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		switch f.Value.Type() {
		case "bool":
			val, _ := flags.GetBool(f.Name)
			v.Set(key, val)
		case "int":
			val, _ := flags.GetInt(f.Name)
			v.Set(key, val)
		default:
			v.Set(key, f.Value.String())
		}
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("once", false)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", defaultTelemetryDB)
	v.SetDefault("batch_size", defaultBatchSize)
	v.SetDefault("batch_timeout", defaultBatchTimeout)
	v.SetDefault("thresholds_database", defaultThresholdsDB)

	v.SetDefault("temperature.min", 0.0)
	v.SetDefault("temperature.max", 80.0)
	v.SetDefault("temperature.warning", 10.0)

	v.SetDefault("power.min", 0.0)
	v.SetDefault("power.max", 300.0)
	v.SetDefault("power.warning", 10.0)

	v.SetDefault("fanspeed.min", 0.0)
	v.SetDefault("fanspeed.max", 90.0)
	v.SetDefault("fanspeed.warning", 10.0)

	v.SetDefault("utilization.min", 0.0)
	v.SetDefault("utilization.max", 100.0)
	v.SetDefault("utilization.warning", 0.0)
}

func readConfigFile(v *viper.Viper) error {
	v.SetConfigType("toml")

	if path, ok := os.LookupEnv(configPathEnv); ok {
		if path == "" {
			return nil
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sensord")
		v.AddConfigPath("/etc/sensord")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks the loaded configuration for values the daemon
// cannot run with.
func (c *Config) Validate() error {
	if !LogLevel(c.LogLevel).IsValid() {
		return errors.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Interval < 1 {
		return errors.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if c.Telemetry && c.TelemetryDB == "" {
		return errors.WithMessage(errors.ErrInvalidConfig, "telemetry requires a database path")
	}

	ranges := map[string]Range{
		"temperature": c.Temperature,
		"power":       c.Power,
		"fanspeed":    c.FanSpeed,
		"utilization": c.Utilization,
	}
	for name, r := range ranges {
		if err := r.Thresholds().Validate(); err != nil {
			return errors.WithData(errors.ErrInvalidConfig, struct {
				Parameter string
				Range     Range
			}{
				Parameter: name,
				Range:     r,
			})
		}
	}

	return nil
}
