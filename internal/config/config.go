// Package config loads dashsim settings from defaults, an optional config
// file and DASHSIM_* environment variables using viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notnil/dashsim/cluster"
	"github.com/notnil/dashsim/vehicle"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DASHSIM_BUS_INTERFACE.
const EnvPrefix = "DASHSIM"

// BusConfig selects the CAN transport.
type BusConfig struct {
	Driver    string `json:"driver" mapstructure:"driver"` // loopback or socketcan
	Interface string `json:"interface" mapstructure:"interface"`
	LogFrames bool   `json:"logFrames" mapstructure:"logFrames"`
}

// PublishConfig holds rate limiter settings.
type PublishConfig struct {
	MinInterval time.Duration `json:"minInterval" mapstructure:"minInterval"`
	SendTimeout time.Duration `json:"sendTimeout" mapstructure:"sendTimeout"`
}

// IngestConfig bounds the inbound drain.
type IngestConfig struct {
	Burst       int           `json:"burst" mapstructure:"burst"`
	PollTimeout time.Duration `json:"pollTimeout" mapstructure:"pollTimeout"`
}

// SchedulerConfig holds the two task periods.
type SchedulerConfig struct {
	SimPeriod  time.Duration `json:"simPeriod" mapstructure:"simPeriod"`
	PollPeriod time.Duration `json:"pollPeriod" mapstructure:"pollPeriod"`
}

// ClusterConfig holds power-on values.
type ClusterConfig struct {
	BlinkHalfPeriod int     `json:"blinkHalfPeriod" mapstructure:"blinkHalfPeriod"`
	AmbientTemp     float64 `json:"ambientTemp" mapstructure:"ambientTemp"`
	Odometer        float64 `json:"odometer" mapstructure:"odometer"`
	Trip            float64 `json:"trip" mapstructure:"trip"`
}

// InfluxConfig holds InfluxDB recorder settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	URL        string `json:"url" mapstructure:"url"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	EveryTicks int    `json:"everyTicks" mapstructure:"everyTicks"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// JournalConfig holds frame journal settings
type JournalConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Path          string        `json:"path" mapstructure:"path"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	BatchSize     int           `json:"batchSize" mapstructure:"batchSize"`
}

// ServerConfig holds the websocket surface settings
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	LogPath        string        `json:"logPath" mapstructure:"logPath"`
	BatchTimeout   time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	MetricInterval time.Duration `json:"metricInterval" mapstructure:"metricInterval"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel  string          `json:"logLevel" mapstructure:"logLevel"`
	LogFile   string          `json:"logFile" mapstructure:"logFile"`
	Bus       BusConfig       `json:"bus" mapstructure:"bus"`
	Publish   PublishConfig   `json:"publish" mapstructure:"publish"`
	Ingest    IngestConfig    `json:"ingest" mapstructure:"ingest"`
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`
	Cluster   ClusterConfig   `json:"cluster" mapstructure:"cluster"`
	Influx    InfluxConfig    `json:"influx" mapstructure:"influx"`
	Journal   JournalConfig   `json:"journal" mapstructure:"journal"`
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	OTel      OTelConfig      `json:"otel" mapstructure:"otel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFile", "")

	v.SetDefault("bus.driver", "loopback")
	v.SetDefault("bus.interface", "vcan0")
	v.SetDefault("bus.logFrames", false)

	v.SetDefault("publish.minInterval", "50ms")
	v.SetDefault("publish.sendTimeout", "2ms")
	v.SetDefault("ingest.burst", 10)
	v.SetDefault("ingest.pollTimeout", "100us")
	v.SetDefault("scheduler.simPeriod", "40ms")
	v.SetDefault("scheduler.pollPeriod", "5ms")

	v.SetDefault("cluster.blinkHalfPeriod", 10)
	v.SetDefault("cluster.ambientTemp", 22.0)
	v.SetDefault("cluster.odometer", 42358.0)
	v.SetDefault("cluster.trip", 156.8)

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "dashsim")
	v.SetDefault("influx.bucket", "telemetry")
	v.SetDefault("influx.everyTicks", 25)
	v.SetDefault("influx.backupPath", "dashsim-influx-backup.lp.gz")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "dashsim-journal.db")
	v.SetDefault("journal.flushInterval", "1s")
	v.SetDefault("journal.batchSize", 500)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.address", "127.0.0.1:8765")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.serviceName", "dashsim")
	v.SetDefault("otel.logPath", "dashsim-otel.jsonl")
	v.SetDefault("otel.batchTimeout", "5s")
	v.SetDefault("otel.metricInterval", "10s")
}

// Load builds the configuration from defaults, an optional file (format
// picked from its extension) and DASHSIM_* environment variables, in
// increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scheduler or gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Bus.Driver {
	case "loopback", "socketcan":
	default:
		errs = append(errs, fmt.Errorf("bus.driver: unknown driver %q", c.Bus.Driver))
	}
	if c.Bus.Driver == "socketcan" && c.Bus.Interface == "" {
		errs = append(errs, errors.New("bus.interface: required for socketcan"))
	}
	if c.Scheduler.SimPeriod <= 0 {
		errs = append(errs, errors.New("scheduler.simPeriod: must be positive"))
	}
	if c.Scheduler.PollPeriod <= 0 {
		errs = append(errs, errors.New("scheduler.pollPeriod: must be positive"))
	}
	if c.Ingest.Burst <= 0 {
		errs = append(errs, errors.New("ingest.burst: must be positive"))
	}
	if c.Publish.MinInterval < 0 {
		errs = append(errs, errors.New("publish.minInterval: must not be negative"))
	}
	if c.Publish.SendTimeout <= 0 {
		errs = append(errs, errors.New("publish.sendTimeout: must be positive"))
	}
	if c.Influx.Enabled && c.Influx.EveryTicks <= 0 {
		errs = append(errs, errors.New("influx.everyTicks: must be positive"))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path: required when enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ClusterConfig maps the settings onto the cluster's tunables.
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		Params: vehicle.Params{
			Dt:          c.Scheduler.SimPeriod,
			AmbientTemp: c.Cluster.AmbientTemp,
		},
		BlinkHalfPeriod: c.Cluster.BlinkHalfPeriod,
		Odometer:        c.Cluster.Odometer,
		Trip:            c.Cluster.Trip,
		MinInterval:     c.Publish.MinInterval,
		SendTimeout:     c.Publish.SendTimeout,
		Burst:           c.Ingest.Burst,
		PollTimeout:     c.Ingest.PollTimeout,
	}
}
