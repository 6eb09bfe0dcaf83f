// Package config loads settings for the ingestd daemon: where the feeds
// live, which shipments to poll, and the default temperature band. The
// ingestion core itself never reads configuration; it receives resolved
// values per invocation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	databaseURLEnv     = "DATABASE_URL"
	carrierTokenEnv    = "CARRIER_BEARER_TOKEN"
	sensorTokenEnv     = "SENSOR_BEARER_TOKEN"
	metricsListenEnv   = "METRICS_LISTEN_ADDR"
	defaultInterval    = 5 * time.Minute
	defaultTimeout     = 15 * time.Second
	defaultLookback    = 7 * 24 * time.Hour
	defaultMetricsAddr = ":9090"
)

// Duration wraps time.Duration for YAML values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Carrier   CarrierConfig    `yaml:"carrier"`
	Sensor    SensorConfig     `yaml:"sensor"`
	Poller    PollerConfig     `yaml:"poller"`
	Band      BandConfig       `yaml:"temperatureBand"`
	Shipments []ShipmentConfig `yaml:"shipments"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"maxConns"`
}

// CarrierConfig points at the carrier tracking API. Token is the static
// bearer fallback; when TokenURL is set the daemon exchanges credentials
// there instead.
type CarrierConfig struct {
	BaseURL      string `yaml:"baseUrl"`
	TokenURL     string `yaml:"tokenUrl"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	Token        string `yaml:"token"`
}

type SensorConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
}

type PollerConfig struct {
	Interval       Duration `yaml:"interval"`
	RequestTimeout Duration `yaml:"requestTimeout"`
	WindowLookback Duration `yaml:"windowLookback"`
	MetricsListen  string   `yaml:"metricsListen"`
}

// BandConfig is the allowed temperature range in °C.
type BandConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ShipmentConfig pairs a tracked shipment with its sensor and an optional
// band override.
type ShipmentConfig struct {
	TrackingNumber string      `yaml:"trackingNumber"`
	SensorRef      string      `yaml:"sensorRef"`
	Band           *BandConfig `yaml:"temperatureBand"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Poller: PollerConfig{
			Interval:       Duration(defaultInterval),
			RequestTimeout: Duration(defaultTimeout),
			WindowLookback: Duration(defaultLookback),
			MetricsListen:  defaultMetricsAddr,
		},
		Band: BandConfig{Min: 2, Max: 8},
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseURLEnv); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(carrierTokenEnv); v != "" {
		c.Carrier.Token = v
	}
	if v := os.Getenv(sensorTokenEnv); v != "" {
		c.Sensor.Token = v
	}
	if v := os.Getenv(metricsListenEnv); v != "" {
		c.Poller.MetricsListen = v
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database url required")
	}
	if c.Carrier.BaseURL == "" {
		return fmt.Errorf("config: carrier base url required")
	}
	if c.Sensor.BaseURL == "" {
		return fmt.Errorf("config: sensor base url required")
	}
	if c.Band.Min > c.Band.Max {
		return fmt.Errorf("config: inverted temperature band [%v, %v]", c.Band.Min, c.Band.Max)
	}
	for _, sc := range c.Shipments {
		if sc.TrackingNumber == "" {
			return fmt.Errorf("config: shipment without tracking number")
		}
		if sc.Band != nil && sc.Band.Min > sc.Band.Max {
			return fmt.Errorf("config: shipment %s: inverted temperature band", sc.TrackingNumber)
		}
	}
	return nil
}

// ResolveBand returns the band for one tracked shipment, falling back to
// the global default.
func (c *Config) ResolveBand(sc ShipmentConfig) BandConfig {
	if sc.Band != nil {
		return *sc.Band
	}
	return c.Band
}
