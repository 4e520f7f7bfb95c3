package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaonanln/stam/util/postgres"
)

const (
	defaultReportInterval  = 5
	defaultMaxFlows        = 1024
	defaultMaxServers      = 8
	defaultDigestAddr      = "127.0.0.1:9090"
	defaultEtcdPrefix      = "/stam"
	defaultTrafficVolume   = 1.0
	defaultDelay           = 0.3
	defaultFanoutWorkers   = 4
	defaultDisseminationMs = 3000
)

// Metrics source names
const (
	MetricsSourceSynthetic = "synthetic"
	MetricsSourceAggregate = "aggregate"
)

// Key provider names
const (
	KeyProviderStatic = "static"
	KeyProviderEtcd   = "etcd"
)

// ControllerConfig identifies this controller and its listen addresses
type ControllerConfig struct {
	ID       string `yaml:"id"`
	GRPCAddr string `yaml:"grpc_addr"` // peer service
	HTTPAddr string `yaml:"http_addr"` // Optional: /metrics and /healthz
	LogLevel string `yaml:"log_level"` // Optional: DEBUG, INFO, WARN, ERROR
}

// ThresholdsConfig holds the overload thresholds. An omitted value takes its
// default; an explicit 0 adapts on any traffic or delay.
type ThresholdsConfig struct {
	TrafficVolume *float64 `yaml:"traffic_volume"`
	Delay         *float64 `yaml:"delay"`
}

// DeviceConfig describes the forwarding device's register service
type DeviceConfig struct {
	Address    string `yaml:"address"`
	MaxFlows   uint32 `yaml:"max_flows"`
	MaxServers uint32 `yaml:"max_servers"`
}

// DigestConfig configures the flow digest listener
type DigestConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MaxEntries int    `yaml:"max_entries"` // 0 means unbounded
}

// AggregateConfig configures the aggregate metrics source
type AggregateConfig struct {
	Capacity   float64 `yaml:"capacity"`    // bytes per cycle that count as traffic volume 1.0
	AlertFlows int     `yaml:"alert_flows"` // cached flow count that raises a congestion alert
}

// DisseminationConfig configures adaptation fan-out
type DisseminationConfig struct {
	Workers   int `yaml:"workers"`
	TimeoutMs int `yaml:"timeout_ms"`
}

// KeysConfig selects where shared keys come from
type KeysConfig struct {
	Provider string `yaml:"provider"`
}

// EtcdConfig holds etcd-specific configuration
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// PostgresConfig holds PostgreSQL database connection configuration
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"` // Use "require" in production
}

// Config is the root configuration structure
type Config struct {
	Version        int                 `yaml:"version"`
	Controller     ControllerConfig    `yaml:"controller"`
	Controllers    []string            `yaml:"controllers"`
	SharedKeys     map[string]string   `yaml:"shared_keys"`
	Peers          map[string]string   `yaml:"peers"`
	ReportInterval int                 `yaml:"report_interval"` // seconds
	Thresholds     ThresholdsConfig    `yaml:"thresholds"`
	Device         DeviceConfig        `yaml:"device"`
	Digest         DigestConfig        `yaml:"digest"`
	MetricsSource  string              `yaml:"metrics_source"`
	Aggregate      AggregateConfig     `yaml:"aggregate"`
	Dissemination  DisseminationConfig `yaml:"dissemination"`
	Keys           KeysConfig          `yaml:"keys"`
	Etcd           EtcdConfig          `yaml:"etcd"`
	Postgres       PostgresConfig      `yaml:"postgres"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every optional field left empty
func (c *Config) ApplyDefaults() {
	if c.ReportInterval == 0 {
		c.ReportInterval = defaultReportInterval
	}
	if c.Thresholds.TrafficVolume == nil {
		v := defaultTrafficVolume
		c.Thresholds.TrafficVolume = &v
	}
	if c.Thresholds.Delay == nil {
		v := defaultDelay
		c.Thresholds.Delay = &v
	}
	if c.Device.MaxFlows == 0 {
		c.Device.MaxFlows = defaultMaxFlows
	}
	if c.Device.MaxServers == 0 {
		c.Device.MaxServers = defaultMaxServers
	}
	if c.Digest.ListenAddr == "" {
		c.Digest.ListenAddr = defaultDigestAddr
	}
	if c.MetricsSource == "" {
		c.MetricsSource = MetricsSourceSynthetic
	}
	if c.Dissemination.Workers == 0 {
		c.Dissemination.Workers = defaultFanoutWorkers
	}
	if c.Dissemination.TimeoutMs == 0 {
		c.Dissemination.TimeoutMs = defaultDisseminationMs
	}
	if c.Keys.Provider == "" {
		c.Keys.Provider = KeyProviderStatic
	}
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = defaultEtcdPrefix
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	if c.Controller.ID == "" {
		return fmt.Errorf("controller id is required")
	}

	if len(c.Controllers) == 0 {
		return fmt.Errorf("at least one controller is required")
	}
	for i, id := range c.Controllers {
		if id == "" {
			return fmt.Errorf("controller %d: id is required", i)
		}
	}

	if c.ReportInterval < 0 {
		return fmt.Errorf("report_interval must be positive")
	}

	if c.Thresholds.TrafficVolume == nil || c.Thresholds.Delay == nil {
		return fmt.Errorf("thresholds are not set")
	}
	if *c.Thresholds.TrafficVolume < 0 || *c.Thresholds.Delay < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}

	if c.Device.Address == "" {
		return fmt.Errorf("device address is required")
	}

	if c.Digest.MaxEntries < 0 {
		return fmt.Errorf("digest max_entries must not be negative")
	}

	switch c.MetricsSource {
	case MetricsSourceSynthetic:
	case MetricsSourceAggregate:
		if c.Aggregate.Capacity <= 0 {
			return fmt.Errorf("aggregate capacity must be positive when metrics_source is %s", MetricsSourceAggregate)
		}
	default:
		return fmt.Errorf("unsupported metrics_source: %s", c.MetricsSource)
	}

	switch c.Keys.Provider {
	case KeyProviderStatic:
	case KeyProviderEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("at least one etcd endpoint is required for the etcd key provider")
		}
	default:
		return fmt.Errorf("unsupported key provider: %s", c.Keys.Provider)
	}

	for id, addr := range c.Peers {
		if addr == "" {
			return fmt.Errorf("peer %s: address is required", id)
		}
	}

	return nil
}

// GetReportInterval returns the control loop period
func (c *Config) GetReportInterval() time.Duration {
	return time.Duration(c.ReportInterval) * time.Second
}

// GetDisseminationTimeout returns the per-peer dissemination timeout
func (c *Config) GetDisseminationTimeout() time.Duration {
	return time.Duration(c.Dissemination.TimeoutMs) * time.Millisecond
}

// GetEtcdAddress returns the first etcd endpoint address
func (c *Config) GetEtcdAddress() string {
	if len(c.Etcd.Endpoints) > 0 {
		return c.Etcd.Endpoints[0]
	}
	return ""
}

// GetEtcdPrefix returns the etcd prefix
func (c *Config) GetEtcdPrefix() string {
	return c.Etcd.Prefix
}

// GetPeerAddress returns the dissemination address of a peer, empty if unknown
func (c *Config) GetPeerAddress(id string) string {
	return c.Peers[id]
}

// PostgresSettings converts the postgres section into a connection config
func (c *Config) PostgresSettings() *postgres.Config {
	pc := postgres.DefaultConfig(c.Controller.ID)
	if c.Postgres.Host != "" {
		pc.Host = c.Postgres.Host
	}
	if c.Postgres.Port != 0 {
		pc.Port = c.Postgres.Port
	}
	if c.Postgres.User != "" {
		pc.User = c.Postgres.User
	}
	if c.Postgres.Password != "" {
		pc.Password = c.Postgres.Password
	}
	if c.Postgres.Database != "" {
		pc.Database = c.Postgres.Database
	}
	if c.Postgres.SSLMode != "" {
		pc.SSLMode = c.Postgres.SSLMode
	}
	return pc
}
