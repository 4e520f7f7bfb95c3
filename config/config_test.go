package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullConfig = `
version: 1

controller:
  id: ctrlA
  grpc_addr: "0.0.0.0:7100"
  http_addr: "0.0.0.0:7180"
  log_level: DEBUG

controllers: [ctrlA, ctrlB, ctrlC]
shared_keys:
  ctrlA: alpha_secret
  ctrlB: beta_secret
peers:
  ctrlB: "10.0.0.2:7100"

report_interval: 1
thresholds:
  traffic_volume: 1.0
  delay: 0.3

device:
  address: "127.0.0.1:50051"
  max_flows: 512
  max_servers: 4

digest:
  listen_addr: "127.0.0.1:9191"
  max_entries: 10000

metrics_source: aggregate
aggregate:
  capacity: 1000000
  alert_flows: 500

keys:
  provider: etcd
etcd:
  endpoints: ["127.0.0.1:2379"]
  prefix: "/stam-prod"

postgres:
  enabled: true
  host: "db.local"
  port: 5433
  user: "ctl"
  password: "secret"
  database: "events"
  sslmode: "require"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stam.yml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Controller.ID != "ctrlA" {
		t.Errorf("expected controller ctrlA, got %s", cfg.Controller.ID)
	}
	if cfg.Controller.LogLevel != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Controller.LogLevel)
	}
	if len(cfg.Controllers) != 3 || cfg.Controllers[2] != "ctrlC" {
		t.Errorf("unexpected controllers: %v", cfg.Controllers)
	}
	if cfg.SharedKeys["ctrlB"] != "beta_secret" {
		t.Errorf("unexpected shared keys: %v", cfg.SharedKeys)
	}
	if _, ok := cfg.SharedKeys["ctrlC"]; ok {
		t.Errorf("ctrlC should have no key")
	}
	if got := cfg.GetPeerAddress("ctrlB"); got != "10.0.0.2:7100" {
		t.Errorf("GetPeerAddress(ctrlB) = %s", got)
	}
	if got := cfg.GetPeerAddress("ctrlC"); got != "" {
		t.Errorf("GetPeerAddress(ctrlC) = %s, want empty", got)
	}
	if got := cfg.GetReportInterval(); got != time.Second {
		t.Errorf("GetReportInterval() = %v", got)
	}
	if cfg.Device.MaxFlows != 512 || cfg.Device.MaxServers != 4 {
		t.Errorf("unexpected device config: %+v", cfg.Device)
	}
	if cfg.Digest.MaxEntries != 10000 {
		t.Errorf("unexpected digest config: %+v", cfg.Digest)
	}
	if cfg.MetricsSource != MetricsSourceAggregate || cfg.Aggregate.AlertFlows != 500 {
		t.Errorf("unexpected metrics source config: %s %+v", cfg.MetricsSource, cfg.Aggregate)
	}
	if cfg.GetEtcdAddress() != "127.0.0.1:2379" || cfg.GetEtcdPrefix() != "/stam-prod" {
		t.Errorf("unexpected etcd config: %+v", cfg.Etcd)
	}

	pc := cfg.PostgresSettings()
	if !cfg.Postgres.Enabled || pc.Host != "db.local" || pc.Port != 5433 || pc.SSLMode != "require" {
		t.Errorf("unexpected postgres settings: %+v", pc)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
version: 1
controller: {id: ctrlA}
controllers: [ctrlA]
device: {address: "127.0.0.1:50051"}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.GetReportInterval() != 5*time.Second {
		t.Errorf("default report interval = %v", cfg.GetReportInterval())
	}
	if *cfg.Thresholds.TrafficVolume != 1.0 || *cfg.Thresholds.Delay != 0.3 {
		t.Errorf("default thresholds = %v, %v", *cfg.Thresholds.TrafficVolume, *cfg.Thresholds.Delay)
	}
	if cfg.Device.MaxFlows != 1024 || cfg.Device.MaxServers != 8 {
		t.Errorf("default device = %+v", cfg.Device)
	}
	if cfg.Digest.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("default digest addr = %s", cfg.Digest.ListenAddr)
	}
	if cfg.MetricsSource != MetricsSourceSynthetic || cfg.Keys.Provider != KeyProviderStatic {
		t.Errorf("default providers = %s, %s", cfg.MetricsSource, cfg.Keys.Provider)
	}
	if cfg.GetDisseminationTimeout() != 3*time.Second || cfg.Dissemination.Workers != 4 {
		t.Errorf("default dissemination = %+v", cfg.Dissemination)
	}
	if cfg.GetEtcdPrefix() != "/stam" || cfg.GetEtcdAddress() != "" {
		t.Errorf("default etcd = %+v", cfg.Etcd)
	}
	pc := cfg.PostgresSettings()
	if cfg.Postgres.Enabled || pc.Database != "stam" {
		t.Errorf("default postgres = %+v", pc)
	}
}

func TestLoadConfig_ZeroThresholds(t *testing.T) {
	cfg, err := Parse([]byte(`
version: 1
controller: {id: ctrlA}
controllers: [ctrlA]
device: {address: "127.0.0.1:50051"}
thresholds: {traffic_volume: 0}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if *cfg.Thresholds.TrafficVolume != 0 {
		t.Errorf("explicit traffic_volume 0 replaced by %v", *cfg.Thresholds.TrafficVolume)
	}
	if *cfg.Thresholds.Delay != 0.3 {
		t.Errorf("omitted delay = %v, want default 0.3", *cfg.Thresholds.Delay)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "version: [1\ncontroller: {"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "wrong version",
			content: "version: 2\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}",
			wantErr: "unsupported config version",
		},
		{
			name:    "missing controller id",
			content: "version: 1\ncontrollers: [a]\ndevice: {address: x}",
			wantErr: "controller id is required",
		},
		{
			name:    "no controllers",
			content: "version: 1\ncontroller: {id: a}\ndevice: {address: x}",
			wantErr: "at least one controller",
		},
		{
			name:    "empty controller id",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a, \"\"]\ndevice: {address: x}",
			wantErr: "controller 1: id is required",
		},
		{
			name:    "missing device",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]",
			wantErr: "device address is required",
		},
		{
			name:    "negative interval",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\nreport_interval: -1",
			wantErr: "report_interval must be positive",
		},
		{
			name:    "unknown metrics source",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\nmetrics_source: magic",
			wantErr: "unsupported metrics_source",
		},
		{
			name:    "aggregate without capacity",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\nmetrics_source: aggregate",
			wantErr: "aggregate capacity must be positive",
		},
		{
			name:    "etcd keys without endpoints",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\nkeys: {provider: etcd}",
			wantErr: "etcd endpoint is required",
		},
		{
			name:    "unknown key provider",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\nkeys: {provider: vault}",
			wantErr: "unsupported key provider",
		},
		{
			name:    "empty peer address",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a, b]\ndevice: {address: x}\npeers: {b: \"\"}",
			wantErr: "peer b: address is required",
		},
		{
			name:    "negative threshold",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\nthresholds: {delay: -0.1}",
			wantErr: "thresholds must not be negative",
		},
		{
			name:    "negative cache cap",
			content: "version: 1\ncontroller: {id: a}\ncontrollers: [a]\ndevice: {address: x}\ndigest: {max_entries: -1}",
			wantErr: "max_entries must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
