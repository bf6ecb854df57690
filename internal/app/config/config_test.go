package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dharaflow/internal/domain"
)

func loadFrom(t *testing.T, data string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return Load(path)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := loadFrom(t, `
device:
  id: dhara-01
redis:
  addr: localhost:6379
nats:
  url: nats://localhost:4222
`)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Session.DefaultDuration.Std() != 45*time.Minute {
		t.Fatalf("expected default duration 45m, got %s", cfg.Session.DefaultDuration.Std())
	}
	if cfg.Sampling.SensorInterval.Std() != 20*time.Millisecond {
		t.Fatalf("expected sensor interval default 20ms, got %s", cfg.Sampling.SensorInterval.Std())
	}
	if cfg.Sampling.Window.Std() != 12*time.Second {
		t.Fatalf("expected window default 12s, got %s", cfg.Sampling.Window.Std())
	}
	if cfg.Telemetry.Interval.Std() != 2*time.Second {
		t.Fatalf("expected telemetry interval default 2s, got %s", cfg.Telemetry.Interval.Std())
	}
	if cfg.Command.Staleness.Std() != 300*time.Second {
		t.Fatalf("expected staleness default 300s, got %s", cfg.Command.Staleness.Std())
	}
	if cfg.Presence.Heartbeat.Std() != 5*time.Second {
		t.Fatalf("expected heartbeat default 5s, got %s", cfg.Presence.Heartbeat.Std())
	}
	if lim := cfg.Safety.Limits(); lim != domain.DefaultSafetyLimits() {
		t.Fatalf("expected default safety limits, got %+v", lim)
	}
	if cfg.Sensor.Driver != SensorMAX30102 || cfg.Sensor.MAX30102.Bus != "1" || cfg.Sensor.MAX30102.Addr != 0x57 {
		t.Fatalf("unexpected sensor defaults: %+v", cfg.Sensor)
	}
	if cfg.Actuator.Driver != ActuatorGPIO || cfg.Actuator.GPIO.FlowPin != "GPIO17" {
		t.Fatalf("unexpected actuator defaults: %+v", cfg.Actuator)
	}
	if cfg.Redis.Namespace != "dhara" || cfg.NATS.SubjectPrefix != "dhara" {
		t.Fatalf("unexpected namespace defaults: %+v / %+v", cfg.Redis, cfg.NATS)
	}
	if cfg.Timescale.Table != "vitals" || cfg.Metrics.Addr != ":9100" {
		t.Fatalf("unexpected sink defaults: %+v / %+v", cfg.Timescale, cfg.Metrics)
	}

	def := cfg.SessionDefaults()
	if def.Mode != domain.ModeManual || def.InitialFlow != 30 || def.InitialTemp != 40 {
		t.Fatalf("unexpected session defaults: %+v", def)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := loadFrom(t, `
device:
  id: dhara-07
session:
  default_duration: "30m"
  default_mode: auto
  default_flow: 25
  default_temp: 39
sampling:
  sensor_interval: "15ms"
  window: "10s"
  synth_bpm: 68
command:
  staleness: "2m"
sensor:
  driver: synthetic
actuator:
  driver: opcua
  opcua:
    endpoint: opc.tcp://dosing:4840
    flow_node: "ns=2;s=Dosing.Flow"
    temp_node: "ns=2;s=Dosing.Temp"
redis:
  addr: redis:6379
  namespace: clinic
timescale:
  conn_string: "postgres://dhara:dhara@db/vitals?sslmode=disable"
spool:
  dir: /var/lib/dhara/spool
`)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Session.DefaultDuration.Std() != 30*time.Minute || cfg.Session.DefaultMode != "auto" {
		t.Fatalf("session overrides not applied: %+v", cfg.Session)
	}
	if cfg.Sampling.SensorInterval.Std() != 15*time.Millisecond || cfg.Sampling.SynthBPM != 68 {
		t.Fatalf("sampling overrides not applied: %+v", cfg.Sampling)
	}
	if cfg.Command.Staleness.Std() != 2*time.Minute {
		t.Fatalf("staleness override not applied: %s", cfg.Command.Staleness.Std())
	}
	if cfg.Actuator.OPCUA.SecurityMode != "None" || cfg.Actuator.OPCUA.WriteTimeout != 5*time.Second {
		t.Fatalf("opcua sub-defaults not applied: %+v", cfg.Actuator.OPCUA)
	}
	if cfg.Redis.Namespace != "clinic" {
		t.Fatalf("namespace override not applied: %+v", cfg.Redis)
	}
	if cfg.Spool.Dir != "/var/lib/dhara/spool" {
		t.Fatalf("spool dir not applied: %+v", cfg.Spool)
	}

	def := cfg.SessionDefaults()
	if def.Mode != domain.ModeAuto || def.Duration != 30*time.Minute {
		t.Fatalf("unexpected session defaults: %+v", def)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing device id",
			yaml: "redis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "device.id",
		},
		{
			name: "unknown sensor driver",
			yaml: "device:\n  id: d1\nsensor:\n  driver: laser\nredis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "sensor.driver",
		},
		{
			name: "unknown actuator driver",
			yaml: "device:\n  id: d1\nactuator:\n  driver: steam\nredis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "actuator.driver",
		},
		{
			name: "opcua without endpoint",
			yaml: "device:\n  id: d1\nactuator:\n  driver: opcua\nredis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "actuator.opcua",
		},
		{
			name: "bad duration",
			yaml: "device:\n  id: d1\nsampling:\n  sensor_interval: quick\nredis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "bad duration",
		},
		{
			name: "bad mode",
			yaml: "device:\n  id: d1\nsession:\n  default_mode: turbo\nredis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "default_mode",
		},
		{
			name: "missing redis",
			yaml: "device:\n  id: d1\nnats:\n  url: nats://localhost:4222\n",
			want: "redis.addr",
		},
		{
			name: "no sink target",
			yaml: "device:\n  id: d1\nredis:\n  addr: localhost:6379\n",
			want: "nats.url or timescale.conn_string",
		},
		{
			name: "inverted pulse limits",
			yaml: "device:\n  id: d1\nsafety:\n  pulse_min: 150\n  pulse_max: 100\nredis:\n  addr: localhost:6379\nnats:\n  url: nats://localhost:4222\n",
			want: "pulse_min",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadFrom(t, tc.yaml)
			if err == nil {
				t.Fatalf("expected load to fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
