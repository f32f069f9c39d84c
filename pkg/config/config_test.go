package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.MTU != 1472 || cfg.InputDepth != 32 {
		t.Fatalf("unexpected defaults: mtu=%d depth=%d", cfg.MTU, cfg.InputDepth)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickwire.yaml")
	yaml := `
app_name: test-endpoint
log:
  level: debug
transport:
  kind: local
conditioner:
  latency_ms: 40
  loss: 0.2
compression:
  algorithm: zstd
  level: 3
channels:
  - id: 0
    kind: ordered_reliable
    resend_interval_ms: 150
  - id: 1
    kind: unordered_unreliable
mtu: 1300
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "test-endpoint" || cfg.Log.Level != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Conditioner.LatencyMS != 40 || cfg.Conditioner.Loss != 0.2 {
		t.Fatalf("conditioner section not applied: %+v", cfg.Conditioner)
	}
	if cfg.Compression.Algorithm != "zstd" || cfg.Compression.Level != 3 {
		t.Fatalf("compression section not applied: %+v", cfg.Compression)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].ResendIntervalMS != 150 {
		t.Fatalf("channels section not applied: %+v", cfg.Channels)
	}
	if cfg.MTU != 1300 {
		t.Fatalf("mtu not applied: %d", cfg.MTU)
	}
	// Untouched sections keep defaults.
	if cfg.Sync.NumProbes != 8 || cfg.InputDepth != 32 {
		t.Fatalf("defaults lost: %+v", cfg.Sync)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Conditioner.Loss = 1.5
	if err := cfg.validate(); err == nil {
		t.Fatalf("loss > 1 should fail")
	}

	cfg = Default()
	cfg.Log.Level = "verbose"
	if err := cfg.validate(); err == nil {
		t.Fatalf("bad log level should fail")
	}

	cfg = Default()
	cfg.Channels = append(cfg.Channels, ChannelConfig{ID: 0, Kind: "unordered_reliable"})
	if err := cfg.validate(); err == nil {
		t.Fatalf("duplicate channel id should fail")
	}

	cfg = Default()
	cfg.Sync.ChannelID = 42
	if err := cfg.validate(); err == nil {
		t.Fatalf("sync channel must be registered")
	}
}
