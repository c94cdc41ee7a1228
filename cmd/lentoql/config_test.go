package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileConfig_ParsesKnownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
hostname: presto.internal
port: 8443
protocol: https
user: alice
catalog: hive
schema: default
poll_interval: 250ms
max_retries: 3
log_level: debug
`)
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatal(err)
	}

	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if fc.Hostname != "presto.internal" || fc.Port != 8443 || fc.Protocol != "https" {
		t.Errorf("fc = %+v", fc)
	}
	if fc.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", fc.PollInterval)
	}
	if fc.MaxRetries == nil || *fc.MaxRetries != 3 {
		t.Errorf("MaxRetries = %v, want 3", fc.MaxRetries)
	}
}

func TestLoadFileConfig_MissingFile(t *testing.T) {
	if _, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
