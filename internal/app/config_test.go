package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.CheckInterval != time.Hour {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.ChunkSizeBytes != 2048 {
		t.Errorf("ChunkSizeBytes = %d", cfg.ChunkSizeBytes)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.BandwidthLimit != 0 {
		t.Errorf("BandwidthLimit = %d", cfg.BandwidthLimit)
	}
	if cfg.SourceBufferBytes != 256*1024 {
		t.Errorf("SourceBufferBytes = %d", cfg.SourceBufferBytes)
	}
	if cfg.HistoryURI != "" {
		t.Errorf("HistoryURI = %q", cfg.HistoryURI)
	}
	if cfg.HistoryLimit != 100 {
		t.Errorf("HistoryLimit = %d", cfg.HistoryLimit)
	}
	if len(cfg.RebootCommand) != 1 || cfg.RebootCommand[0] != "/sbin/reboot" {
		t.Errorf("RebootCommand = %v", cfg.RebootCommand)
	}
	if cfg.RebootDisabled {
		t.Error("RebootDisabled should default to false")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("OTA_UPDATE_URL", "https://updates.example.com/firmware")
	t.Setenv("OTA_DEVICE_ID", "sensor-17")
	t.Setenv("OTA_CHECK_INTERVAL_SECONDS", "120")
	t.Setenv("OTA_CHUNK_SIZE_BYTES", "4096")
	t.Setenv("OTA_BANDWIDTH_LIMIT_BYTES", "1048576")
	t.Setenv("OTA_REBOOT_COMMAND", "systemctl, reboot")
	t.Setenv("OTA_REBOOT_DISABLED", "true")
	t.Setenv("OTA_ALLOWED_ORIGINS", "http://a.example.com, http://b.example.com")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.UpdateURL != "https://updates.example.com/firmware" {
		t.Errorf("UpdateURL = %q", cfg.UpdateURL)
	}
	if cfg.DeviceID != "sensor-17" {
		t.Errorf("DeviceID = %q", cfg.DeviceID)
	}
	if cfg.CheckInterval != 2*time.Minute {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.ChunkSizeBytes != 4096 {
		t.Errorf("ChunkSizeBytes = %d", cfg.ChunkSizeBytes)
	}
	if cfg.BandwidthLimit != 1048576 {
		t.Errorf("BandwidthLimit = %d", cfg.BandwidthLimit)
	}
	if len(cfg.RebootCommand) != 2 || cfg.RebootCommand[0] != "systemctl" || cfg.RebootCommand[1] != "reboot" {
		t.Errorf("RebootCommand = %v", cfg.RebootCommand)
	}
	if !cfg.RebootDisabled {
		t.Error("RebootDisabled should be true")
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestGetEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("OTA_CHECK_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("OTA_REBOOT_DISABLED", "maybe")

	cfg := LoadConfig()

	if cfg.CheckInterval != time.Hour {
		t.Errorf("invalid interval should fall back to default, got %v", cfg.CheckInterval)
	}
	if cfg.RebootDisabled {
		t.Error("invalid bool should fall back to default")
	}
}

func TestParseCSV(t *testing.T) {
	if got := parseCSV(""); got != nil {
		t.Errorf("empty input = %v", got)
	}
	if got := parseCSV(" a , ,b,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("parseCSV = %v", got)
	}
}
