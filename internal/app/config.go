package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects every runtime setting the agent reads from the environment.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	UpdateURL      string
	DeviceID       string
	CurrentVersion string
	VersionFile    string
	CheckInterval  time.Duration

	StagingDir        string
	ChunkSizeBytes    int
	PollInterval      time.Duration
	BandwidthLimit    int64
	SourceBufferBytes int

	HistoryURI        string
	HistoryDB         string
	HistoryCollection string
	HistoryLimit      int

	RebootCommand  []string
	RebootDisabled bool

	AllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		UpdateURL:      getEnv("OTA_UPDATE_URL", ""),
		DeviceID:       getEnv("OTA_DEVICE_ID", hostnameOr("device")),
		CurrentVersion: getEnv("OTA_FIRMWARE_VERSION", "0.0.0"),
		VersionFile:    getEnv("OTA_VERSION_FILE", ""),
		CheckInterval:  time.Duration(getEnvInt64("OTA_CHECK_INTERVAL_SECONDS", 3600)) * time.Second,

		StagingDir:        getEnv("OTA_STAGING_DIR", "/var/lib/otagent/staging"),
		ChunkSizeBytes:    int(getEnvInt64("OTA_CHUNK_SIZE_BYTES", 2048)),
		PollInterval:      time.Duration(getEnvInt64("OTA_POLL_INTERVAL_MS", 50)) * time.Millisecond,
		BandwidthLimit:    getEnvInt64("OTA_BANDWIDTH_LIMIT_BYTES", 0),
		SourceBufferBytes: int(getEnvInt64("OTA_SOURCE_BUFFER_BYTES", 256*1024)),

		HistoryURI:        getEnv("OTA_HISTORY_URI", ""),
		HistoryDB:         getEnv("OTA_HISTORY_DB", "otagent"),
		HistoryCollection: getEnv("OTA_HISTORY_COLLECTION", "updates"),
		HistoryLimit:      int(getEnvInt64("OTA_HISTORY_LIMIT", 100)),

		RebootCommand:  parseCSV(getEnv("OTA_REBOOT_COMMAND", "/sbin/reboot")),
		RebootDisabled: getEnvBool("OTA_REBOOT_DISABLED", false),

		AllowedOrigins: parseCSV(getEnv("OTA_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}
