// Package config loads relay configuration from environment variables and
// the channels file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all relay configuration.
type Config struct {
	// exporter
	ExporterPath string
	BotToken     string

	// destination webhook, used when the channels file defines none
	WebhookURL string
	ChannelID  string

	// paths
	ExportRoot   string
	StateDir     string
	ChannelsFile string

	// windowing
	WindowMin       int
	OverlapMin      int
	SafetyMarginMin int
	Retention       int

	// forwarding
	MaxAttachMB     float64
	MaxFilesPerPost int
	SegmentLimit    int
	MarkPartial     bool
	FlushEachMsg    bool
	DryRun          bool

	// delivery pacing
	WebhookRPS float64

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with the original
// forwarder's defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ExporterPath:    getEnv("EXPORTER_PATH", ""),
		BotToken:        getEnv("BOT_TOKEN", ""),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
		ChannelID:       getEnv("CHANNEL_ID", ""),
		ExportRoot:      getEnv("EXPORT_ROOT", "./exports"),
		StateDir:        getEnv("STATE_DIR", "./state"),
		ChannelsFile:    getEnv("CHANNELS_FILE", ""),
		WindowMin:       getEnvInt("WINDOW_MIN", 33),
		OverlapMin:      getEnvInt("OVERLAP_MIN", 1),
		SafetyMarginMin: getEnvInt("SAFETY_MARGIN_MIN", 1),
		Retention:       getEnvInt("RETENTION", 100),
		MaxAttachMB:     getEnvFloat("MAX_ATTACH_MB", 25.0),
		MaxFilesPerPost: getEnvInt("MAX_FILES_PER_POST", 10),
		SegmentLimit:    getEnvInt("SEGMENT_LIMIT", 1900),
		MarkPartial:     getEnvBool("MARK_PARTIAL_PROCESSED", true),
		FlushEachMsg:    getEnvBool("FLUSH_EACH_MESSAGE", false),
		DryRun:          getEnvBool("DRY_RUN", false),
		WebhookRPS:      getEnvFloat("WEBHOOK_RPS", 4.0),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
	}

	if cfg.ExporterPath == "" {
		return nil, fmt.Errorf("EXPORTER_PATH is required")
	}
	if cfg.ChannelsFile == "" && (cfg.WebhookURL == "" || cfg.ChannelID == "") {
		return nil, fmt.Errorf("either CHANNELS_FILE or WEBHOOK_URL and CHANNEL_ID are required")
	}
	if cfg.MaxFilesPerPost > 10 {
		cfg.MaxFilesPerPost = 10
	}
	return cfg, nil
}

// Window returns the export window size.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowMin) * time.Minute
}

// Overlap returns the window edge padding.
func (c *Config) Overlap() time.Duration {
	return time.Duration(c.OverlapMin) * time.Minute
}

// SafetyMargin returns the distance kept from "now".
func (c *Config) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginMin) * time.Minute
}

// AttachmentCap returns the re-upload size limit in bytes.
func (c *Config) AttachmentCap() int64 {
	return int64(c.MaxAttachMB * 1024 * 1024)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
