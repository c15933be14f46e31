// Package config resolves runtime configuration from environment variables.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the daemon.
type Config struct {
	Server   ServerConfig
	Relay    RelayConfig
	Audio    AudioConfig
	Analysis AnalysisConfig
	Store    StoreConfig
	Rules    RulesConfig
	Session  SessionConfig
	Log      LogConfig
}

type ServerConfig struct {
	Addr string
}

type RelayConfig struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	MaxReconnects  int
	ProbePeriod    time.Duration
	FinalizePeriod time.Duration
	BurstMode      bool
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	SystemSources   []string
	MicDevice       string
	SampleRate      int
	Channels        int
}

type AnalysisConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type StoreConfig struct {
	DBPath       string
	BlobDir      string
	SignedURLTTL time.Duration
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type SessionConfig struct {
	FirstAnalysisDelay time.Duration
	AnalysisInterval   time.Duration
	RecordingTick      time.Duration
	StopGrace          time.Duration
	AudioBucket        string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load resolves configuration from environment variables and sensible
// defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	dataDir := envOrDefault("CALLSCRIBE_DATA_DIR", filepath.Join(home, ".local", "share", "callscribe"))

	cfg := Config{
		Server: ServerConfig{
			Addr: envOrDefault("CALLSCRIBE_ADDR", ":8090"),
		},
		Relay: RelayConfig{
			URL:            strings.TrimSpace(os.Getenv("CALLSCRIBE_RELAY_URL")),
			Token:          strings.TrimSpace(os.Getenv("CALLSCRIBE_RELAY_TOKEN")),
			ReconnectDelay: envOrDefaultDuration("CALLSCRIBE_RELAY_RECONNECT_MS", 2000),
			MaxReconnects:  envOrDefaultInt("CALLSCRIBE_RELAY_MAX_RECONNECTS", 5),
			ProbePeriod:    envOrDefaultDuration("CALLSCRIBE_RELAY_PROBE_MS", 5000),
			FinalizePeriod: envOrDefaultDuration("CALLSCRIBE_RELAY_FINALIZE_MS", 5000),
			BurstMode:      envOrDefaultBool("CALLSCRIBE_RELAY_BURST_MODE", false),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("CALLSCRIBE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("CALLSCRIBE_AUDIO_INPUT_FORMAT", "pulse"),
			SystemSources:   splitList(os.Getenv("CALLSCRIBE_SYSTEM_SOURCES")),
			MicDevice:       envOrDefault("CALLSCRIBE_MIC_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("CALLSCRIBE_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("CALLSCRIBE_CHANNELS", 1),
		},
		Analysis: AnalysisConfig{
			BaseURL: strings.TrimSpace(os.Getenv("CALLSCRIBE_ANALYSIS_URL")),
			APIKey:  strings.TrimSpace(os.Getenv("CALLSCRIBE_ANALYSIS_KEY")),
			Timeout: envOrDefaultDuration("CALLSCRIBE_ANALYSIS_TIMEOUT_MS", 30000),
		},
		Store: StoreConfig{
			DBPath:       envOrDefault("CALLSCRIBE_DB_PATH", filepath.Join(dataDir, "callscribe.db")),
			BlobDir:      envOrDefault("CALLSCRIBE_BLOB_DIR", filepath.Join(dataDir, "blobs")),
			SignedURLTTL: envOrDefaultDuration("CALLSCRIBE_SIGNED_URL_TTL_MS", 15*60*1000),
		},
		Rules: RulesConfig{
			Path:           strings.TrimSpace(os.Getenv("CALLSCRIBE_RULES_FILE")),
			IterationLimit: envOrDefaultInt("CALLSCRIBE_RULE_ITERATION_LIMIT", 30),
		},
		Session: SessionConfig{
			FirstAnalysisDelay: envOrDefaultDuration("CALLSCRIBE_FIRST_ANALYSIS_MS", 20000),
			AnalysisInterval:   envOrDefaultDuration("CALLSCRIBE_ANALYSIS_INTERVAL_MS", 10000),
			RecordingTick:      envOrDefaultDuration("CALLSCRIBE_RECORDING_TICK_MS", 1000),
			StopGrace:          envOrDefaultDuration("CALLSCRIBE_STOP_GRACE_MS", 600),
			AudioBucket:        envOrDefault("CALLSCRIBE_AUDIO_BUCKET", "call-audio"),
		},
		Log: LogConfig{
			Level:  envOrDefault("CALLSCRIBE_LOG_LEVEL", "info"),
			Pretty: envOrDefaultBool("CALLSCRIBE_LOG_PRETTY", false),
		},
	}

	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyFloors() {
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Relay.MaxReconnects < 0 {
		c.Relay.MaxReconnects = 0
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = 30
	}
	if c.Session.AnalysisInterval <= 0 {
		c.Session.AnalysisInterval = 10 * time.Second
	}
	if c.Session.RecordingTick <= 0 {
		c.Session.RecordingTick = time.Second
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = 30 * time.Second
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallbackMillis int) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(fallbackMillis) * time.Millisecond
}
