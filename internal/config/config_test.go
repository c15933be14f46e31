package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CALLSCRIBE_DATA_DIR", "")
	t.Setenv("CALLSCRIBE_RELAY_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Addr != ":8090" {
		t.Fatalf("unexpected default addr %q", cfg.Server.Addr)
	}
	if cfg.Relay.ReconnectDelay != 2*time.Second || cfg.Relay.MaxReconnects != 5 {
		t.Fatalf("unexpected relay defaults: %+v", cfg.Relay)
	}
	if cfg.Relay.ProbePeriod != 5*time.Second || cfg.Relay.FinalizePeriod != 5*time.Second {
		t.Fatalf("unexpected relay periods: %+v", cfg.Relay)
	}
	if cfg.Session.FirstAnalysisDelay != 20*time.Second || cfg.Session.AnalysisInterval != 10*time.Second {
		t.Fatalf("unexpected analysis cadence: %+v", cfg.Session)
	}
	if cfg.Session.StopGrace != 600*time.Millisecond {
		t.Fatalf("unexpected stop grace: %v", cfg.Session.StopGrace)
	}
	if cfg.Session.AudioBucket != "call-audio" {
		t.Fatalf("unexpected bucket %q", cfg.Session.AudioBucket)
	}

	wantDB := filepath.Join(home, ".local", "share", "callscribe", "callscribe.db")
	if cfg.Store.DBPath != wantDB {
		t.Fatalf("expected db under home data dir, got %q", cfg.Store.DBPath)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CALLSCRIBE_ADDR", ":9000")
	t.Setenv("CALLSCRIBE_RELAY_URL", "wss://relay.example.com/stream")
	t.Setenv("CALLSCRIBE_RELAY_TOKEN", "tok")
	t.Setenv("CALLSCRIBE_RELAY_RECONNECT_MS", "250")
	t.Setenv("CALLSCRIBE_RELAY_MAX_RECONNECTS", "3")
	t.Setenv("CALLSCRIBE_RELAY_BURST_MODE", "true")
	t.Setenv("CALLSCRIBE_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("CALLSCRIBE_SYSTEM_SOURCES", "monitor-a, monitor-b")
	t.Setenv("CALLSCRIBE_SAMPLE_RATE", "22050")
	t.Setenv("CALLSCRIBE_FIRST_ANALYSIS_MS", "100")
	t.Setenv("CALLSCRIBE_ANALYSIS_INTERVAL_MS", "50")
	t.Setenv("CALLSCRIBE_ANALYSIS_URL", "https://llm.example.com")
	t.Setenv("CALLSCRIBE_RULE_ITERATION_LIMIT", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Relay.URL != "wss://relay.example.com/stream" || cfg.Relay.Token != "tok" {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay)
	}
	if cfg.Relay.ReconnectDelay != 250*time.Millisecond || cfg.Relay.MaxReconnects != 3 {
		t.Fatalf("unexpected relay tuning: %+v", cfg.Relay)
	}
	if !cfg.Relay.BurstMode {
		t.Fatalf("expected burst mode enabled")
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.SampleRate != 22050 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if len(cfg.Audio.SystemSources) != 2 || cfg.Audio.SystemSources[1] != "monitor-b" {
		t.Fatalf("unexpected system sources: %v", cfg.Audio.SystemSources)
	}
	if cfg.Session.FirstAnalysisDelay != 100*time.Millisecond || cfg.Session.AnalysisInterval != 50*time.Millisecond {
		t.Fatalf("unexpected analysis cadence: %+v", cfg.Session)
	}
	if cfg.Analysis.BaseURL != "https://llm.example.com" {
		t.Fatalf("unexpected analysis url %q", cfg.Analysis.BaseURL)
	}
	if cfg.Rules.IterationLimit != 42 {
		t.Fatalf("unexpected iteration limit %d", cfg.Rules.IterationLimit)
	}
}

func TestLoadAppliesFloors(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CALLSCRIBE_SAMPLE_RATE", "-1")
	t.Setenv("CALLSCRIBE_CHANNELS", "0")
	t.Setenv("CALLSCRIBE_RELAY_MAX_RECONNECTS", "-5")
	t.Setenv("CALLSCRIBE_ANALYSIS_INTERVAL_MS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("expected audio floors applied, got %+v", cfg.Audio)
	}
	if cfg.Relay.MaxReconnects != 0 {
		t.Fatalf("expected reconnect floor, got %d", cfg.Relay.MaxReconnects)
	}
	if cfg.Session.AnalysisInterval != 10*time.Second {
		t.Fatalf("expected interval floor, got %v", cfg.Session.AnalysisInterval)
	}
}
