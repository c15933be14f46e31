// Package bootstrap assembles the runtime dependency graph.
package bootstrap

import (
	"github.com/rs/zerolog"

	"callscribe/internal/analysis"
	"callscribe/internal/config"
	"callscribe/internal/media"
	"callscribe/internal/ports"
	"callscribe/internal/relay"
	"callscribe/internal/rules"
	"callscribe/internal/session"
	"callscribe/internal/store"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *session.Controller
	Store      *store.SQLiteStore
	Config     config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, log zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, eventSink, log)
}

// BuildWith wires the graph from an already-resolved configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink, log zerolog.Logger) (Services, error) {
	recordStore, err := store.NewSQLite(cfg.Store.DBPath, cfg.Store.BlobDir)
	if err != nil {
		return Services{}, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		recordStore.Close()
		return Services{}, err
	}

	controller := session.NewController(
		media.NewFFmpegCapture(media.Config{
			Command:       cfg.Audio.RecorderCommand,
			InputFormat:   cfg.Audio.InputFormat,
			SystemSources: cfg.Audio.SystemSources,
			MicDevice:     cfg.Audio.MicDevice,
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
		}),
		recordStore,
		analysis.NewClient(analysis.ClientConfig{
			BaseURL: cfg.Analysis.BaseURL,
			APIKey:  cfg.Analysis.APIKey,
			Timeout: cfg.Analysis.Timeout,
		}),
		rulesEngine,
		eventSink,
		session.Config{
			Relay: relay.Config{
				URL:            cfg.Relay.URL,
				Token:          cfg.Relay.Token,
				ReconnectDelay: cfg.Relay.ReconnectDelay,
				MaxReconnects:  cfg.Relay.MaxReconnects,
				ProbePeriod:    cfg.Relay.ProbePeriod,
				FinalizePeriod: cfg.Relay.FinalizePeriod,
				BurstMode:      cfg.Relay.BurstMode,
			},
			Scheduler: analysis.SchedulerConfig{
				FirstDelay: cfg.Session.FirstAnalysisDelay,
				Interval:   cfg.Session.AnalysisInterval,
			},
			RecordingTick: cfg.Session.RecordingTick,
			StopGrace:     cfg.Session.StopGrace,
			AudioBucket:   cfg.Session.AudioBucket,
			SignedURLTTL:  cfg.Store.SignedURLTTL,
		},
		log,
	)

	return Services{Controller: controller, Store: recordStore, Config: cfg}, nil
}
