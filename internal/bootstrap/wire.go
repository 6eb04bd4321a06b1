package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"lyra/internal/audio"
	"lyra/internal/config"
	"lyra/internal/journal"
	"lyra/internal/logging"
	"lyra/internal/ports"
	"lyra/internal/resources"
	"lyra/internal/router"
	"lyra/internal/safety"
	"lyra/internal/session"
	"lyra/internal/sidecar"
	"lyra/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Router     *router.Router
	Engine     *sidecar.Manager
	Recorder   *audio.Recorder
	Journal    *journal.Store
	Config     config.Config
	Logger     *slog.Logger

	closers []func() error
}

// Close releases the journal and the log file.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime. events
// receives state snapshots, errors and routed engine messages.
func Build(ctx context.Context, events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(ctx, cfg, events)
}

func BuildWithConfig(ctx context.Context, cfg config.Config, events ports.EventSink) (Services, error) {
	logger, closeLog := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	services := Services{Config: cfg, Logger: logger, closers: []func() error{closeLog}}

	guard, err := safety.NewGuard(cfg.Safety.TermsPath)
	if err != nil {
		_ = services.Close()
		return Services{}, err
	}

	store, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		_ = services.Close()
		return Services{}, err
	}
	services.closers = append(services.closers, store.Close)

	engine := sidecar.NewManager(sidecar.Config{
		Command:      cfg.Engine.Python,
		Args:         append([]string{cfg.Engine.Script}, cfg.Engine.Args...),
		Dir:          cfg.Engine.Dir,
		ReadyTimeout: cfg.Engine.ReadyTimeout,
	}, logger)

	recorder := audio.NewRecorder(audio.RecorderConfig{
		Command:     cfg.Audio.RecorderCommand,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		ScratchDir:  cfg.Audio.ScratchDir,
		StopTimeout: cfg.Audio.StopTimeout,
	}, logger)

	controller := usecase.NewSessionController(
		session.NewReducer(session.ReducerConfig{
			Sanitize:      guard.Sanitize,
			SpeechEnabled: cfg.Session.SpeechEnabled,
		}),
		engine,
		recorder,
		audio.NewPlayer(cfg.Playback.Command, cfg.Playback.Args, logger),
		store,
		events,
		usecase.Config{TurnTimeout: cfg.Session.TurnTimeout},
		logger,
	)

	finder := resources.NewFinder(resources.Config{
		APIKey:  cfg.Resources.GoogleMapsAPIKey,
		BaseURL: cfg.Resources.BaseURL,
	}, logger)

	rt := router.New(engine, controller, store, finder, logger)
	rt.Attach(controller)
	rt.Attach(events)
	rt.Listen()

	services.Controller = controller
	services.Router = rt
	services.Engine = engine
	services.Recorder = recorder
	services.Journal = store
	return services, nil
}
