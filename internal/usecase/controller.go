package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lyra/internal/domain"
	"lyra/internal/ports"
	"lyra/internal/session"
)

var (
	ErrControllerStopped = errors.New("session controller is not running")
	ErrAlreadyRunning    = errors.New("session controller is already running")
	ErrNoRecording       = errors.New("recorder returned no file")
)

const defaultQueueSize = 64

// Config controls turn handling.
type Config struct {
	// TurnTimeout bounds the wait for an engine reply. Zero disables it.
	TurnTimeout time.Duration
	QueueSize   int
}

// SessionController owns the conversation state. A single goroutine (Run)
// applies actions in arrival order and executes the resulting effects.
type SessionController struct {
	reducer  *session.Reducer
	engine   ports.Engine
	recorder ports.Recorder
	player   ports.Player
	journal  ports.Journal
	events   ports.EventSink
	cfg      Config
	logger   *slog.Logger

	actions chan envelope
	done    chan struct{}
	running sync.Once

	// state and timer belong to the Run goroutine.
	state session.State
	timer turnTimer

	mu       sync.RWMutex
	snapshot session.State
}

type envelope struct {
	action session.Action
	result chan error
}

func NewSessionController(
	reducer *session.Reducer,
	engine ports.Engine,
	recorder ports.Recorder,
	player ports.Player,
	journal ports.Journal,
	events ports.EventSink,
	cfg Config,
	logger *slog.Logger,
) *SessionController {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.TurnTimeout < 0 {
		cfg.TurnTimeout = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &SessionController{
		reducer:  reducer,
		engine:   engine,
		recorder: recorder,
		player:   player,
		journal:  journal,
		events:   events,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		actions:  make(chan envelope, cfg.QueueSize),
		done:     make(chan struct{}),
		state:    session.Initial(),
	}
	c.snapshot = c.state
	c.timer = turnTimer{
		timeout: cfg.TurnTimeout,
		fire: func(seq uint64) {
			c.Post(session.TurnTimedOut{Seq: seq})
		},
	}
	return c
}

// Run processes actions until ctx is cancelled.
func (c *SessionController) Run(ctx context.Context) error {
	first := false
	c.running.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.timer.stop()

	c.publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.actions:
			err := c.apply(ctx, env.action)
			if env.result != nil {
				env.result <- err
			}
		}
	}
}

// Dispatch queues action and waits for its transition. It returns the
// reducer's rejection, if any.
func (c *SessionController) Dispatch(ctx context.Context, action session.Action) error {
	env := envelope{action: action, result: make(chan error, 1)}

	select {
	case c.actions <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}

	select {
	case err := <-env.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-env.result:
			return err
		default:
			return ErrControllerStopped
		}
	}
}

// Post queues action without waiting. Rejections are logged.
func (c *SessionController) Post(action session.Action) {
	select {
	case c.actions <- envelope{action: action}:
	case <-c.done:
		c.logger.Debug("dropping action after shutdown", "action", actionName(action))
	}
}

// Snapshot returns the most recently published state.
func (c *SessionController) Snapshot() session.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Snapshot()
}

// StartEngine launches the sidecar. Failure is reported to the UI and moves
// the session into the engine error state.
func (c *SessionController) StartEngine(ctx context.Context) error {
	if err := c.engine.Start(ctx); err != nil {
		c.events.SessionError(domain.ErrorCodeStartup, err.Error())
		c.Post(session.EngineError{Message: fmt.Sprintf("Engine failed to start: %v", err)})
		return err
	}
	return nil
}

// Shutdown stops any recording, clears scratch audio and stops the engine.
func (c *SessionController) Shutdown(ctx context.Context) {
	if _, err := c.recorder.Stop(ctx); err != nil {
		c.logger.Debug("failed to stop recorder on shutdown", "error", err)
	}
	c.recorder.CleanupTempFiles()
	if err := c.engine.Stop(); err != nil {
		c.logger.Warn("failed to stop engine", "error", err)
	}
}

func (c *SessionController) apply(ctx context.Context, action session.Action) error {
	queue := []session.Action{action}
	for i := 0; len(queue) > 0; i++ {
		next := queue[0]
		queue = queue[1:]

		tr := c.reducer.Reduce(c.state, next)
		if tr.Err != nil {
			if i == 0 {
				c.logger.Debug("action rejected", "action", actionName(next), "error", tr.Err)
				return tr.Err
			}
			c.logger.Warn("follow-up action rejected", "action", actionName(next), "error", tr.Err)
			continue
		}

		previous := c.state
		c.state = tr.State
		c.reportErrors(previous, tr.State, next)

		for _, effect := range tr.Effects {
			queue = append(queue, c.execute(ctx, effect)...)
		}
	}

	c.publish()
	return nil
}

func (c *SessionController) publish() {
	c.mu.Lock()
	c.snapshot = c.state
	c.mu.Unlock()
	c.events.StateChanged(c.state.Snapshot())
}

func (c *SessionController) reportErrors(previous session.State, next session.State, action session.Action) {
	switch a := action.(type) {
	case session.EngineError:
		c.events.SessionError(domain.ErrorCodeEngine, a.Message)
	case session.RecordingFailed:
		if a.Err != nil {
			c.events.SessionError(domain.ErrorCodeRecording, a.Err.Error())
		}
	case session.PlaybackDone:
		if a.Err != nil && !errors.Is(a.Err, context.Canceled) {
			c.events.SessionError(domain.ErrorCodePlayback, a.Err.Error())
		}
	case session.TurnTimedOut:
		if previous.TurnInFlight && !next.TurnInFlight {
			c.events.SessionError(domain.ErrorCodeTurn, next.StatusMessage)
		}
	}
}

func actionName(action session.Action) string {
	return fmt.Sprintf("%T", action)
}
