// Package sidecar supervises the inference engine process and brokers its
// line-delimited JSON stream.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"lyra/internal/protocol"
)

var (
	ErrSpawn           = errors.New("failed to spawn engine")
	ErrStartupTimeout  = errors.New("engine failed to become ready in time")
	ErrNotRunning      = errors.New("engine is not running")
	ErrAlreadyStarted  = errors.New("engine is already running")
	ErrStartInProgress = errors.New("engine start already in progress")
	ErrProcessExited   = errors.New("engine exited")
)

const (
	defaultReadyTimeout = 60 * time.Second
	pipeWaitDelay       = 2 * time.Second
)

// Config describes how to launch the engine.
type Config struct {
	Command      string
	Args         []string
	Dir          string
	Env          []string
	ReadyTimeout time.Duration
}

// Manager owns at most one engine process.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	subs   subscribers

	mu       sync.Mutex
	current  *process
	starting bool

	writeMu sync.Mutex
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}

	readyOnce sync.Once
	readyCh   chan struct{}
}

func (p *process) markReady() bool {
	first := false
	p.readyOnce.Do(func() {
		close(p.readyCh)
		first = true
	})
	return first
}

func (p *process) isReady() bool {
	select {
	case <-p.readyCh:
		return true
	default:
		return false
	}
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "sidecar")}
}

// Start spawns the engine and waits for its ready message.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if m.starting {
		m.mu.Unlock()
		return ErrStartInProgress
	}
	m.starting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	proc, err := m.spawn()
	if err != nil {
		return err
	}

	timer := time.NewTimer(m.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-proc.readyCh:
		m.logger.Info("engine ready", "pid", proc.cmd.Process.Pid)
		return nil
	case <-proc.done:
		return fmt.Errorf("%w before becoming ready", ErrProcessExited)
	case <-timer.C:
		m.logger.Error("engine readiness timed out", "timeout", m.cfg.ReadyTimeout)
		return ErrStartupTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) spawn() (*process, error) {
	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	cmd.Dir = m.cfg.Dir
	if len(m.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}
	cmd.WaitDelay = pipeWaitDelay

	proc := &process{
		cmd:     cmd,
		done:    make(chan struct{}),
		readyCh: make(chan struct{}),
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawn, err)
	}
	proc.stdin = stdin

	framer := NewFramer(m.logger)
	cmd.Stdout = writerFunc(func(chunk []byte) (int, error) {
		framer.Feed(chunk, func(msg protocol.Message) {
			if _, ok := msg.(protocol.Ready); ok && !proc.markReady() {
				m.logger.Debug("ignoring repeated ready message")
			}
			m.subs.notify(msg)
		})
		return len(chunk), nil
	})
	cmd.Stderr = newLineLogger(m.logger)

	m.logger.Info("starting engine", "command", m.cfg.Command, "args", m.cfg.Args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	m.mu.Lock()
	m.current = proc
	m.mu.Unlock()

	go m.reap(proc)
	return proc, nil
}

func (m *Manager) reap(proc *process) {
	err := proc.cmd.Wait()
	code := -1
	if proc.cmd.ProcessState != nil {
		code = proc.cmd.ProcessState.ExitCode()
	}
	m.logger.Info(ErrProcessExited.Error(), "code", code, "error", err)

	m.mu.Lock()
	if m.current == proc {
		m.current = nil
	}
	m.mu.Unlock()
	close(proc.done)
}

// Stop kills the engine if one is running. It is safe to call repeatedly.
func (m *Manager) Stop() error {
	m.mu.Lock()
	proc := m.current
	m.current = nil
	m.mu.Unlock()

	if proc == nil {
		return nil
	}

	_ = proc.stdin.Close()
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.logger.Warn("failed to kill engine", "error", err)
	}
	<-proc.done
	return nil
}

// Restart stops any running engine and starts a fresh one.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(); err != nil {
		return err
	}
	return m.Start(ctx)
}

// Send writes one JSON line to the engine. Failures are logged, not returned.
func (m *Manager) Send(msg any) {
	m.mu.Lock()
	proc := m.current
	m.mu.Unlock()

	if proc == nil || proc.stdin == nil {
		m.logger.Warn("dropping outbound message", "error", ErrNotRunning)
		return
	}

	line, err := json.Marshal(msg)
	if err != nil {
		m.logger.Warn("failed to encode outbound message", "error", err)
		return
	}
	line = append(line, '\n')

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := proc.stdin.Write(line); err != nil {
		m.logger.Warn("failed to write to engine", "error", errors.Join(ErrNotRunning, err))
	}
}

// Ping asks the engine for a pong.
func (m *Manager) Ping() {
	m.Send(protocol.Ping())
}

// Subscribe registers fn for every parsed message and returns its remover.
func (m *Manager) Subscribe(fn func(protocol.Message)) func() {
	return m.subs.add(fn)
}

// Running reports whether a process is attached.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Ready reports whether the attached process has signalled readiness.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.isReady()
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// lineLogger forwards engine stderr to the logger one line at a time.
type lineLogger struct {
	logger  *slog.Logger
	pending []byte
}

func newLineLogger(logger *slog.Logger) *lineLogger {
	return &lineLogger{logger: logger}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.pending = append(l.pending, p...)
	for {
		idx := bytes.IndexByte(l.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(l.pending[:idx])
		l.pending = l.pending[idx+1:]
		if len(line) > 0 {
			l.logger.Debug("engine stderr", "line", string(line))
		}
	}
	return len(p), nil
}
