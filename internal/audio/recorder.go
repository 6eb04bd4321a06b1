package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordingInProgress = errors.New("a recording is already in progress")
	ErrRecorderExited      = errors.New("recorder exited before capture started")
	ErrEmptyRecording      = errors.New("recorder produced no audio")
)

const (
	defaultStopTimeout  = 1200 * time.Millisecond
	defaultFlushDelay   = 100 * time.Millisecond
	defaultStartupGrace = 250 * time.Millisecond
)

// RecorderConfig describes the microphone recorder subprocess.
type RecorderConfig struct {
	// Command is either an ffmpeg binary or sox's rec.
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	ScratchDir  string
	StopTimeout time.Duration
	FlushDelay  time.Duration
	// StartupGrace is how long Start watches for a recorder that dies at once
	// (missing device, bad input format).
	StartupGrace time.Duration
	// Platform overrides runtime.GOOS when choosing arguments and the stop signal.
	Platform string
}

// Recorder records the microphone into WAV files, one at a time.
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	path    string
	process *os.Process
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	waitErr <-chan error
}

func NewRecorder(cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.Platform == "" {
		cfg.Platform = runtime.GOOS
	}
	if cfg.Command == "" {
		cfg.Command = defaultRecorderCommand(cfg.Platform)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat(cfg.Platform)
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "lyra")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.FlushDelay < 0 {
		cfg.FlushDelay = 0
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = defaultStartupGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{cfg: cfg, logger: logger.With("component", "recorder")}
}

// Start launches the recorder and returns the file it writes to.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return "", ErrRecordingInProgress
	}

	if err := os.MkdirAll(r.cfg.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	path := filepath.Join(r.cfg.ScratchDir, fmt.Sprintf("recording_%d_%s.wav", time.Now().UnixMilli(), uuid.NewString()[:8]))

	cmd := exec.Command(r.cfg.Command, r.args(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var stdin io.WriteCloser
	if r.stopsViaStdin() {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return "", fmt.Errorf("failed to create recorder stdin pipe: %w", err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start recorder: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if err != nil {
			return "", fmt.Errorf("%w: %w: %s", ErrRecorderExited, err, detail)
		}
		return "", fmt.Errorf("%w: %s", ErrRecorderExited, detail)
	case <-time.After(r.cfg.StartupGrace):
	}

	r.active = &recording{
		path:    path,
		process: cmd.Process,
		stdin:   stdin,
		stderr:  &stderr,
		waitErr: waitErr,
	}
	r.logger.Debug("recording started", "path", path, "pid", cmd.Process.Pid)
	return path, nil
}

// Stop ends the active recording and returns its path, or "" if none is active.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.active
	if active == nil {
		return "", nil
	}
	r.active = nil

	if active.stdin != nil {
		_, _ = io.WriteString(active.stdin, "q")
		_ = active.stdin.Close()
	} else {
		_ = active.process.Signal(os.Interrupt)
	}

	var stopErr error
	timer := time.NewTimer(r.cfg.StopTimeout)
	select {
	case err, ok := <-active.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-timer.C:
		r.logger.Warn("recorder ignored graceful stop, killing", "pid", active.process.Pid)
		_ = active.process.Kill()
		if err, ok := <-active.waitErr; ok {
			stopErr = normalizeStopErr(err)
		}
	case <-ctx.Done():
		_ = active.process.Kill()
		<-active.waitErr
		timer.Stop()
		return "", ctx.Err()
	}
	timer.Stop()

	if stopErr != nil && active.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, stringsTrimSpaceSafe(active.stderr.String()))
	}
	if stopErr != nil {
		return "", stopErr
	}

	// Recorders exit non-zero on interrupt, so the exit status cannot tell a
	// capture that never opened the device apart from a normal stop.
	if info, err := os.Stat(active.path); err != nil || info.Size() == 0 {
		if detail := stringsTrimSpaceSafe(active.stderr.String()); detail != "" {
			return "", fmt.Errorf("%w: %s", ErrEmptyRecording, detail)
		}
		return "", ErrEmptyRecording
	}

	if r.cfg.FlushDelay > 0 {
		flush := time.NewTimer(r.cfg.FlushDelay)
		select {
		case <-flush.C:
		case <-ctx.Done():
			flush.Stop()
		}
	}
	return active.path, nil
}

// Active reports whether a recording subprocess is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// CleanupTempFiles removes every file in the scratch directory. Errors are
// logged and swallowed.
func (r *Recorder) CleanupTempFiles() {
	entries, err := os.ReadDir(r.cfg.ScratchDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("failed to read scratch dir", "dir", r.cfg.ScratchDir, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.cfg.ScratchDir, entry.Name())
		if err := os.Remove(path); err != nil {
			r.logger.Debug("failed to remove scratch file", "path", path, "error", err)
		}
	}
}

func (r *Recorder) args(path string) []string {
	if isSox(r.cfg.Command) {
		return []string{
			"-q",
			"-r", fmt.Sprint(r.cfg.SampleRate),
			"-c", fmt.Sprint(r.cfg.Channels),
			"-b", "16",
			path,
		}
	}

	input := r.cfg.InputDevice
	switch r.cfg.InputFormat {
	case "dshow":
		if !strings.HasPrefix(input, "audio=") {
			input = "audio=" + input
		}
	case "avfoundation":
		if !strings.HasPrefix(input, ":") {
			input = ":" + input
		}
	}

	args := []string{"-hide_banner", "-loglevel", "warning"}
	if !r.stopsViaStdin() {
		args = append(args, "-nostdin")
	}
	return append(args,
		"-f", r.cfg.InputFormat,
		"-i", input,
		"-ar", fmt.Sprint(r.cfg.SampleRate),
		"-ac", fmt.Sprint(r.cfg.Channels),
		"-acodec", "pcm_s16le",
		"-y", path,
	)
}

// stopsViaStdin reports whether the recorder is stopped by writing "q" to
// stdin. Windows has no SIGINT for child processes.
func (r *Recorder) stopsViaStdin() bool {
	return r.cfg.Platform == "windows" && !isSox(r.cfg.Command)
}

func isSox(command string) bool {
	base := strings.TrimSuffix(filepath.Base(command), ".exe")
	return base == "rec" || base == "sox"
}

func defaultRecorderCommand(platform string) string {
	if platform == "darwin" {
		return "rec"
	}
	return "ffmpeg"
}

func defaultInputFormat(platform string) string {
	switch platform {
	case "windows":
		return "dshow"
	case "darwin":
		return "avfoundation"
	default:
		return "pulse"
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
