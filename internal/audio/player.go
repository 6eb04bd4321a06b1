package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

var ErrPlayback = errors.New("audio playback failed")

// Player plays audio files through an external player and blocks until done.
type Player struct {
	command string
	args    []string
	logger  *slog.Logger
}

// NewPlayer returns a player for command. With no args it assumes ffplay.
func NewPlayer(command string, args []string, logger *slog.Logger) *Player {
	if command == "" {
		command = "ffplay"
	}
	if args == nil {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "error"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{command: command, args: args, logger: logger.With("component", "player")}
}

// Play runs the player on path. Cancelling ctx kills playback.
func (p *Player) Play(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrPlayback)
	}

	args := append(append([]string(nil), p.args...), path)
	cmd := exec.CommandContext(ctx, p.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("playing audio", "path", path)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %w: %s", ErrPlayback, err, stringsTrimSpaceSafe(stderr.String()))
		}
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	return nil
}
