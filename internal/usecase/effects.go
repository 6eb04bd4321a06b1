package usecase

import (
	"context"
	"fmt"
	"strings"

	"lyra/internal/domain"
	"lyra/internal/protocol"
	"lyra/internal/session"
)

// execute runs one effect. Quick effects run inline and may return follow-up
// actions; slow ones (playback, engine restart) run in a goroutine and Post
// their outcome.
func (c *SessionController) execute(ctx context.Context, effect session.Effect) []session.Action {
	switch e := effect.(type) {
	case session.StartRecorder:
		path, err := c.recorder.Start()
		if err != nil {
			return []session.Action{session.RecordingFailed{Err: err}}
		}
		return []session.Action{session.RecordingStarted{Path: path}}

	case session.StopRecorderAndTranscribe:
		// Runs inline: the action goroutine is the recorder's only caller, so a
		// discard or restart never overlaps a pending stop. The wait is bounded
		// by the recorder's stop timeout plus its flush delay.
		path, err := c.recorder.Stop(ctx)
		if err != nil {
			return []session.Action{session.RecordingFailed{Err: err}}
		}
		if path == "" {
			return []session.Action{session.RecordingFailed{Err: ErrNoRecording}}
		}
		c.engine.Send(protocol.ASR(path))
		return nil

	case session.DiscardRecording:
		if _, err := c.recorder.Stop(ctx); err != nil {
			c.logger.Debug("failed to discard recording", "error", err)
		}
		return nil

	case session.SendEngine:
		c.engine.Send(e.Request)
		return nil

	case session.ArmTurnTimer:
		c.timer.arm(e.Seq)
		return nil

	case session.CancelTurnTimer:
		c.timer.stop()
		return nil

	case session.PlayAudio:
		if c.player == nil {
			return []session.Action{session.PlaybackDone{}}
		}
		go func(path string) {
			err := c.player.Play(ctx, path)
			c.Post(session.PlaybackDone{Err: err})
		}(e.Path)
		return nil

	case session.SaveJournal:
		if _, err := c.journal.Add(ctx, e.Text); err != nil {
			c.logger.Warn("failed to save journal entry", "error", err)
			c.events.SessionError(domain.ErrorCodeJournal, err.Error())
		}
		return nil

	case session.RestartEngine:
		go func() {
			if err := c.engine.Restart(ctx); err != nil {
				c.events.SessionError(domain.ErrorCodeStartup, err.Error())
				c.Post(session.EngineError{Message: fmt.Sprintf("Engine failed to restart: %v", err)})
			}
		}()
		return nil
	}

	c.logger.Warn("unhandled effect", "effect", fmt.Sprintf("%T", effect))
	return nil
}

// EngineMessage converts an engine message into a session action.
func (c *SessionController) EngineMessage(msg protocol.Message) {
	action := actionForMessage(msg)
	if action == nil {
		c.logger.Debug("engine message has no session action", "type", msg.MessageType())
		return
	}
	c.Post(action)
}

// CodeYellow is surfaced to the UI by the router; the session only logs it.
func (c *SessionController) CodeYellow() {
	c.logger.Info("code yellow triggered")
}

func actionForMessage(msg protocol.Message) session.Action {
	switch m := msg.(type) {
	case protocol.Ready:
		return session.EngineReady{}
	case protocol.Error:
		text := strings.TrimSpace(m.Message)
		if text == "" {
			text = "The engine reported an error."
		}
		return session.EngineError{Message: text}
	case protocol.AsrProcessing:
		return session.AsrProcessing{}
	case protocol.AsrResult:
		return session.AsrResult{Text: m.Text}
	case protocol.LlmProcessing:
		return session.LlmProcessing{}
	case protocol.LlmResult:
		return session.LlmResult{Text: m.Text, RiskLevel: m.RiskLevel, Actions: m.Actions}
	case protocol.TtsResult:
		return session.TtsResult{Path: m.Path}
	default:
		return nil
	}
}
