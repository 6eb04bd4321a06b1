package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"lyra/internal/bootstrap"
	"lyra/internal/config"
	"lyra/internal/domain"
	"lyra/internal/protocol"
	"lyra/internal/router"
	"lyra/internal/session"
	"lyra/internal/usecase"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services   bootstrap.Services
	controller *usecase.SessionController
	router     *router.Router
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.router = services.Router

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		if err := a.controller.Run(runCtx); err != nil {
			services.Logger.Error("session controller stopped", "error", err)
		}
	}()
	go func() {
		_ = a.controller.StartEngine(runCtx)
	}()
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	a.controller.Shutdown(ctx)
	a.router.Close()
	a.cancel()
	if err := a.services.Close(); err != nil {
		a.services.Logger.Warn("failed to release services", "error", err)
	}
}

// StartRecording begins microphone capture and returns the scratch file path.
func (a *App) StartRecording() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.router.StartRecording(a.ctx)
}

// StopRecording ends capture and hands the file to the engine for ASR.
func (a *App) StopRecording() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.router.StopRecording(a.ctx)
}

// SendToEngine forwards a raw protocol message to the engine.
func (a *App) SendToEngine(message map[string]any) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.router.SendToEngine(message)
	return nil
}

// ReadAudioFile returns the file as a data URI, or nil when it is unreadable.
func (a *App) ReadAudioFile(path string) *string {
	if a.router == nil {
		return nil
	}
	uri := a.router.ReadAudioDataURI(path)
	if uri == "" {
		return nil
	}
	return &uri
}

// GetState returns the current session snapshot.
func (a *App) GetState() session.Snapshot {
	if a.router == nil {
		state := session.Initial()
		if a.bootErr != nil {
			state.EngineStatus = domain.EngineStatusError
			state.StatusMessage = a.bootErr.Error()
		}
		return state.Snapshot()
	}
	return a.router.State()
}

func (a *App) Navigate(screen domain.Screen) (session.Snapshot, error) {
	return a.do(session.Navigate{Screen: screen})
}

func (a *App) Back() (session.Snapshot, error) {
	return a.do(session.Back{})
}

func (a *App) SelectRisk(level domain.RiskLevel) (session.Snapshot, error) {
	return a.do(session.SelectRisk{Level: level})
}

func (a *App) SendText(text string) (session.Snapshot, error) {
	return a.do(session.SendText{Text: text})
}

func (a *App) SetInputMode(mode domain.InputMode) (session.Snapshot, error) {
	return a.do(session.SetInputMode{Mode: mode})
}

func (a *App) ToggleInputMode() (session.Snapshot, error) {
	return a.do(session.ToggleInputMode{})
}

func (a *App) SetIntent(intent string) (session.Snapshot, error) {
	return a.do(session.SetIntent{Intent: intent})
}

func (a *App) DismissRiskBanner() (session.Snapshot, error) {
	return a.do(session.DismissRiskBanner{})
}

func (a *App) DeclineGratitude() (session.Snapshot, error) {
	return a.do(session.DeclineGratitude{})
}

func (a *App) AcceptGratitude(text string) (session.Snapshot, error) {
	return a.do(session.AcceptGratitude{Text: text})
}

func (a *App) RequestEndSession() (session.Snapshot, error) {
	return a.do(session.RequestEndSession{})
}

func (a *App) DismissReflection() (session.Snapshot, error) {
	return a.do(session.DismissReflection{})
}

// ConfirmEndSession saves steadyThing to the journal when it is non-blank
// and returns to the landing screen.
func (a *App) ConfirmEndSession(steadyThing string) (session.Snapshot, error) {
	return a.do(session.ConfirmEndSession{SteadyThing: steadyThing})
}

// RestartEngine relaunches the sidecar after a failure.
func (a *App) RestartEngine() (session.Snapshot, error) {
	return a.do(session.EngineRestarting{})
}

func (a *App) ListJournal() ([]domain.JournalEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.router.ListJournal(a.ctx)
}

func (a *App) DeleteJournalEntry(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.router.DeleteJournalEntry(a.ctx, id)
}

// LookupResources finds therapists near zip. It always returns a result.
func (a *App) LookupResources(zip string) domain.ResourceResults {
	if a.router == nil {
		return domain.ResourceResults{Type: domain.ResourceKindFallback}
	}
	return a.router.LookupResources(a.ctx, zip)
}

func (a *App) DeclineResources() domain.ResourceResults {
	if a.router == nil {
		return domain.ResourceResults{Type: domain.ResourceKindFallback}
	}
	return a.router.DeclineResources()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"engineScript":     a.cfg.Engine.Script,
		"speechEnabled":    strconv.FormatBool(a.cfg.Session.SpeechEnabled),
		"turnTimeout":      a.cfg.Session.TurnTimeout.String(),
		"journalPath":      a.cfg.Journal.Path,
		"resourcesLookup":  strconv.FormatBool(a.cfg.Resources.GoogleMapsAPIKey != ""),
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) do(action session.Action) (session.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return session.Snapshot{}, err
	}
	return a.router.Do(a.ctx, action)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.router == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged emits session snapshots to the frontend.
func (a *App) StateChanged(snapshot session.Snapshot) {
	a.emit(domain.EventState, snapshot)
}

// EngineMessage forwards engine output in its wire form.
func (a *App) EngineMessage(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		if a.services.Logger != nil {
			a.services.Logger.Warn("failed to encode engine message", "type", msg.MessageType(), "error", err)
		}
		return
	}
	a.emit(domain.EventEngineMessage, json.RawMessage(payload))
}

func (a *App) CodeYellow() {
	a.emit(domain.EventCodeYellow)
}

func (a *App) CodeYellowResults(results domain.ResourceResults) {
	a.emit(domain.EventCodeYellowResults, results)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(domain.EventError, domain.NewErrorEvent(code, detail))
}

func (a *App) emit(event string, data ...any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, event, data...)
}
