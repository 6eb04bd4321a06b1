package ports

import (
	"context"

	"lyra/internal/domain"
	"lyra/internal/protocol"
	"lyra/internal/session"
)

// Engine is the supervised inference sidecar.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	Send(msg any)
	Subscribe(fn func(protocol.Message)) func()
	Ready() bool
}

// Recorder captures microphone audio into files.
type Recorder interface {
	Start() (string, error)
	Stop(ctx context.Context) (string, error)
	CleanupTempFiles()
}

// Player plays an audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Journal stores gratitude and "steady thing" entries.
type Journal interface {
	Add(ctx context.Context, text string) (domain.JournalEntry, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.JournalEntry, error)
}

// ResourceFinder looks up crisis resources near a postal code. It never
// fails; errors degrade to the fallback set.
type ResourceFinder interface {
	Lookup(ctx context.Context, zip string) domain.ResourceResults
	Fallback() domain.ResourceResults
}

// EngineObserver receives routed engine messages. code_yellow triggers are
// delivered through CodeYellow instead of EngineMessage.
type EngineObserver interface {
	EngineMessage(msg protocol.Message)
	CodeYellow()
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	EngineObserver
	StateChanged(snapshot session.Snapshot)
	CodeYellowResults(results domain.ResourceResults)
	SessionError(code domain.ErrorCode, detail string)
}
