// Package router is the UI command surface shared by the desktop app and the
// dev bridge. It forwards commands to the session and the engine and fans
// engine messages out to attached observers.
package router

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"lyra/internal/domain"
	"lyra/internal/ports"
	"lyra/internal/protocol"
	"lyra/internal/session"
)

var ErrRecordingNotStarted = errors.New("recording did not start")

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// Sessions is the slice of the session controller the router drives.
type Sessions interface {
	Dispatch(ctx context.Context, action session.Action) error
	Snapshot() session.Snapshot
}

// ResultsObserver is implemented by observers that render resource results.
type ResultsObserver interface {
	CodeYellowResults(results domain.ResourceResults)
}

type observerEntry struct {
	id  uint64
	obs ports.EngineObserver
}

type Router struct {
	engine    ports.Engine
	sessions  Sessions
	journal   ports.Journal
	resources ports.ResourceFinder
	logger    *slog.Logger

	mu          sync.RWMutex
	nextID      uint64
	observers   []observerEntry
	unsubscribe func()
}

func New(
	engine ports.Engine,
	sessions Sessions,
	journal ports.Journal,
	resources ports.ResourceFinder,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		engine:    engine,
		sessions:  sessions,
		journal:   journal,
		resources: resources,
		logger:    logger.With("component", "router"),
	}
}

// Listen subscribes to the engine. Calling it again is a no-op.
func (r *Router) Listen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = r.engine.Subscribe(r.route)
}

// Close detaches from the engine.
func (r *Router) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Attach registers an observer. Observers are notified in registration order.
func (r *Router) Attach(obs ports.EngineObserver) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.observers = append(r.observers, observerEntry{id: id, obs: obs})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, entry := range r.observers {
				if entry.id == id {
					r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *Router) snapshotObservers() []ports.EngineObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.EngineObserver, 0, len(r.observers))
	for _, entry := range r.observers {
		out = append(out, entry.obs)
	}
	return out
}

func (r *Router) route(msg protocol.Message) {
	if cy, ok := msg.(protocol.CodeYellow); ok && cy.Triggered {
		r.logger.Info("code yellow triggered by engine")
		for _, obs := range r.snapshotObservers() {
			obs.CodeYellow()
		}
		return
	}
	for _, obs := range r.snapshotObservers() {
		obs.EngineMessage(msg)
	}
}

// StartRecording begins a voice turn and returns the recording file path.
func (r *Router) StartRecording(ctx context.Context) (string, error) {
	if err := r.sessions.Dispatch(ctx, session.StartRecording{}); err != nil {
		return "", err
	}
	snap := r.sessions.Snapshot()
	if !snap.Recording {
		return "", ErrRecordingNotStarted
	}
	return snap.RecordingPath, nil
}

// StopRecording ends the voice turn and returns the finalized file path, or
// "" when nothing was captured.
func (r *Router) StopRecording(ctx context.Context) (string, error) {
	if err := r.sessions.Dispatch(ctx, session.StopRecording{}); err != nil {
		return "", err
	}
	return r.sessions.Snapshot().RecordingPath, nil
}

// SendToEngine forwards an arbitrary JSON-serializable message.
func (r *Router) SendToEngine(msg any) {
	r.engine.Send(msg)
}

// Do applies a session action and returns the resulting snapshot.
func (r *Router) Do(ctx context.Context, action session.Action) (session.Snapshot, error) {
	err := r.sessions.Dispatch(ctx, action)
	return r.sessions.Snapshot(), err
}

func (r *Router) State() session.Snapshot {
	return r.sessions.Snapshot()
}

// ReadAudioDataURI returns the file as a base64 data URI, or "" if it cannot
// be read.
func (r *Router) ReadAudioDataURI(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("failed to read audio file", "path", path, "error", err)
		return ""
	}
	mime := "audio/wav"
	if strings.HasSuffix(path, ".mp3") {
		mime = "audio/mpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// LookupResources finds help near zip and publishes the results.
func (r *Router) LookupResources(ctx context.Context, zip string) domain.ResourceResults {
	zip = strings.TrimSpace(zip)
	var results domain.ResourceResults
	if zipPattern.MatchString(zip) {
		results = r.resources.Lookup(ctx, zip)
	} else {
		r.logger.Debug("invalid zip for resource lookup")
		results = r.resources.Fallback()
	}
	r.publishResults(results)
	return results
}

// DeclineResources publishes the fallback set.
func (r *Router) DeclineResources() domain.ResourceResults {
	results := r.resources.Fallback()
	r.publishResults(results)
	return results
}

func (r *Router) publishResults(results domain.ResourceResults) {
	for _, obs := range r.snapshotObservers() {
		if sink, ok := obs.(ResultsObserver); ok {
			sink.CodeYellowResults(results)
		}
	}
}

func (r *Router) ListJournal(ctx context.Context) ([]domain.JournalEntry, error) {
	return r.journal.List(ctx)
}

func (r *Router) DeleteJournalEntry(ctx context.Context, id string) error {
	return r.journal.Delete(ctx, id)
}
