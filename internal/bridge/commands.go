// Package bridge serves the desktop command surface over HTTP and WebSocket so
// the frontend can run in a browser during development.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"lyra/internal/domain"
	"lyra/internal/session"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArguments   = errors.New("invalid command arguments")
)

// Surface is the command surface implemented by router.Router.
type Surface interface {
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) (string, error)
	SendToEngine(msg any)
	ReadAudioDataURI(path string) string
	Do(ctx context.Context, action session.Action) (session.Snapshot, error)
	State() session.Snapshot
	LookupResources(ctx context.Context, zip string) domain.ResourceResults
	DeclineResources() domain.ResourceResults
	ListJournal(ctx context.Context) ([]domain.JournalEntry, error)
	DeleteJournalEntry(ctx context.Context, id string) error
}

type commandFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Commands maps command names to the surface.
type Commands struct {
	handlers map[string]commandFunc
}

type commandArgs struct {
	Screen      domain.Screen    `json:"screen"`
	Level       domain.RiskLevel `json:"level"`
	Mode        domain.InputMode `json:"mode"`
	Text        string           `json:"text"`
	Intent      string           `json:"intent"`
	SteadyThing string           `json:"steadyThing"`
	Path        string           `json:"path"`
	ID          string           `json:"id"`
	Zip         string           `json:"zip"`
	Message     json.RawMessage  `json:"message"`
}

func NewCommands(surface Surface) *Commands {
	action := func(build func(commandArgs) session.Action) commandFunc {
		return func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			return surface.Do(ctx, build(args))
		}
	}

	handlers := map[string]commandFunc{
		"StartRecording": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return surface.StartRecording(ctx)
		},
		"StopRecording": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return surface.StopRecording(ctx)
		},
		"SendToEngine": func(_ context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			if len(args.Message) == 0 {
				return nil, fmt.Errorf("%w: message is required", ErrBadArguments)
			}
			surface.SendToEngine(args.Message)
			return nil, nil
		},
		"ReadAudioFile": func(_ context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			uri := surface.ReadAudioDataURI(args.Path)
			if uri == "" {
				return nil, nil
			}
			return uri, nil
		},
		"GetState": func(context.Context, json.RawMessage) (any, error) {
			return surface.State(), nil
		},

		"Navigate":          action(func(a commandArgs) session.Action { return session.Navigate{Screen: a.Screen} }),
		"Back":              action(func(commandArgs) session.Action { return session.Back{} }),
		"SelectRisk":        action(func(a commandArgs) session.Action { return session.SelectRisk{Level: a.Level} }),
		"SendText":          action(func(a commandArgs) session.Action { return session.SendText{Text: a.Text} }),
		"SetInputMode":      action(func(a commandArgs) session.Action { return session.SetInputMode{Mode: a.Mode} }),
		"ToggleInputMode":   action(func(commandArgs) session.Action { return session.ToggleInputMode{} }),
		"SetIntent":         action(func(a commandArgs) session.Action { return session.SetIntent{Intent: a.Intent} }),
		"DismissRiskBanner": action(func(commandArgs) session.Action { return session.DismissRiskBanner{} }),
		"DeclineGratitude":  action(func(commandArgs) session.Action { return session.DeclineGratitude{} }),
		"AcceptGratitude":   action(func(a commandArgs) session.Action { return session.AcceptGratitude{Text: a.Text} }),
		"RequestEndSession": action(func(commandArgs) session.Action { return session.RequestEndSession{} }),
		"DismissReflection": action(func(commandArgs) session.Action { return session.DismissReflection{} }),
		"ConfirmEndSession": action(func(a commandArgs) session.Action {
			return session.ConfirmEndSession{SteadyThing: a.SteadyThing}
		}),
		"RestartEngine": action(func(commandArgs) session.Action { return session.EngineRestarting{} }),

		"ListJournal": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return surface.ListJournal(ctx)
		},
		"DeleteJournalEntry": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			return nil, surface.DeleteJournalEntry(ctx, args.ID)
		},
		"LookupResources": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			return surface.LookupResources(ctx, args.Zip), nil
		},
		"DeclineResources": func(context.Context, json.RawMessage) (any, error) {
			return surface.DeclineResources(), nil
		},
	}
	return &Commands{handlers: handlers}
}

// Execute runs the named command with JSON arguments.
func (c *Commands) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	handler, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return handler(ctx, args)
}

// Names lists the registered commands in sorted order.
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeArgs(raw json.RawMessage) (commandArgs, error) {
	var args commandArgs
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	return args, nil
}
