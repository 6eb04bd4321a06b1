package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"lyra/internal/domain"
	"lyra/internal/protocol"
	"lyra/internal/safety"
)

var (
	ErrEngineNotReady      = errors.New("engine is not ready")
	ErrRecordingInProgress = errors.New("a recording is already in progress")
	ErrNotRecording        = errors.New("no recording in progress")
	ErrTurnInFlight        = errors.New("waiting for a reply to the previous message")
	ErrEmptyText           = errors.New("text is empty")
	ErrUnknownIntent       = errors.New("unknown intent")
	ErrInvalidScreen       = errors.New("invalid screen")
	ErrInvalidRiskLevel    = errors.New("invalid risk level")
	ErrInvalidInputMode    = errors.New("invalid input mode")
	ErrUnknownAction       = errors.New("unknown action")
)

// DefaultIntro opens every fresh session.
const DefaultIntro = "Hi, I'm Lyra. I'm here to listen, whatever is on your mind. How are you feeling right now?"

const (
	statusTurnTimedOut    = "Lyra took too long to respond. Please try again."
	statusRecordingFailed = "Couldn't capture audio. Please try again."
	statusRestarting      = "Restarting the engine..."
)

var (
	validScreens = []domain.Screen{
		domain.ScreenLanding, domain.ScreenOnboarding, domain.ScreenCheckIn,
		domain.ScreenSession, domain.ScreenCrisis, domain.ScreenGratitude,
	}
	validRiskLevels = []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh}
)

// Transition is the outcome of one Reduce call. On error State is the input
// state and Effects is empty.
type Transition struct {
	State   State
	Effects []Effect
	Err     error
}

// ReducerConfig injects the non-deterministic parts of a transition.
type ReducerConfig struct {
	NewID         func() string
	Now           func() time.Time
	Sanitize      func(string) string
	Intro         string
	SpeechEnabled bool
}

// Reducer applies actions to a State.
type Reducer struct {
	cfg ReducerConfig
}

func NewReducer(cfg ReducerConfig) *Reducer {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sanitize == nil {
		cfg.Sanitize = safety.Sanitize
	}
	if strings.TrimSpace(cfg.Intro) == "" {
		cfg.Intro = DefaultIntro
	}
	return &Reducer{cfg: cfg}
}

// Reduce returns the transition for action applied to s.
func (r *Reducer) Reduce(s State, action Action) Transition {
	if isTurnOutput(action) && !s.ownsTurnOutput() {
		return stateOnly(s)
	}

	switch a := action.(type) {
	case Navigate:
		if !lo.Contains(validScreens, a.Screen) {
			return reject(s, fmt.Errorf("%w: %q", ErrInvalidScreen, a.Screen))
		}
		return r.navigate(s, a.Screen)
	case Back:
		return r.back(s)
	case SelectRisk:
		if !lo.Contains(validRiskLevels, a.Level) {
			return reject(s, fmt.Errorf("%w: %q", ErrInvalidRiskLevel, a.Level))
		}
		s.RiskLevel = a.Level
		s.RiskBannerDismissed = false
		if a.Level == domain.RiskHigh {
			return r.navigate(s, domain.ScreenCrisis)
		}
		return r.navigate(s, domain.ScreenSession)

	case EngineReady:
		if s.EngineStatus != domain.EngineStatusLoading {
			return stateOnly(s)
		}
		s.EngineStatus = domain.EngineStatusReady
		s.StatusMessage = ""
		if s.OrbState == domain.OrbDisabled {
			s.OrbState = domain.OrbIdle
		}
		return stateOnly(s)
	case EngineError:
		var effects []Effect
		if s.Recording {
			effects = append(effects, DiscardRecording{})
		}
		if s.TurnInFlight {
			effects = append(effects, CancelTurnTimer{})
		}
		s.EngineStatus = domain.EngineStatusError
		s.StatusMessage = a.Message
		s.OrbState = domain.OrbDisabled
		s.Recording = false
		s.TurnInFlight = false
		return Transition{State: s, Effects: effects}
	case EngineRestarting:
		var effects []Effect
		if s.Recording {
			effects = append(effects, DiscardRecording{})
		}
		if s.TurnInFlight {
			effects = append(effects, CancelTurnTimer{})
		}
		s.EngineStatus = domain.EngineStatusLoading
		s.StatusMessage = statusRestarting
		s.OrbState = domain.OrbDisabled
		s.Recording = false
		s.TurnInFlight = false
		return Transition{State: s, Effects: append(effects, RestartEngine{})}

	case StartRecording:
		switch {
		case s.EngineStatus != domain.EngineStatusReady:
			return reject(s, ErrEngineNotReady)
		case s.Recording:
			return reject(s, ErrRecordingInProgress)
		case s.TurnInFlight:
			return reject(s, ErrTurnInFlight)
		}
		s.Recording = true
		s.OrbState = domain.OrbListening
		s.RecordingPath = ""
		s.CurrentTranscript = ""
		s.StatusMessage = ""
		return Transition{State: s, Effects: []Effect{StartRecorder{}}}
	case RecordingStarted:
		if s.Recording {
			s.RecordingPath = a.Path
		}
		return stateOnly(s)
	case StopRecording:
		if !s.Recording {
			return reject(s, ErrNotRecording)
		}
		s.Recording = false
		s.OrbState = domain.OrbThinking
		s = beginTurn(s)
		return Transition{State: s, Effects: []Effect{StopRecorderAndTranscribe{}, ArmTurnTimer{Seq: s.TurnSeq}}}
	case RecordingFailed:
		effects := cancelTurn(s)
		s.Recording = false
		s.RecordingPath = ""
		s.TurnInFlight = false
		s.OrbState = restingOrb(s)
		if a.Err != nil {
			s.StatusMessage = statusRecordingFailed
		}
		return Transition{State: s, Effects: effects}

	case AsrProcessing:
		s.OrbState = domain.OrbThinking
		s.CurrentTranscript = ""
		return stateOnly(s)
	case AsrResult:
		if isBlank(a.Text) {
			effects := cancelTurn(s)
			s.TurnInFlight = false
			s.OrbState = restingOrb(s)
			return Transition{State: s, Effects: effects}
		}
		s.CurrentTranscript = a.Text
		return r.userTurn(s, a.Text)
	case SendText:
		switch {
		case isBlank(a.Text):
			return reject(s, ErrEmptyText)
		case s.Recording:
			return reject(s, ErrRecordingInProgress)
		case s.TurnInFlight:
			return reject(s, ErrTurnInFlight)
		case s.EngineStatus != domain.EngineStatusReady:
			return reject(s, ErrEngineNotReady)
		}
		s = beginTurn(s)
		return r.userTurn(s, strings.TrimSpace(a.Text))

	case LlmProcessing:
		s.OrbState = domain.OrbThinking
		return stateOnly(s)
	case LlmResult:
		return r.llmResult(s, a)
	case TtsResult:
		if a.Path == nil || strings.TrimSpace(*a.Path) == "" {
			if s.OrbState == domain.OrbSpeaking {
				s.OrbState = restingOrb(s)
			}
			return stateOnly(s)
		}
		s.OrbState = domain.OrbSpeaking
		return Transition{State: s, Effects: []Effect{PlayAudio{Path: *a.Path}}}
	case PlaybackDone:
		if s.OrbState == domain.OrbSpeaking {
			s.OrbState = restingOrb(s)
		}
		return stateOnly(s)
	case TurnTimedOut:
		if !s.TurnInFlight || a.Seq != s.TurnSeq {
			return stateOnly(s)
		}
		s.TurnInFlight = false
		s.RegenUsed = false
		s.OrbState = restingOrb(s)
		s.StatusMessage = statusTurnTimedOut
		return stateOnly(s)

	case SetInputMode:
		if a.Mode != domain.InputVoice && a.Mode != domain.InputText {
			return reject(s, fmt.Errorf("%w: %q", ErrInvalidInputMode, a.Mode))
		}
		s.InputMode = a.Mode
		return stateOnly(s)
	case ToggleInputMode:
		s.InputMode = lo.Ternary(s.InputMode == domain.InputText, domain.InputVoice, domain.InputText)
		return stateOnly(s)
	case SetIntent:
		if a.Intent != "" && !validIntent(a.Intent) {
			return reject(s, fmt.Errorf("%w: %q", ErrUnknownIntent, a.Intent))
		}
		s.Intent = a.Intent
		return stateOnly(s)
	case DismissRiskBanner:
		s.RiskBannerDismissed = true
		return stateOnly(s)
	case DeclineGratitude:
		s.GratitudeDeclined = true
		return stateOnly(s)
	case AcceptGratitude:
		text := strings.TrimSpace(a.Text)
		if text == "" {
			return reject(s, ErrEmptyText)
		}
		s.GratitudeDeclined = true
		return Transition{State: s, Effects: []Effect{SaveJournal{Text: text}}}
	case RequestEndSession:
		s.ShowReflection = true
		return stateOnly(s)
	case DismissReflection:
		s.ShowReflection = false
		return stateOnly(s)
	case ConfirmEndSession:
		var effects []Effect
		if text := strings.TrimSpace(a.SteadyThing); text != "" {
			effects = append(effects, SaveJournal{Text: text})
		}
		next := r.navigate(s, domain.ScreenLanding)
		next.Effects = append(effects, next.Effects...)
		return next
	}

	return reject(s, fmt.Errorf("%w: %T", ErrUnknownAction, action))
}

// userTurn appends a user message and asks the engine for a reply.
func (r *Reducer) userTurn(s State, text string) Transition {
	if !s.TurnInFlight {
		s = beginTurn(s)
	}
	s.Messages = r.appendMessage(s.Messages, domain.RoleUser, text)
	s.OrbState = domain.OrbThinking
	s.RegenUsed = false
	if s.EngineStatus == domain.EngineStatusReady {
		s.StatusMessage = ""
	}
	return Transition{State: s, Effects: []Effect{
		SendEngine{Request: protocol.LLM(text, s.Intent)},
		ArmTurnTimer{Seq: s.TurnSeq},
	}}
}

// isTurnOutput reports engine output produced in answer to a user turn.
func isTurnOutput(action Action) bool {
	switch action.(type) {
	case AsrProcessing, AsrResult, LlmProcessing, LlmResult, TtsResult:
		return true
	}
	return false
}

func (r *Reducer) llmResult(s State, a LlmResult) Transition {
	result := protocol.LlmResult{Text: a.Text, RiskLevel: a.RiskLevel, Actions: a.Actions}
	if result.IsCrisis() {
		effects := cancelTurn(s)
		s.TurnInFlight = false
		s.RegenUsed = false
		s.RiskLevel = domain.RiskHigh
		s.CurrentTranscript = ""
		s.PreviousScreen = s.Screen
		s.Screen = domain.ScreenCrisis
		s.OrbState = restingOrb(s)
		return Transition{State: s, Effects: effects}
	}

	if result.IsCaution() {
		s.RiskLevel = domain.RiskMedium
		s.RiskBannerDismissed = false
	}

	text := strings.TrimSpace(a.Text)
	if text == "" {
		text = safety.FallbackPrompt
	} else if !safety.CheckQuality(text) && !s.RegenUsed {
		if !s.TurnInFlight {
			s = beginTurn(s)
		}
		s.RegenUsed = true
		s.OrbState = domain.OrbThinking
		return Transition{State: s, Effects: []Effect{
			SendEngine{Request: protocol.LLM(safety.AutoRegenPrompt, s.Intent)},
			ArmTurnTimer{Seq: s.TurnSeq},
		}}
	}

	text = r.cfg.Sanitize(text)
	effects := cancelTurn(s)
	s.Messages = r.appendMessage(s.Messages, domain.RoleAssistant, text)
	s.TurnCount++
	s.TurnInFlight = false
	s.RegenUsed = false
	s.CurrentTranscript = ""
	if r.cfg.SpeechEnabled {
		s.OrbState = domain.OrbSpeaking
		effects = append(effects, SendEngine{Request: protocol.TTS(text)})
	} else {
		s.OrbState = restingOrb(s)
	}
	return Transition{State: s, Effects: effects}
}

func (r *Reducer) navigate(s State, screen domain.Screen) Transition {
	if screen == domain.ScreenLanding {
		return r.reset(s)
	}

	if screen != s.Screen {
		s.PreviousScreen = s.Screen
	}
	s.Screen = screen

	if screen == domain.ScreenSession {
		if len(s.Messages) == 0 {
			s.Messages = r.appendMessage(s.Messages, domain.RoleAssistant, r.cfg.Intro)
		}
		if !s.Recording && !s.TurnInFlight && s.OrbState != domain.OrbSpeaking {
			s.OrbState = restingOrb(s)
		}
	}
	return stateOnly(s)
}

func (r *Reducer) back(s State) Transition {
	switch s.Screen {
	case domain.ScreenCrisis, domain.ScreenGratitude:
		target := s.PreviousScreen
		if target == "" || target == domain.ScreenCrisis || target == domain.ScreenGratitude {
			target = domain.ScreenLanding
		}
		next := r.navigate(s, target)
		next.State.PreviousScreen = ""
		return next
	case domain.ScreenCheckIn:
		return r.navigate(s, domain.ScreenOnboarding)
	case domain.ScreenOnboarding:
		return r.navigate(s, domain.ScreenLanding)
	case domain.ScreenSession:
		s.ShowReflection = true
		return stateOnly(s)
	default:
		return stateOnly(s)
	}
}

// reset returns to landing, clearing everything except engine status and
// input mode.
func (r *Reducer) reset(s State) Transition {
	var effects []Effect
	if s.Recording {
		effects = append(effects, DiscardRecording{})
	}
	effects = append(effects, cancelTurn(s)...)

	next := Initial()
	next.EngineStatus = s.EngineStatus
	if s.EngineStatus == domain.EngineStatusError {
		next.StatusMessage = s.StatusMessage
	}
	next.InputMode = s.InputMode
	next.TurnSeq = s.TurnSeq
	next.SessionSeq = s.TurnSeq
	next.OrbState = restingOrb(next)
	return Transition{State: next, Effects: effects}
}

func (r *Reducer) appendMessage(messages []domain.ConversationMessage, role domain.Role, text string) []domain.ConversationMessage {
	return append(slices.Clip(messages), domain.ConversationMessage{
		ID:        r.cfg.NewID(),
		Role:      role,
		Text:      text,
		Timestamp: r.cfg.Now(),
		Status:    domain.MessageFinal,
	})
}

func beginTurn(s State) State {
	s.TurnInFlight = true
	s.TurnSeq++
	return s
}

func cancelTurn(s State) []Effect {
	if !s.TurnInFlight {
		return nil
	}
	return []Effect{CancelTurnTimer{}}
}

func restingOrb(s State) domain.OrbState {
	if s.EngineStatus != domain.EngineStatusReady {
		return domain.OrbDisabled
	}
	return domain.OrbIdle
}

func stateOnly(s State) Transition {
	return Transition{State: s}
}

func reject(s State, err error) Transition {
	return Transition{State: s, Err: err}
}
