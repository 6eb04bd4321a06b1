// Package session holds the conversation state machine. Reduce is pure: every
// side effect it needs is returned as an Effect for the coordinator to run.
package session

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"lyra/internal/domain"
)

// Intents are the tone choices offered during a session.
var Intents = []string{"Vent", "Perspective", "Calm Down", "Make a Plan"}

const (
	gratitudeMinTurns = 5
	recentTopicCount  = 3
	topicMaxLen       = 60
)

// State is a snapshot of one conversation. Values are never mutated in place;
// Reduce returns a new State.
type State struct {
	Screen              domain.Screen                `json:"screen"`
	PreviousScreen      domain.Screen                `json:"previousScreen,omitempty"`
	EngineStatus        domain.EngineStatus          `json:"engineStatus"`
	StatusMessage       string                       `json:"statusMessage,omitempty"`
	RiskLevel           domain.RiskLevel             `json:"riskLevel"`
	RiskBannerDismissed bool                         `json:"riskBannerDismissed"`
	OrbState            domain.OrbState              `json:"orbState"`
	InputMode           domain.InputMode             `json:"inputMode"`
	Recording           bool                         `json:"isRecording"`
	RecordingPath       string                       `json:"recordingPath,omitempty"`
	CurrentTranscript   string                       `json:"currentTranscript"`
	Messages            []domain.ConversationMessage `json:"messages"`
	TurnCount           int                          `json:"turnCount"`
	Intent              string                       `json:"intent"`
	GratitudeDeclined   bool                         `json:"gratitudeDeclined"`
	ShowReflection      bool                         `json:"showReflectionModal"`
	RegenUsed           bool                         `json:"regenerationUsed"`
	TurnInFlight        bool                         `json:"turnInFlight"`
	TurnSeq             uint64                       `json:"turnSeq"`
	// SessionSeq is TurnSeq at the last reset. Turn output arriving before
	// the next turn begins belongs to an ended conversation.
	SessionSeq          uint64                       `json:"-"`
}

// Initial is the state at application launch.
func Initial() State {
	return State{
		Screen:       domain.ScreenLanding,
		EngineStatus: domain.EngineStatusLoading,
		OrbState:     domain.OrbDisabled,
		InputMode:    domain.InputVoice,
		Messages:     []domain.ConversationMessage{},
	}
}

// ownsTurnOutput reports whether a turn has begun since the last reset.
func (s State) ownsTurnOutput() bool {
	return s.TurnSeq > s.SessionSeq
}

// ShowRiskBanner reports whether the medium-risk advisory should be visible.
func (s State) ShowRiskBanner() bool {
	return s.RiskLevel == domain.RiskMedium && !s.RiskBannerDismissed
}

// GratitudeEligible reports whether the gratitude suggestion may be offered.
func GratitudeEligible(s State) bool {
	return s.TurnCount >= gratitudeMinTurns &&
		s.RiskLevel != domain.RiskHigh &&
		!s.GratitudeDeclined &&
		!s.Recording &&
		s.OrbState != domain.OrbListening &&
		s.OrbState != domain.OrbThinking
}

// RecentTopics returns the last three user messages, shortened for display.
func RecentTopics(s State) []string {
	userMessages := lo.Filter(s.Messages, func(m domain.ConversationMessage, _ int) bool {
		return m.Role == domain.RoleUser
	})
	return lo.Map(lo.Subset(userMessages, -recentTopicCount, recentTopicCount), func(m domain.ConversationMessage, _ int) string {
		return shorten(m.Text)
	})
}

func shorten(text string) string {
	if utf8.RuneCountInString(text) <= topicMaxLen {
		return text
	}
	return string([]rune(text)[:topicMaxLen-3]) + "..."
}

// Snapshot is the state as published to the UI, with derived fields.
type Snapshot struct {
	State
	ShowRiskBanner    bool     `json:"showRiskBanner"`
	GratitudeEligible bool     `json:"gratitudeEligible"`
	RecentTopics      []string `json:"recentTopics"`
}

func (s State) Snapshot() Snapshot {
	return Snapshot{
		State:             s,
		ShowRiskBanner:    s.ShowRiskBanner(),
		GratitudeEligible: GratitudeEligible(s),
		RecentTopics:      RecentTopics(s),
	}
}

func validIntent(intent string) bool {
	return lo.Contains(Intents, intent)
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
