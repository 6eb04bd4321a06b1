package domain

import "time"

// Screen identifies the top-level view the UI should render.
type Screen string

const (
	ScreenLanding    Screen = "landing"
	ScreenOnboarding Screen = "onboarding"
	ScreenCheckIn    Screen = "checkin"
	ScreenSession    Screen = "session"
	ScreenCrisis     Screen = "crisis"
	ScreenGratitude  Screen = "gratitude"
)

// EngineStatus models the sidecar lifecycle as seen by the UI.
type EngineStatus string

const (
	EngineStatusLoading EngineStatus = "loading"
	EngineStatusReady   EngineStatus = "ready"
	EngineStatusError   EngineStatus = "error"
)

// RiskLevel is the coarse distress classification. The zero value means unset.
type RiskLevel string

const (
	RiskNone   RiskLevel = ""
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// OrbState is the turn-taking activity indicator.
type OrbState string

const (
	OrbIdle      OrbState = "idle"
	OrbListening OrbState = "listening"
	OrbThinking  OrbState = "thinking"
	OrbSpeaking  OrbState = "speaking"
	OrbDisabled  OrbState = "disabled"
)

// InputMode selects between microphone and keyboard input.
type InputMode string

const (
	InputVoice InputMode = "voice"
	InputText  InputMode = "text"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus marks whether a message is complete.
type MessageStatus string

const (
	MessageFinal     MessageStatus = "final"
	MessageStreaming MessageStatus = "streaming"
)

// ConversationMessage is one immutable entry in the session transcript.
type ConversationMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeEngine    ErrorCode = "engine"
	ErrorCodeRecording ErrorCode = "recording"
	ErrorCodePlayback  ErrorCode = "playback"
	ErrorCodeJournal   ErrorCode = "journal"
	ErrorCodeTurn      ErrorCode = "turn_timeout"
)

// JournalEntry is one saved "steady thing" or gratitude note.
type JournalEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}

// Therapist is one nearby professional returned by a resource lookup.
type Therapist struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Phone   string   `json:"phone,omitempty"`
	Rating  *float64 `json:"rating,omitempty"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
}

// FallbackResource is an always-available hotline or directory.
type FallbackResource struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Contact     string `json:"contact"`
}

// ResourceResultKind distinguishes a successful lookup from the fallback set.
type ResourceResultKind string

const (
	ResourceKindResults  ResourceResultKind = "results"
	ResourceKindFallback ResourceResultKind = "fallback"
)

// ResourceResults is returned by the crisis-resource lookup.
type ResourceResults struct {
	Type              ResourceResultKind `json:"type"`
	Therapists        []Therapist        `json:"therapists,omitempty"`
	FallbackResources []FallbackResource `json:"fallbackResources"`
	CenterLat         *float64           `json:"centerLat,omitempty"`
	CenterLng         *float64           `json:"centerLng,omitempty"`
}
