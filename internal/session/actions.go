package session

import "lyra/internal/domain"

// Action is one input to the state machine.
type Action interface {
	isAction()
}

// UI actions.
type (
	Navigate          struct{ Screen domain.Screen }
	Back              struct{}
	SelectRisk        struct{ Level domain.RiskLevel }
	StartRecording    struct{}
	StopRecording     struct{}
	SendText          struct{ Text string }
	SetInputMode      struct{ Mode domain.InputMode }
	ToggleInputMode   struct{}
	SetIntent         struct{ Intent string }
	DismissRiskBanner struct{}
	DeclineGratitude  struct{}
	AcceptGratitude   struct{ Text string }
	RequestEndSession struct{}
	DismissReflection struct{}
	ConfirmEndSession struct{ SteadyThing string }
	EngineRestarting  struct{}
)

// Engine and effect feedback actions.
type (
	EngineReady      struct{}
	EngineError      struct{ Message string }
	RecordingStarted struct{ Path string }
	RecordingFailed  struct{ Err error }
	AsrProcessing    struct{}
	AsrResult        struct{ Text string }
	LlmProcessing    struct{}
	LlmResult        struct {
		Text      string
		RiskLevel string
		Actions   []string
	}
	// TtsResult carries the synthesized file; a nil Path means no audio.
	TtsResult    struct{ Path *string }
	PlaybackDone struct{ Err error }
	TurnTimedOut struct{ Seq uint64 }
)

func (Navigate) isAction()          {}
func (Back) isAction()              {}
func (SelectRisk) isAction()        {}
func (StartRecording) isAction()    {}
func (StopRecording) isAction()     {}
func (SendText) isAction()          {}
func (SetInputMode) isAction()      {}
func (ToggleInputMode) isAction()   {}
func (SetIntent) isAction()         {}
func (DismissRiskBanner) isAction() {}
func (DeclineGratitude) isAction()  {}
func (AcceptGratitude) isAction()   {}
func (RequestEndSession) isAction() {}
func (DismissReflection) isAction() {}
func (ConfirmEndSession) isAction() {}
func (EngineRestarting) isAction()  {}
func (EngineReady) isAction()       {}
func (EngineError) isAction()       {}
func (RecordingStarted) isAction()  {}
func (RecordingFailed) isAction()   {}
func (AsrProcessing) isAction()     {}
func (AsrResult) isAction()         {}
func (LlmProcessing) isAction()     {}
func (LlmResult) isAction()         {}
func (TtsResult) isAction()         {}
func (PlaybackDone) isAction()      {}
func (TurnTimedOut) isAction()      {}
