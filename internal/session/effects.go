package session

import "lyra/internal/protocol"

// Effect is a side effect requested by a transition.
type Effect interface {
	isEffect()
}

type (
	// StartRecorder launches the microphone recorder.
	StartRecorder struct{}
	// StopRecorderAndTranscribe stops the recorder and sends the file for ASR.
	StopRecorderAndTranscribe struct{}
	// DiscardRecording stops the recorder without transcribing.
	DiscardRecording struct{}
	SendEngine       struct{ Request protocol.Request }
	ArmTurnTimer     struct{ Seq uint64 }
	CancelTurnTimer  struct{}
	PlayAudio        struct{ Path string }
	SaveJournal      struct{ Text string }
	RestartEngine    struct{}
)

func (StartRecorder) isEffect()             {}
func (StopRecorderAndTranscribe) isEffect() {}
func (DiscardRecording) isEffect()          {}
func (SendEngine) isEffect()                {}
func (ArmTurnTimer) isEffect()              {}
func (CancelTurnTimer) isEffect()           {}
func (PlayAudio) isEffect()                 {}
func (SaveJournal) isEffect()               {}
func (RestartEngine) isEffect()             {}
