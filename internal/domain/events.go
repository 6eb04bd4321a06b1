package domain

// Event names emitted to the frontend.
const (
	EventState             = "lyra:state"
	EventError             = "lyra:error"
	EventEngineMessage     = "engine:message"
	EventCodeYellow        = "code-yellow:triggered"
	EventCodeYellowResults = "code-yellow:results"
)

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail"`
}

func NewErrorEvent(code ErrorCode, detail string) ErrorEvent {
	return ErrorEvent{Code: code, Message: ErrorMessage(code, detail), Detail: detail}
}

// ErrorMessage is the short headline shown for an error code.
func ErrorMessage(code ErrorCode, detail string) string {
	switch code {
	case ErrorCodeStartup:
		return "Startup failed"
	case ErrorCodeEngine:
		return "Engine error"
	case ErrorCodeRecording:
		return "Recording failed"
	case ErrorCodePlayback:
		return "Playback failed"
	case ErrorCodeJournal:
		return "Couldn't save to your journal"
	case ErrorCodeTurn:
		return "No response from Lyra"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
