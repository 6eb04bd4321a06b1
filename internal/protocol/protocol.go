// Package protocol defines the line-delimited JSON messages exchanged with the
// inference engine sidecar.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound message discriminators.
const (
	TypeReady         = "ready"
	TypeError         = "error"
	TypeAsrProcessing = "asr_processing"
	TypeAsrResult     = "asr_result"
	TypeLlmProcessing = "llm_processing"
	TypeLlmResult     = "llm_result"
	TypeTtsResult     = "tts_result"
	TypeCodeYellow    = "code_yellow"
	TypePong          = "pong"
)

// Outbound request discriminators.
const (
	RequestASR  = "asr"
	RequestLLM  = "llm"
	RequestTTS  = "tts"
	RequestPing = "ping"
)

// Engine risk classifications carried by llm_result.
const (
	RiskGreen  = "green"
	RiskYellow = "yellow"
	RiskRed    = "red"
)

// ActionCrisis in an llm_result action list forces the crisis flow.
const ActionCrisis = "crisis"

var (
	ErrMissingType = errors.New("message has no type")
	ErrNotObject   = errors.New("message is not a JSON object")
)

// Message is one decoded engine message. The set of implementations is closed.
type Message interface {
	MessageType() string
	isMessage()
}

type Ready struct{}

type Error struct {
	Message string `json:"message"`
}

type AsrProcessing struct{}

type AsrResult struct {
	Text string `json:"text"`
}

type LlmProcessing struct{}

type LlmResult struct {
	Text      string   `json:"text"`
	RiskLevel string   `json:"risk_level,omitempty"`
	Actions   []string `json:"actions,omitempty"`
}

// TtsResult carries a nil Path when synthesis was unavailable.
type TtsResult struct {
	Path    *string `json:"path"`
	Message string  `json:"message,omitempty"`
}

type CodeYellow struct {
	Triggered bool `json:"triggered"`
}

type Pong struct{}

// Unknown is any well-formed message whose type is not recognised.
type Unknown struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"raw"`
}

func (Ready) MessageType() string         { return TypeReady }
func (Error) MessageType() string         { return TypeError }
func (AsrProcessing) MessageType() string { return TypeAsrProcessing }
func (AsrResult) MessageType() string     { return TypeAsrResult }
func (LlmProcessing) MessageType() string { return TypeLlmProcessing }
func (LlmResult) MessageType() string     { return TypeLlmResult }
func (TtsResult) MessageType() string     { return TypeTtsResult }
func (CodeYellow) MessageType() string    { return TypeCodeYellow }
func (Pong) MessageType() string          { return TypePong }
func (u Unknown) MessageType() string     { return u.Type }

func (Ready) isMessage()         {}
func (Error) isMessage()         {}
func (AsrProcessing) isMessage() {}
func (AsrResult) isMessage()     {}
func (LlmProcessing) isMessage() {}
func (LlmResult) isMessage()     {}
func (TtsResult) isMessage()     {}
func (CodeYellow) isMessage()    {}
func (Pong) isMessage()          {}
func (Unknown) isMessage()       {}

// HasAction reports whether the result carries the named action.
func (r LlmResult) HasAction(action string) bool {
	for _, candidate := range r.Actions {
		if strings.EqualFold(strings.TrimSpace(candidate), action) {
			return true
		}
	}
	return false
}

// IsCrisis reports whether the result must bypass normal rendering.
func (r LlmResult) IsCrisis() bool {
	return r.hasRisk(RiskRed) || r.HasAction(ActionCrisis)
}

// IsCaution reports a yellow risk classification.
func (r LlmResult) IsCaution() bool {
	return r.hasRisk(RiskYellow)
}

func (r LlmResult) hasRisk(level string) bool {
	return strings.EqualFold(strings.TrimSpace(r.RiskLevel), level)
}

type envelope struct {
	Type *string `json:"type"`
}

// Decode parses a single JSON line into its variant.
func Decode(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if env.Type == nil || *env.Type == "" {
		return nil, ErrMissingType
	}

	switch *env.Type {
	case TypeReady:
		return Ready{}, nil
	case TypeError:
		return decodeInto[Error](line)
	case TypeAsrProcessing:
		return AsrProcessing{}, nil
	case TypeAsrResult:
		return decodeInto[AsrResult](line)
	case TypeLlmProcessing:
		return LlmProcessing{}, nil
	case TypeLlmResult:
		return decodeInto[LlmResult](line)
	case TypeTtsResult:
		return decodeInto[TtsResult](line)
	case TypeCodeYellow:
		return decodeInto[CodeYellow](line)
	case TypePong:
		return Pong{}, nil
	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return Unknown{Type: *env.Type, Raw: raw}, nil
	}
}

func decodeInto[T Message](line []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.MessageType(), err)
	}
	return msg, nil
}

// Encode renders a message with its discriminator for forwarding to a UI.
func Encode(msg Message) ([]byte, error) {
	if unknown, ok := msg.(Unknown); ok {
		return append([]byte(nil), unknown.Raw...), nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeValue, _ := json.Marshal(msg.MessageType())
	fields["type"] = typeValue
	return json.Marshal(fields)
}

// Request is an outbound message to the engine.
type Request struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Text   string `json:"text,omitempty"`
	Intent string `json:"intent,omitempty"`
}

func ASR(path string) Request { return Request{Type: RequestASR, Path: path} }

func LLM(text, intent string) Request {
	return Request{Type: RequestLLM, Text: text, Intent: intent}
}

func TTS(text string) Request { return Request{Type: RequestTTS, Text: text} }

func Ping() Request { return Request{Type: RequestPing} }
