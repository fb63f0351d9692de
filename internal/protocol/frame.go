package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Frame is the wire envelope for all gateway traffic. Exactly one of the
// three shapes is populated depending on Type: "req" (ID, Method, Params),
// "res" (ID, OK, Payload or Error), "event" (Event, Payload).
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Message string `json:"message"`
}

const (
	FrameReq   = "req"
	FrameRes   = "res"
	FrameEvent = "event"
)

// Known gateway event names.
const (
	EventChallenge = "connect.challenge"
	EventChat      = "chat"
)

// Known gateway request methods.
const (
	MethodConnect     = "connect"
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodChatAbort   = "chat.abort"
)

// DecodeFrame parses a raw inbound frame and rejects shapes that do not
// carry the fields their type requires. Unknown types are an error so the
// caller can drop the frame instead of guessing.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	switch f.Type {
	case FrameReq:
		if strings.TrimSpace(f.ID) == "" || strings.TrimSpace(f.Method) == "" {
			return Frame{}, errors.New("req frame missing id or method")
		}
	case FrameRes:
		if strings.TrimSpace(f.ID) == "" {
			return Frame{}, errors.New("res frame missing id")
		}
	case FrameEvent:
		if strings.TrimSpace(f.Event) == "" {
			return Frame{}, errors.New("event frame missing event name")
		}
	default:
		return Frame{}, errors.New("unknown frame type")
	}
	return f, nil
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
