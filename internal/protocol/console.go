package protocol

import "encoding/json"

// ConsoleFrame is the browser-facing frame on the local fan-out channel.
// Inbound: hello is never sent by clients; ping expects pong; message
// submits operator text. Outbound broadcast frames reuse the same struct
// with the relevant fields set.
type ConsoleFrame struct {
	Type        string          `json:"type"`
	OK          bool            `json:"ok,omitempty"`
	T           int64           `json:"t,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	SavedID     string          `json:"savedId,omitempty"`
	Text        string          `json:"text,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	Entry       json.RawMessage `json:"entry,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
	Active      json.RawMessage `json:"active,omitempty"`
}

// Console frame types.
const (
	ConsoleHello     = "hello"
	ConsolePing      = "ping"
	ConsolePong      = "pong"
	ConsoleAck       = "ack"
	ConsoleMessage   = "message"
	ConsoleWorklog   = "worklog"
	ConsoleChecklist = "checklist"
	ConsoleScheduled = "scheduled"
	ConsoleRun       = "run"
)

// Close codes the hub uses so clients can tell capacity rejection from
// auth rejection and avoid reconnect loops.
const (
	CloseUnauthorized = 4401
	CloseCapacity     = 4429
)
