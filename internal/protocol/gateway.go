package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ChallengePayload is the connect.challenge event payload.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// ConnectParams is sent as the "connect" handshake request.
type ConnectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      ConnectClient `json:"client"`
	Role        string        `json:"role"`
	Auth        ConnectAuth   `json:"auth"`
}

type ConnectClient struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	DisplayName string `json:"displayName"`
}

type ConnectAuth struct {
	Token string `json:"token"`
}

// HelloPayload is the successful handshake response payload. Type carries
// the sentinel "hello-ok".
type HelloPayload struct {
	Type     string      `json:"type"`
	Server   HelloServer `json:"server"`
	Protocol int         `json:"protocol"`
}

type HelloServer struct {
	Host string `json:"host"`
}

const HelloOK = "hello-ok"

// ChatEventPayload is the "chat" event payload. State "final" marks the
// assistant turn as complete.
type ChatEventPayload struct {
	State      string          `json:"state"`
	SessionKey string          `json:"sessionKey"`
	RunID      string          `json:"runId"`
	Message    json.RawMessage `json:"message"`
}

const ChatStateFinal = "final"

// GatewayMessage is one conversation entry as the gateway reports it.
type GatewayMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const RoleAssistant = "assistant"

// ChatSendParams submits an operator message for a session. Deliver stays
// false: the console renders replies itself rather than having the gateway
// push them to another surface.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	IdempotencyKey string `json:"idempotencyKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
}

type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

// HistoryPayload is the chat.history response. Entries either are a
// GatewayMessage or wrap one under a "message" key; DecodeHistoryMessages
// accepts both.
type HistoryPayload struct {
	Messages []json.RawMessage `json:"messages"`
}

type ChatAbortParams struct {
	SessionKey string `json:"sessionKey"`
}

func DecodeHistoryMessages(payload []byte) []GatewayMessage {
	var hist HistoryPayload
	if err := json.Unmarshal(payload, &hist); err != nil {
		return nil
	}
	out := make([]GatewayMessage, 0, len(hist.Messages))
	for _, raw := range hist.Messages {
		var wrapped struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Message) > 0 && string(wrapped.Message) != "null" {
			raw = wrapped.Message
		}
		var msg GatewayMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if strings.TrimSpace(msg.Role) == "" {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// LatestAssistantText returns the extracted text of the newest
// assistant-authored entry, or "" when there is none.
func LatestAssistantText(messages []GatewayMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant {
			return ExtractText(messages[i])
		}
	}
	return ""
}

// replyTagRe matches [[reply_to ...]] control tags meant for other chat
// surfaces; they never belong in the console transcript.
var replyTagRe = regexp.MustCompile(`(?i)\[\[\s*reply_to[^\]]*\]\]`)

// ExtractText concatenates the text-typed content blocks of a gateway
// message in order, strips control tags, and trims the result.
func ExtractText(msg GatewayMessage) string {
	parts := make([]string, 0, len(msg.Content))
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		parts = append(parts, block.Text)
	}
	text := strings.Join(parts, "\n")
	text = replyTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
