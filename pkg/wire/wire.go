// Package wire defines the JSON contract spoken between the backend and the
// external WhatsApp bridge process: WebSocket frames pushed by the bridge and
// the HTTP request/response bodies of its session endpoints.
package wire

import "encoding/json"

// Frame types pushed by the bridge over the session WebSocket.
const (
	FrameStatusUpdate = "status_update"
	FrameMessages     = "messages"
)

// Message directions as reported by the bridge.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Frame is the envelope of every WebSocket message from the bridge.
// Payload decoding depends on Type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StatusPayload carries a session status transition. QR is present only while
// the session is waiting for the user to scan; UserJID only once authenticated.
type StatusPayload struct {
	Status  string `json:"status"`
	QR      string `json:"qr,omitempty"`
	UserJID string `json:"user_jid,omitempty"`
}

// MessageItem is one element of a FrameMessages payload array.
type MessageItem struct {
	Sender            string `json:"sender"`
	Message           string `json:"message"`
	Direction         string `json:"direction"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Group             string `json:"group,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
	// ActualSender is set for group traffic where Sender is the group JID:
	// it identifies the participant who actually wrote the message.
	ActualSender    string `json:"actual_sender,omitempty"`
	OriginatingTime int64  `json:"originating_time"`
}

// InitializeRequest configures a bridge session before it starts listening.
type InitializeRequest struct {
	SessionID     string   `json:"session_id"`
	AllowedGroups []string `json:"allowed_groups,omitempty"`
	WebhookEvents []string `json:"webhook_events,omitempty"`
}

// SendRequest posts an outbound message. For file sends Content carries the
// base64 payload and Filename/MimeType are set; Caption is optional.
type SendRequest struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// SendResponse acknowledges an accepted outbound message with the id the
// bridge assigned to it on the wire.
type SendResponse struct {
	ProviderMessageID string `json:"provider_message_id"`
}

// HistoryRequest asks for up to Limit persisted messages of one group.
type HistoryRequest struct {
	GroupID string `json:"group_id"`
	Limit   int    `json:"limit"`
}

// HistoryItem is one element of a history fetch result. Shape matches
// MessageItem minus direction (history is always inbound perspective).
type HistoryItem struct {
	Sender            string `json:"sender"`
	Message           string `json:"message"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ActualSender      string `json:"actual_sender,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
	FromMe            bool   `json:"from_me,omitempty"`
	OriginatingTime   int64  `json:"originating_time"`
}

// GroupInfo describes one group the session participates in.
type GroupInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
