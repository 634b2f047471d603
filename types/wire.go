package types

import "encoding/json"

// Client -> server command events.
const (
	EventChannelJoin   = "channel:join"
	EventChannelLeave  = "channel:leave"
	EventMessageCreate = "message:create"
	EventMessageEdit   = "message:edit"
	EventMessageDelete = "message:delete"
)

// Server -> client push events.
const (
	EventConnected     = "connected"
	EventMessageNew    = "message:new"
	EventMessageUpdate = "message:update"
	EventPresenceJoin  = "presence:join"
	EventPresenceLeave = "presence:leave"
	EventAck           = "ack"
)

// WebsocketMessage is the JSON frame a client sends. Seq is chosen by the
// client and echoed back in the Ack so the client can correlate exactly one
// acknowledgment per command.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// Envelope is the {ok, data | error} result shape shared by acks, push
// events and the REST API.
type Envelope struct {
	Ok    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *WireError  `json:"error,omitempty"`
}

type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Ack is the single structured acknowledgment for one client command.
type Ack struct {
	Event string `json:"event"` // always "ack"
	For   string `json:"for"`   // the acknowledged command event
	Seq   int64  `json:"seq"`
	Envelope
}

// PushMessage is a server-initiated event frame.
type PushMessage struct {
	Event string   `json:"event"`
	Data  Envelope `json:"data"`
}

// Command payloads, decoded weakly from the frame's Data.

type JoinPayload struct {
	ChannelId string `json:"channel_id" mapstructure:"channel_id"`
}

type CreateMessagePayload struct {
	ChannelId   string                 `json:"channel_id" mapstructure:"channel_id"`
	Content     string                 `json:"content" mapstructure:"content"`
	Attachments map[string]interface{} `json:"attachments" mapstructure:"attachments"`
}

type EditMessagePayload struct {
	MessageId string  `json:"message_id" mapstructure:"message_id"`
	Content   *string `json:"content" mapstructure:"content"` // nil means missing, "" is a valid short edit
}

type DeleteMessagePayload struct {
	MessageId string `json:"message_id" mapstructure:"message_id"`
}

// Push payloads.

type PresencePayload struct {
	ChannelId string `json:"channel_id"`
	UserId    string `json:"user_id"`
}

type MessageDeletedPayload struct {
	Id string `json:"id"`
}

type ConnectedPayload struct {
	User *User `json:"user"`
}
