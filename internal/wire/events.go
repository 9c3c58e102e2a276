package wire

import "time"

// Event is one server push. Every concrete event carries its own type tag so
// the client can switch on it.
type Event interface {
	EventType() string
}

// Outbound event kinds.
const (
	EventChatMessage     = "chat_message"
	EventTypingIndicator = "typing_indicator"
	EventReadReceipt     = "read_receipt"
	EventMessageReaction = "message_reaction"
	EventUserStatus      = "user_status"
	EventError           = "error"
)

// ChatMessageEvent delivers a persisted message. Ciphertext is shared by all
// recipients; WrappedKey is the envelope for the receiving participant only,
// so the event is personalized per channel before send.
type ChatMessageEvent struct {
	Type           string    `json:"type"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	MessageType    string    `json:"message_type"`
	Message        []byte    `json:"message"`
	WrappedKey     []byte    `json:"wrapped_key,omitempty"`
	KeyVersion     int       `json:"key_version,omitempty"`
	Seq            uint64    `json:"seq"`
	Edited         bool      `json:"edited,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (ChatMessageEvent) EventType() string { return EventChatMessage }

type TypingIndicatorEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Typing         bool      `json:"typing"`
	Timestamp      time.Time `json:"timestamp"`
}

func (TypingIndicatorEvent) EventType() string { return EventTypingIndicator }

type ReadReceiptEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	MessageID      string    `json:"message_id"`
	Seq            uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
}

func (ReadReceiptEvent) EventType() string { return EventReadReceipt }

type MessageReactionEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	MessageID      string    `json:"message_id"`
	Emoji          string    `json:"emoji"`
	Removed        bool      `json:"removed,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (MessageReactionEvent) EventType() string { return EventMessageReaction }

type UserStatusEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (UserStatusEvent) EventType() string { return EventUserStatus }

// ErrorEvent reports a rejected frame back to its sender with a stable
// reason code. Silent drops are prohibited everywhere in the core.
type ErrorEvent struct {
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	Detail     string  `json:"detail,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (ErrorEvent) EventType() string { return EventError }
