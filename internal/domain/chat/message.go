package chat

import "time"

// Verdict is the moderation outcome recorded against a message. The
// plaintext itself is discarded after encryption; only the verdict and its
// confidence survive.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictFlag   Verdict = "flag"
	VerdictBlock  Verdict = "block"
)

// WrappedKey is the per-recipient envelope around the message content key:
// the symmetric key encrypted under that recipient's public key, tagged with
// the key version that wrapped it so rotation never strands old messages.
type WrappedKey struct {
	Key        []byte `json:"key" bson:"key"`
	KeyVersion int    `json:"key_version" bson:"key_version"`
}

// Message is one encrypted entry in a conversation. Seq is assigned exactly
// once by the conversation's ordering authority and is strictly increasing
// within the conversation.
type Message struct {
	ID             string                `json:"id" bson:"_id"`
	ConversationID string                `json:"conversation_id" bson:"conversation_id"`
	SenderID       string                `json:"sender_id" bson:"sender_id"`
	MessageType    string                `json:"message_type" bson:"message_type"`
	Ciphertext     []byte                `json:"ciphertext" bson:"ciphertext"`
	WrappedKeys    map[string]WrappedKey `json:"wrapped_keys" bson:"wrapped_keys"`
	Verdict        Verdict               `json:"verdict" bson:"verdict"`
	Confidence     float64               `json:"confidence" bson:"confidence"`
	Seq            uint64                `json:"seq" bson:"seq"`
	CreatedAt      time.Time             `json:"created_at" bson:"created_at"`
	EditedAt       *time.Time            `json:"edited_at,omitempty" bson:"edited_at,omitempty"`
	Deleted        bool                  `json:"deleted" bson:"deleted"`
}

// Flagged reports whether the message was tagged for review.
func (m Message) Flagged() bool {
	return m.Verdict == VerdictFlag
}

// Reaction is one (message, participant, emoji) entry. Set semantics: a
// participant holds at most one reaction per emoji per message.
type Reaction struct {
	MessageID string    `json:"message_id" bson:"message_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Emoji     string    `json:"emoji" bson:"emoji"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ReadPointer tracks the highest sequence a participant has acknowledged in
// a conversation. Monotonic non-decreasing.
type ReadPointer struct {
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	UserID         string    `json:"user_id" bson:"user_id"`
	Seq            uint64    `json:"seq" bson:"seq"`
	UpdatedAt      time.Time `json:"updated_at" bson:"updated_at"`
}
