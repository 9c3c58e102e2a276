// Package store defines the durable persistence boundary the messaging core
// consumes. The core appends and reads through these interfaces and never
// assumes a particular engine.
package store

import (
	"context"
	"time"

	"chatcore/internal/domain/chat"
)

// SearchFilter narrows a message search. Content is ciphertext at rest, so
// search operates on metadata: sender, type and time window.
type SearchFilter struct {
	ConversationID string
	SenderID       string
	MessageType    string
	From           time.Time
	To             time.Time
	Limit          int
}

// Membership answers whether a participant belongs to a conversation. The
// connection manager delegates its join check here.
type Membership interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// ConversationStore is the durable conversation index.
type ConversationStore interface {
	// GetOrCreateConversation returns the existing thread for a normalized
	// participant set or creates it. Direct conversations are unique per
	// pair.
	GetOrCreateConversation(ctx context.Context, kind chat.Kind, participants []string) (chat.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error)
}

// MessageStore is the durable append-and-read side of the core.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg chat.Message) error
	GetMessage(ctx context.Context, id string) (chat.Message, error)
	// ListMessages returns messages in ascending sequence order. beforeSeq
	// of zero means "from the latest"; limit bounds the page size.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeSeq uint64) ([]chat.Message, error)
	SearchMessages(ctx context.Context, filter SearchFilter) ([]chat.Message, error)
	UpdateMessage(ctx context.Context, msg chat.Message) error
	// LastSequence seeds a conversation's ordering authority and recovers
	// it after an ordering violation.
	LastSequence(ctx context.Context, conversationID string) (uint64, error)
	// DeleteExpired soft-deletes messages created before cutoff and
	// returns how many were affected.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReceiptStore persists read pointers and reactions.
type ReceiptStore interface {
	SaveReadPointer(ctx context.Context, rp chat.ReadPointer) error
	GetReadPointer(ctx context.Context, conversationID, userID string) (chat.ReadPointer, error)
	// AddReaction reports false when the identical reaction already exists.
	AddReaction(ctx context.Context, r chat.Reaction) (bool, error)
	// RemoveReaction reports false when there was nothing to remove.
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID string) ([]chat.Reaction, error)
}

// Store is the full persistence surface used by the core.
type Store interface {
	Membership
	ConversationStore
	MessageStore
	ReceiptStore
}
