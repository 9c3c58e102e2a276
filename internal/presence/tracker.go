// Package presence tracks per-conversation ephemeral state: typing flags
// with server-enforced expiry, monotonic read pointers, and idempotent
// reaction sets.
package presence

import (
	"context"
	"sync"
	"time"

	"chatcore/internal/domain/chat"
	"chatcore/internal/store"
)

// Tracker owns typing state in memory (never persisted) and fronts the
// receipt store for read pointers and reactions so monotonicity and
// idempotence are enforced in one place.
type Tracker struct {
	receipts     store.ReceiptStore
	typingExpiry time.Duration

	// onTypingExpire fires when a typing flag ages out without an explicit
	// stop, so the owner can broadcast typing=false.
	onTypingExpire func(conversationID, userID string)

	mu     sync.Mutex
	typing map[typingKey]*time.Timer

	// readMu serializes read-pointer check-and-persist. Kept separate from
	// mu so a slow receipt write never stalls typing updates.
	readMu   sync.Mutex
	pointers map[typingKey]uint64
}

type typingKey struct {
	conversationID string
	userID         string
}

func NewTracker(receipts store.ReceiptStore, typingExpiry time.Duration, onTypingExpire func(conversationID, userID string)) *Tracker {
	if typingExpiry <= 0 {
		typingExpiry = 10 * time.Second
	}
	return &Tracker{
		receipts:       receipts,
		typingExpiry:   typingExpiry,
		onTypingExpire: onTypingExpire,
		typing:         make(map[typingKey]*time.Timer),
		pointers:       make(map[typingKey]uint64),
	}
}

// SetTyping flips the typing flag and reports whether the state actually
// changed. Repeated identical states refresh the expiry but return false so
// the caller broadcasts on transitions only.
func (t *Tracker) SetTyping(conversationID, userID string, isTyping bool) bool {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, active := t.typing[key]
	if isTyping {
		if active {
			timer.Reset(t.typingExpiry)
			return false
		}
		t.typing[key] = time.AfterFunc(t.typingExpiry, func() { t.expireTyping(key) })
		return true
	}
	if !active {
		return false
	}
	timer.Stop()
	delete(t.typing, key)
	return true
}

// IsTyping reports the current flag. Used by tests and the REST presence
// endpoint.
func (t *Tracker) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, active := t.typing[typingKey{conversationID, userID}]
	return active
}

// ClearTyping drops the participant's typing flag without firing the expiry
// callback. Called on channel leave.
func (t *Tracker) ClearTyping(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.typing[key]; ok {
		timer.Stop()
		delete(t.typing, key)
	}
}

func (t *Tracker) expireTyping(key typingKey) {
	t.mu.Lock()
	_, still := t.typing[key]
	delete(t.typing, key)
	t.mu.Unlock()
	if still && t.onTypingExpire != nil {
		t.onTypingExpire(key.conversationID, key.userID)
	}
}

// MarkRead advances the participant's read pointer and reports whether it
// moved. Sequences at or below the current pointer are a no-op; the caller
// broadcasts only on advancement.
func (t *Tracker) MarkRead(ctx context.Context, conversationID, userID string, seq uint64) (bool, error) {
	key := typingKey{conversationID, userID}

	// The whole check-and-set runs under the lock. Two concurrent acks for
	// the same pointer would otherwise both read the pre-advance value,
	// both persist, and both report an advance, and the later persist could
	// even move the stored pointer backwards.
	t.readMu.Lock()
	defer t.readMu.Unlock()

	current, cached := t.pointers[key]
	if !cached {
		rp, err := t.receipts.GetReadPointer(ctx, conversationID, userID)
		if err != nil {
			return false, err
		}
		current = rp.Seq
		t.pointers[key] = current
	}
	if seq <= current {
		return false, nil
	}
	rp := chat.ReadPointer{
		ConversationID: conversationID,
		UserID:         userID,
		Seq:            seq,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := t.receipts.SaveReadPointer(ctx, rp); err != nil {
		return false, err
	}
	t.pointers[key] = seq
	return true, nil
}

// AddReaction stores the reaction and reports whether it is new. Duplicate
// submissions produce no event.
func (t *Tracker) AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	return t.receipts.AddReaction(ctx, chat.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	})
}

// RemoveReaction deletes the reaction and reports whether anything was
// removed. Removing an absent reaction is a no-op.
func (t *Tracker) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	return t.receipts.RemoveReaction(ctx, messageID, userID, emoji)
}
