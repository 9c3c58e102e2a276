package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/domain/chat"
)

// Memory is an in-process Store used by tests and fixture mode.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string]chat.Message
	byConvo       map[string][]string // conversation -> message IDs in append order
	readPointers  map[string]chat.ReadPointer
	reactions     map[string][]chat.Reaction
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string]chat.Message),
		byConvo:       make(map[string][]string),
		readPointers:  make(map[string]chat.ReadPointer),
		reactions:     make(map[string][]chat.Reaction),
	}
}

func (m *Memory) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	convo, ok := m.conversations[conversationID]
	if !ok {
		return false, chat.ErrNotFound
	}
	return convo.HasParticipant(userID), nil
}

func (m *Memory) GetOrCreateConversation(ctx context.Context, kind chat.Kind, participants []string) (chat.Conversation, bool, error) {
	normalized := chat.NormalizeParticipants(participants)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, convo := range m.conversations {
		if convo.Kind == kind && sameParticipants(convo.Participants, normalized) {
			return convo, false, nil
		}
	}
	convo := chat.Conversation{
		ID:           uuid.NewString(),
		Kind:         kind,
		Participants: normalized,
		CreatedAt:    time.Now().UTC(),
	}
	m.conversations[convo.ID] = convo
	return convo, true, nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	convo, ok := m.conversations[id]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return convo, nil
}

func (m *Memory) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Conversation, 0)
	for _, convo := range m.conversations {
		if convo.HasParticipant(userID) {
			out = append(out, convo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	m.byConvo[msg.ConversationID] = append(m.byConvo[msg.ConversationID], msg.ID)
	return nil
}

func (m *Memory) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit int, beforeSeq uint64) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.sortedMessagesLocked(conversationID)
	if beforeSeq > 0 {
		cut := len(msgs)
		for i, msg := range msgs {
			if msg.Seq >= beforeSeq {
				cut = i
				break
			}
		}
		msgs = msgs[:cut]
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *Memory) SearchMessages(ctx context.Context, filter SearchFilter) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Message, 0)
	for _, msg := range m.messages {
		if msg.Deleted {
			continue
		}
		if filter.ConversationID != "" && msg.ConversationID != filter.ConversationID {
			continue
		}
		if filter.SenderID != "" && msg.SenderID != filter.SenderID {
			continue
		}
		if filter.MessageType != "" && !strings.EqualFold(msg.MessageType, filter.MessageType) {
			continue
		}
		if !filter.From.IsZero() && msg.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && msg.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateMessage(ctx context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; !ok {
		return chat.ErrNotFound
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *Memory) LastSequence(ctx context.Context, conversationID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last uint64
	for _, id := range m.byConvo[conversationID] {
		if seq := m.messages[id].Seq; seq > last {
			last = seq
		}
	}
	return last, nil
}

func (m *Memory) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, msg := range m.messages {
		if !msg.Deleted && msg.CreatedAt.Before(cutoff) {
			msg.Deleted = true
			m.messages[id] = msg
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveReadPointer(ctx context.Context, rp chat.ReadPointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readPointers[rp.ConversationID+"/"+rp.UserID] = rp
	return nil
}

func (m *Memory) GetReadPointer(ctx context.Context, conversationID, userID string) (chat.ReadPointer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rp, ok := m.readPointers[conversationID+"/"+userID]
	if !ok {
		return chat.ReadPointer{ConversationID: conversationID, UserID: userID}, nil
	}
	return rp, nil
}

func (m *Memory) AddReaction(ctx context.Context, r chat.Reaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reactions[r.MessageID] {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			return false, nil
		}
	}
	m.reactions[r.MessageID] = append(m.reactions[r.MessageID], r)
	return true, nil
}

func (m *Memory) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reactions[messageID]
	for i, existing := range list {
		if existing.UserID == userID && existing.Emoji == emoji {
			m.reactions[messageID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListReactions(ctx context.Context, messageID string) ([]chat.Reaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.Reaction(nil), m.reactions[messageID]...), nil
}

func (m *Memory) sortedMessagesLocked(conversationID string) []chat.Message {
	ids := m.byConvo[conversationID]
	msgs := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, m.messages[id])
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs
}

func sameParticipants(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
