// Package analytics computes conversation engagement aggregates. Stats are
// always recomputed from the store rather than incremented in place, so a
// replayed or duplicated task converges on the same snapshot.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"chatcore/internal/domain/chat"
	"chatcore/internal/store"
)

// Publisher pushes finished snapshots onto the event bus. Nil publisher
// means compute-only (the REST surface still serves the result).
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// SenderStats is one participant's share of a conversation.
type SenderStats struct {
	UserID        string `json:"user_id"`
	MessageCount  int    `json:"message_count"`
	ReactionCount int    `json:"reaction_count"`
}

// ConversationStats is the recomputed snapshot for one conversation.
// Deleted messages are excluded everywhere.
type ConversationStats struct {
	ConversationID      string         `json:"conversation_id"`
	TotalMessages       int            `json:"total_messages"`
	TotalReactions      int            `json:"total_reactions"`
	FlaggedMessages     int            `json:"flagged_messages"`
	ParticipantCount    int            `json:"participant_count"`
	ParticipantStats    []SenderStats  `json:"participant_stats"`
	MessagesByType      map[string]int `json:"messages_by_type"`
	MessagesByHour      map[int]int    `json:"messages_by_hour"`
	MessagesByWeekday   map[int]int    `json:"messages_by_weekday"`
	AvgResponseSeconds  float64        `json:"average_response_time_seconds"`
	FirstMessageAt      time.Time      `json:"first_message_at,omitempty"`
	LastActivityAt      time.Time      `json:"last_activity,omitempty"`
	GeneratedAt         time.Time      `json:"generated_at"`
}

type Service struct {
	convos    store.ConversationStore
	messages  store.MessageStore
	reactions store.ReceiptStore
	publisher Publisher
	topic     string
	log       *slog.Logger
}

func NewService(st store.Store, publisher Publisher, topic string, log *slog.Logger) *Service {
	return &Service{
		convos:    st,
		messages:  st,
		reactions: st,
		publisher: publisher,
		topic:     topic,
		log:       log,
	}
}

// Recompute rebuilds the snapshot for one conversation from scratch and, if
// a publisher is wired, emits it keyed by conversation ID.
func (s *Service) Recompute(ctx context.Context, conversationID string) (ConversationStats, error) {
	convo, err := s.convos.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationStats{}, err
	}
	msgs, err := s.messages.SearchMessages(ctx, store.SearchFilter{ConversationID: conversationID})
	if err != nil {
		return ConversationStats{}, fmt.Errorf("analytics: load messages: %w", err)
	}
	// Store ordering is not part of the search contract; response-time
	// pairing needs strict chronological order.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })

	stats := ConversationStats{
		ConversationID:    conversationID,
		ParticipantCount:  len(convo.Participants),
		MessagesByType:    make(map[string]int),
		MessagesByHour:    make(map[int]int),
		MessagesByWeekday: make(map[int]int),
		GeneratedAt:       time.Now().UTC(),
	}

	bySender := make(map[string]*SenderStats)
	senderOf := make(map[string]string, len(msgs))
	var prev *chat.Message
	var responseTotal float64
	var responseCount int
	for i := range msgs {
		m := &msgs[i]
		if m.Deleted {
			continue
		}
		senderOf[m.ID] = m.SenderID
		stats.TotalMessages++
		if m.Flagged() {
			stats.FlaggedMessages++
		}
		stats.MessagesByType[m.MessageType]++
		stats.MessagesByHour[m.CreatedAt.UTC().Hour()]++
		stats.MessagesByWeekday[int(m.CreatedAt.UTC().Weekday())]++

		ss, ok := bySender[m.SenderID]
		if !ok {
			ss = &SenderStats{UserID: m.SenderID}
			bySender[m.SenderID] = ss
		}
		ss.MessageCount++

		if stats.FirstMessageAt.IsZero() || m.CreatedAt.Before(stats.FirstMessageAt) {
			stats.FirstMessageAt = m.CreatedAt
		}
		if m.CreatedAt.After(stats.LastActivityAt) {
			stats.LastActivityAt = m.CreatedAt
		}
		if prev != nil && prev.SenderID != m.SenderID {
			responseTotal += m.CreatedAt.Sub(prev.CreatedAt).Seconds()
			responseCount++
		}
		prev = m
	}
	if responseCount > 0 {
		stats.AvgResponseSeconds = responseTotal / float64(responseCount)
	}

	for id, sender := range senderOf {
		reactions, err := s.reactions.ListReactions(ctx, id)
		if err != nil {
			return ConversationStats{}, fmt.Errorf("analytics: load reactions: %w", err)
		}
		stats.TotalReactions += len(reactions)
		if ss, ok := bySender[sender]; ok {
			ss.ReactionCount += len(reactions)
		}
	}

	stats.ParticipantStats = make([]SenderStats, 0, len(bySender))
	for _, ss := range bySender {
		stats.ParticipantStats = append(stats.ParticipantStats, *ss)
	}
	sort.Slice(stats.ParticipantStats, func(i, j int) bool {
		a, b := stats.ParticipantStats[i], stats.ParticipantStats[j]
		if a.MessageCount != b.MessageCount {
			return a.MessageCount > b.MessageCount
		}
		return a.UserID < b.UserID
	})

	if s.publisher != nil {
		payload, err := json.Marshal(stats)
		if err != nil {
			return ConversationStats{}, fmt.Errorf("analytics: encode snapshot: %w", err)
		}
		if err := s.publisher.Publish(ctx, s.topic, conversationID, payload); err != nil {
			return ConversationStats{}, fmt.Errorf("analytics: publish snapshot: %w", err)
		}
		s.log.Debug("analytics snapshot published", "conversation_id", conversationID, "messages", stats.TotalMessages)
	}
	return stats, nil
}

// PlatformStats is the platform-wide snapshot over an optional time window.
type PlatformStats struct {
	TotalMessages      int            `json:"total_messages"`
	TotalConversations int            `json:"total_conversations"`
	ActiveUsers        int            `json:"active_users"`
	FlaggedMessages    int            `json:"flagged_messages"`
	MessagesByType     map[string]int `json:"messages_by_type"`
	MessagesByHour     map[int]int    `json:"messages_by_hour"`
	MessagesByWeekday  map[int]int    `json:"messages_by_weekday"`
	WindowFrom         time.Time      `json:"window_from,omitempty"`
	WindowTo           time.Time      `json:"window_to,omitempty"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// RecomputePlatform rebuilds the platform-wide aggregate from scratch.
// Zero from/to means an unbounded window. Published under the fixed key
// "platform" so downstream consumers can compact to the latest snapshot.
func (s *Service) RecomputePlatform(ctx context.Context, from, to time.Time) (PlatformStats, error) {
	msgs, err := s.messages.SearchMessages(ctx, store.SearchFilter{From: from, To: to})
	if err != nil {
		return PlatformStats{}, fmt.Errorf("analytics: load messages: %w", err)
	}

	stats := PlatformStats{
		MessagesByType:    make(map[string]int),
		MessagesByHour:    make(map[int]int),
		MessagesByWeekday: make(map[int]int),
		WindowFrom:        from,
		WindowTo:          to,
		GeneratedAt:       time.Now().UTC(),
	}
	conversations := make(map[string]struct{})
	senders := make(map[string]struct{})
	for i := range msgs {
		m := &msgs[i]
		if m.Deleted {
			continue
		}
		stats.TotalMessages++
		if m.Flagged() {
			stats.FlaggedMessages++
		}
		stats.MessagesByType[m.MessageType]++
		stats.MessagesByHour[m.CreatedAt.UTC().Hour()]++
		stats.MessagesByWeekday[int(m.CreatedAt.UTC().Weekday())]++
		conversations[m.ConversationID] = struct{}{}
		senders[m.SenderID] = struct{}{}
	}
	stats.TotalConversations = len(conversations)
	stats.ActiveUsers = len(senders)

	if s.publisher != nil {
		payload, err := json.Marshal(stats)
		if err != nil {
			return PlatformStats{}, fmt.Errorf("analytics: encode snapshot: %w", err)
		}
		if err := s.publisher.Publish(ctx, s.topic, "platform", payload); err != nil {
			return PlatformStats{}, fmt.Errorf("analytics: publish snapshot: %w", err)
		}
		s.log.Debug("platform snapshot published", "messages", stats.TotalMessages, "conversations", stats.TotalConversations)
	}
	return stats, nil
}

// EngagementStats summarizes one participant's activity across all of
// their conversations. MostActiveHour is -1 until the user has sent
// something.
type EngagementStats struct {
	UserID              string    `json:"user_id"`
	MessagesSent        int       `json:"messages_sent"`
	MessagesReceived    int       `json:"messages_received"`
	ReactionsGiven      int       `json:"reactions_given"`
	ReactionsReceived   int       `json:"reactions_received"`
	TotalConversations  int       `json:"total_conversations"`
	ActiveConversations int       `json:"active_conversations"`
	EngagementScore     float64   `json:"engagement_score"`
	MostActiveHour      int       `json:"most_active_hour"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// activeWindow is how far back a conversation's last activity may lie and
// still count as active.
const activeWindow = 7 * 24 * time.Hour

// UserEngagement recomputes the engagement summary for one participant.
func (s *Service) UserEngagement(ctx context.Context, userID string) (EngagementStats, error) {
	convos, err := s.convos.ListConversations(ctx, userID)
	if err != nil {
		return EngagementStats{}, fmt.Errorf("analytics: list conversations: %w", err)
	}

	stats := EngagementStats{
		UserID:             userID,
		TotalConversations: len(convos),
		MostActiveHour:     -1,
		GeneratedAt:        time.Now().UTC(),
	}
	activeSince := stats.GeneratedAt.Add(-activeWindow)
	sentByHour := make(map[int]int)
	for _, convo := range convos {
		msgs, err := s.messages.SearchMessages(ctx, store.SearchFilter{ConversationID: convo.ID})
		if err != nil {
			return EngagementStats{}, fmt.Errorf("analytics: load messages: %w", err)
		}
		active := false
		for i := range msgs {
			m := &msgs[i]
			if m.Deleted {
				continue
			}
			if m.CreatedAt.After(activeSince) {
				active = true
			}
			if m.SenderID == userID {
				stats.MessagesSent++
				sentByHour[m.CreatedAt.UTC().Hour()]++
			} else {
				stats.MessagesReceived++
			}
			reactions, err := s.reactions.ListReactions(ctx, m.ID)
			if err != nil {
				return EngagementStats{}, fmt.Errorf("analytics: load reactions: %w", err)
			}
			for _, r := range reactions {
				if r.UserID == userID {
					stats.ReactionsGiven++
				}
				if m.SenderID == userID {
					stats.ReactionsReceived++
				}
			}
		}
		if active {
			stats.ActiveConversations++
		}
	}

	best := -1
	for hour, n := range sentByHour {
		if n > best || (n == best && hour < stats.MostActiveHour) {
			best = n
			stats.MostActiveHour = hour
		}
	}
	stats.EngagementScore = float64(stats.MessagesSent) +
		0.5*float64(stats.ReactionsGiven+stats.ReactionsReceived) +
		2*float64(stats.ActiveConversations)
	return stats, nil
}
