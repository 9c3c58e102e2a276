package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/chat"
	"chatcore/internal/store"
)

type capturePublisher struct {
	topic   string
	key     string
	payload []byte
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.topic, p.key, p.payload = topic, key, payload
	return nil
}

func seedConversation(t *testing.T, st *store.Memory) chat.Conversation {
	t.Helper()
	ctx := context.Background()
	convo, _, err := st.GetOrCreateConversation(ctx, chat.KindDirect, []string{"alice", "bob"})
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	msgs := []struct {
		id      string
		sender  string
		verdict chat.Verdict
		at      time.Time
	}{
		{"m1", "alice", chat.VerdictAccept, base},
		{"m2", "bob", chat.VerdictAccept, base.Add(30 * time.Second)},
		{"m3", "alice", chat.VerdictFlag, base.Add(90 * time.Second)},
	}
	for i, m := range msgs {
		require.NoError(t, st.AppendMessage(ctx, chat.Message{
			ID:             m.id,
			ConversationID: convo.ID,
			SenderID:       m.sender,
			MessageType:    "text",
			Verdict:        m.verdict,
			Seq:            uint64(i + 1),
			CreatedAt:      m.at,
		}))
	}
	_, err = st.AddReaction(ctx, chat.Reaction{MessageID: "m1", UserID: "bob", Emoji: "👍"})
	require.NoError(t, err)
	_, err = st.AddReaction(ctx, chat.Reaction{MessageID: "m2", UserID: "alice", Emoji: "❤️"})
	require.NoError(t, err)
	return convo
}

func TestRecomputeAggregatesConversation(t *testing.T) {
	st := store.NewMemory()
	convo := seedConversation(t, st)
	pub := &capturePublisher{}
	svc := NewService(st, pub, "chat.analytics.v1", slog.New(slog.DiscardHandler))

	stats, err := svc.Recompute(context.Background(), convo.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 2, stats.TotalReactions)
	assert.Equal(t, 1, stats.FlaggedMessages)
	assert.Equal(t, 2, stats.ParticipantCount)
	assert.Equal(t, map[string]int{"text": 3}, stats.MessagesByType)
	assert.Equal(t, 3, stats.MessagesByHour[14])

	require.Len(t, stats.ParticipantStats, 2)
	assert.Equal(t, "alice", stats.ParticipantStats[0].UserID)
	assert.Equal(t, 2, stats.ParticipantStats[0].MessageCount)
	assert.Equal(t, 1, stats.ParticipantStats[0].ReactionCount)

	// Responses: bob after 30s, alice after 60s.
	assert.InDelta(t, 45.0, stats.AvgResponseSeconds, 1e-9)

	assert.Equal(t, "chat.analytics.v1", pub.topic)
	assert.Equal(t, convo.ID, pub.key)
	var published ConversationStats
	require.NoError(t, json.Unmarshal(pub.payload, &published))
	assert.Equal(t, stats.TotalMessages, published.TotalMessages)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	convo := seedConversation(t, st)
	svc := NewService(st, nil, "", slog.New(slog.DiscardHandler))

	first, err := svc.Recompute(context.Background(), convo.ID)
	require.NoError(t, err)
	second, err := svc.Recompute(context.Background(), convo.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalMessages, second.TotalMessages)
	assert.Equal(t, first.ParticipantStats, second.ParticipantStats)
}

func TestRecomputeSkipsDeletedMessages(t *testing.T) {
	st := store.NewMemory()
	convo := seedConversation(t, st)
	ctx := context.Background()

	msg, err := st.GetMessage(ctx, "m3")
	require.NoError(t, err)
	msg.Deleted = true
	require.NoError(t, st.UpdateMessage(ctx, msg))

	svc := NewService(st, nil, "", slog.New(slog.DiscardHandler))
	stats, err := svc.Recompute(ctx, convo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Zero(t, stats.FlaggedMessages)
}

func TestRecomputeUnknownConversation(t *testing.T) {
	svc := NewService(store.NewMemory(), nil, "", slog.New(slog.DiscardHandler))
	_, err := svc.Recompute(context.Background(), "nope")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestRecomputePlatformSpansConversations(t *testing.T) {
	st := store.NewMemory()
	seedConversation(t, st)
	ctx := context.Background()
	other, _, err := st.GetOrCreateConversation(ctx, chat.KindDirect, []string{"bob", "carol"})
	require.NoError(t, err)
	require.NoError(t, st.AppendMessage(ctx, chat.Message{
		ID:             "m4",
		ConversationID: other.ID,
		SenderID:       "carol",
		MessageType:    "image",
		Verdict:        chat.VerdictAccept,
		Seq:            1,
		CreatedAt:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}))

	pub := &capturePublisher{}
	svc := NewService(st, pub, "chat.analytics.v1", slog.New(slog.DiscardHandler))
	stats, err := svc.RecomputePlatform(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalMessages)
	assert.Equal(t, 2, stats.TotalConversations)
	assert.Equal(t, 3, stats.ActiveUsers)
	assert.Equal(t, 1, stats.FlaggedMessages)
	assert.Equal(t, map[string]int{"text": 3, "image": 1}, stats.MessagesByType)

	assert.Equal(t, "platform", pub.key)
	var published PlatformStats
	require.NoError(t, json.Unmarshal(pub.payload, &published))
	assert.Equal(t, stats.TotalMessages, published.TotalMessages)
}

func TestRecomputePlatformHonorsWindow(t *testing.T) {
	st := store.NewMemory()
	seedConversation(t, st)
	svc := NewService(st, nil, "", slog.New(slog.DiscardHandler))

	// Only m3 falls after the window start.
	from := time.Date(2026, 3, 1, 14, 1, 0, 0, time.UTC)
	stats, err := svc.RecomputePlatform(context.Background(), from, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.FlaggedMessages)
}

func TestUserEngagementSummary(t *testing.T) {
	st := store.NewMemory()
	seedConversation(t, st)
	svc := NewService(st, nil, "", slog.New(slog.DiscardHandler))

	stats, err := svc.UserEngagement(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.MessagesSent)
	assert.Equal(t, 1, stats.MessagesReceived)
	assert.Equal(t, 1, stats.ReactionsGiven)
	assert.Equal(t, 1, stats.ReactionsReceived)
	assert.Equal(t, 1, stats.TotalConversations)
	assert.Zero(t, stats.ActiveConversations, "seeded activity is older than the active window")
	assert.Equal(t, 14, stats.MostActiveHour)
	assert.InDelta(t, 3.0, stats.EngagementScore, 1e-9)
}

func TestUserEngagementWithoutActivity(t *testing.T) {
	svc := NewService(store.NewMemory(), nil, "", slog.New(slog.DiscardHandler))
	stats, err := svc.UserEngagement(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.MessagesSent)
	assert.Zero(t, stats.TotalConversations)
	assert.Equal(t, -1, stats.MostActiveHour)
}
