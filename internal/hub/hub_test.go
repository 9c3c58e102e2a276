package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/crypto/hybrid"
	"chatcore/internal/domain/chat"
	"chatcore/internal/keys"
	"chatcore/internal/moderation"
	"chatcore/internal/store"
	"chatcore/internal/wire"
)

type capturedTask struct {
	Kind    string
	Payload any
}

type stubQueue struct {
	mu    sync.Mutex
	tasks []capturedTask
}

func (q *stubQueue) Enqueue(_ context.Context, kind string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, capturedTask{Kind: kind, Payload: payload})
	return "job-1", nil
}

func (q *stubQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Kind
	}
	return out
}

// scoreByContent moderates on keywords so tests can steer verdicts.
func scoreByContent(_ context.Context, text string) (float64, error) {
	switch {
	case strings.Contains(text, "blockme"):
		return 0.95, nil
	case strings.Contains(text, "flagme"):
		return 0.6, nil
	case strings.Contains(text, "crashme"):
		return 0, errors.New("oracle down")
	default:
		return 0, nil
	}
}

type hubFixture struct {
	hub   *Hub
	store *store.Memory
	keys  *keys.MemoryStore
	queue *stubQueue
	convo chat.Conversation
}

func newFixture(t *testing.T, participants ...string) *hubFixture {
	t.Helper()
	st := store.NewMemory()
	ks := keys.NewMemoryStore()
	queue := &stubQueue{}
	kind := chat.KindGroup
	if len(participants) == 2 {
		kind = chat.KindDirect
	}
	convo, _, err := st.GetOrCreateConversation(context.Background(), kind, participants)
	require.NoError(t, err)

	h := NewHub(Deps{
		Logger: slog.New(slog.DiscardHandler),
		Store:  st,
		Keys:   ks,
		Gate: &moderation.Gate{
			Oracle:         moderation.OracleFunc(scoreByContent),
			FlagThreshold:  0.5,
			BlockThreshold: 0.9,
		},
		Tasks:             queue,
		TypingExpiry:      50 * time.Millisecond,
		SendQueueSize:     16,
		MaxProtocolErrors: 3,
	})
	t.Cleanup(h.Close)
	return &hubFixture{hub: h, store: st, keys: ks, queue: queue, convo: convo}
}

func (f *hubFixture) join(t *testing.T, userID string) *Channel {
	t.Helper()
	ch, err := f.hub.Join(context.Background(), f.convo.ID, userID)
	require.NoError(t, err)
	return ch
}

// collect drains events currently queued on the channel.
func collect(ch *Channel) []wire.Event {
	var out []wire.Event
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func waitFor[T wire.Event](t *testing.T, ch *Channel) T {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			require.True(t, ok, "channel closed while waiting for event")
			if typed, match := ev.(T); match {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestJoinRejectsNonMember(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	_, err := f.hub.Join(context.Background(), f.convo.ID, "mallory")
	assert.ErrorIs(t, err, chat.ErrNotMember)
}

func TestJoinAnnouncesPresence(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	f.join(t, "bob")

	status := waitFor[wire.UserStatusEvent](t, alice)
	assert.Equal(t, "bob", status.UserID)
	assert.Equal(t, "online", status.Status)
}

func TestSendMessageDeliversPersonalizedCiphertext(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	collect(alice)
	collect(bob)

	msg, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "hello bob", "text")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Seq)
	assert.Equal(t, chat.VerdictAccept, msg.Verdict)

	got := waitFor[wire.ChatMessageEvent](t, bob)
	assert.Equal(t, msg.ID, got.MessageID)
	assert.Equal(t, msg.Ciphertext, []byte(got.Message))
	require.NotEmpty(t, got.WrappedKey)

	// Bob can decrypt with his private key; the wrapped key is his alone.
	priv, err := f.keys.PrivateKey(context.Background(), "bob", got.KeyVersion)
	require.NoError(t, err)
	plain, err := hybrid.Decrypt(got.Message, got.WrappedKey, priv)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plain))

	// The sender receives a confirmation copy wrapped for them.
	own := waitFor[wire.ChatMessageEvent](t, alice)
	assert.Equal(t, msg.ID, own.MessageID)
	assert.NotEqual(t, got.WrappedKey, own.WrappedKey)
}

func TestSendMessageSequencesAreStrictlyIncreasing(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	bob := f.join(t, "bob")
	collect(bob)

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "hi", "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var last uint64
	for i := 0; i < n; i++ {
		ev := waitFor[wire.ChatMessageEvent](t, bob)
		assert.Greater(t, ev.Seq, last, "delivery order must follow sequence order")
		last = ev.Seq
	}
	assert.Equal(t, uint64(n), last)
}

func TestBlockedMessageIsNeverPersistedOrDelivered(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	bob := f.join(t, "bob")
	collect(bob)

	_, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "blockme now", "text")
	var blocked *chat.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.InDelta(t, 0.95, blocked.Confidence, 1e-9)

	msgs, err := f.store.ListMessages(context.Background(), f.convo.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, collect(bob))

	// The released ticket must not wedge the conversation.
	msg, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "all fine", "text")
	require.NoError(t, err)
	ev := waitFor[wire.ChatMessageEvent](t, bob)
	assert.Equal(t, msg.ID, ev.MessageID)
}

func TestModerationOutageFailsClosed(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	_, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "crashme", "text")
	assert.ErrorIs(t, err, chat.ErrModerationUnavailable)

	msgs, err := f.store.ListMessages(context.Background(), f.convo.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFlaggedMessageIsDeliveredAndQueuedForReview(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	bob := f.join(t, "bob")
	collect(bob)

	msg, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "flagme please", "text")
	require.NoError(t, err)
	assert.Equal(t, chat.VerdictFlag, msg.Verdict)

	ev := waitFor[wire.ChatMessageEvent](t, bob)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.Contains(t, f.queue.kinds(), "review")
	assert.Contains(t, f.queue.kinds(), "webhook")
}

func TestMarkReadBroadcastsOnceAndAbsorbsStaleAcks(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")

	first, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "one", "text")
	require.NoError(t, err)
	second, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "two", "text")
	require.NoError(t, err)
	collect(alice)

	require.NoError(t, f.hub.MarkRead(context.Background(), f.convo.ID, "bob", second.ID))
	receipt := waitFor[wire.ReadReceiptEvent](t, alice)
	assert.Equal(t, "bob", receipt.UserID)
	assert.Equal(t, second.Seq, receipt.Seq)

	// Acknowledging an older message after a newer one is a no-op.
	require.NoError(t, f.hub.MarkRead(context.Background(), f.convo.ID, "bob", first.ID))
	assert.Empty(t, collect(alice))
}

func TestTypingBroadcastsTransitionsOnly(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	collect(alice)
	collect(bob)

	f.hub.Typing(f.convo.ID, "alice", true)
	ev := waitFor[wire.TypingIndicatorEvent](t, bob)
	assert.Equal(t, "alice", ev.UserID)
	assert.True(t, ev.Typing)

	// The typist never receives their own indicator; repeats are absorbed.
	f.hub.Typing(f.convo.ID, "alice", true)
	assert.Empty(t, collect(alice))
	assert.Empty(t, collect(bob))

	stop := waitFor[wire.TypingIndicatorEvent](t, bob)
	assert.False(t, stop.Typing, "expiry must emit a synthetic stop")
}

func TestReactionToggleBroadcasts(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	msg, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "react to this", "text")
	require.NoError(t, err)
	collect(alice)

	require.NoError(t, f.hub.React(context.Background(), "bob", msg.ID, "👍", false))
	ev := waitFor[wire.MessageReactionEvent](t, alice)
	assert.Equal(t, "👍", ev.Emoji)
	assert.False(t, ev.Removed)

	// Duplicate add changes nothing and stays silent.
	require.NoError(t, f.hub.React(context.Background(), "bob", msg.ID, "👍", false))
	assert.Empty(t, collect(alice))

	require.NoError(t, f.hub.React(context.Background(), "bob", msg.ID, "👍", true))
	gone := waitFor[wire.MessageReactionEvent](t, alice)
	assert.True(t, gone.Removed)
}

func TestReactionRequiresMembership(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	msg, err := f.hub.SendMessage(context.Background(), f.convo.ID, "alice", "hi", "text")
	require.NoError(t, err)
	err = f.hub.React(context.Background(), "mallory", msg.ID, "👍", false)
	assert.ErrorIs(t, err, chat.ErrNotMember)
}

func TestHandleFrameReportsProtocolErrorsAndCloses(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	collect(alice)

	for i := 0; i < 2; i++ {
		closeConn := f.hub.HandleFrame(context.Background(), alice, []byte(`{"type":"bogus"}`))
		assert.False(t, closeConn)
		ev := waitFor[wire.ErrorEvent](t, alice)
		assert.Equal(t, "protocol_error", ev.Code)
	}
	// Third strike hits the configured ceiling.
	assert.True(t, f.hub.HandleFrame(context.Background(), alice, []byte(`not json`)))
}

func TestHandleFrameRoutesChatMessage(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	collect(alice)
	collect(bob)

	frame, err := json.Marshal(map[string]string{"type": "chat_message", "message": "via frame"})
	require.NoError(t, err)
	assert.False(t, f.hub.HandleFrame(context.Background(), alice, frame))

	ev := waitFor[wire.ChatMessageEvent](t, bob)
	assert.Equal(t, "text", ev.MessageType)
}

func TestHandleFrameReportsBlockedSend(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	collect(alice)

	frame, err := json.Marshal(map[string]string{"type": "chat_message", "message": "blockme"})
	require.NoError(t, err)
	f.hub.HandleFrame(context.Background(), alice, frame)

	ev := waitFor[wire.ErrorEvent](t, alice)
	assert.Equal(t, "moderation_blocked", ev.Code)
	assert.InDelta(t, 0.95, ev.Confidence, 1e-9)
}

func TestRejoinReplacesExistingChannel(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	first := f.join(t, "alice")
	second := f.join(t, "alice")

	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, StateActive, second.State())
}

func TestLeaveAnnouncesOffline(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	collect(alice)

	f.hub.Leave(context.Background(), bob)
	status := waitFor[wire.UserStatusEvent](t, alice)
	assert.Equal(t, "bob", status.UserID)
	assert.Equal(t, "offline", status.Status)
	assert.Equal(t, StateClosed, bob.State())
}

func TestLeaveKeepsOrderingAuthorityWhileSendInFlight(t *testing.T) {
	st := store.NewMemory()
	convo, _, err := st.GetOrCreateConversation(context.Background(), chat.KindDirect, []string{"alice", "bob"})
	require.NoError(t, err)

	// The oracle parks the first send so its ticket stays reserved while
	// the conversation's last channel leaves.
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := NewHub(Deps{
		Logger: slog.New(slog.DiscardHandler),
		Store:  st,
		Keys:   keys.NewMemoryStore(),
		Gate: &moderation.Gate{
			Oracle: moderation.OracleFunc(func(_ context.Context, text string) (float64, error) {
				if strings.Contains(text, "holdme") {
					once.Do(func() { close(started) })
					<-release
				}
				return 0, nil
			}),
			FlagThreshold:  0.5,
			BlockThreshold: 0.9,
		},
		SendQueueSize: 16,
	})
	t.Cleanup(h.Close)

	ch, err := h.Join(context.Background(), convo.ID, "alice")
	require.NoError(t, err)

	type sent struct {
		msg chat.Message
		err error
	}
	slowDone := make(chan sent, 1)
	go func() {
		msg, err := h.SendMessage(context.Background(), convo.ID, "alice", "holdme", "text")
		slowDone <- sent{msg, err}
	}()
	<-started

	// The only channel leaves while the ticket is still held; the group
	// must survive so the authority is not re-seeded below the in-flight
	// sequence.
	h.Leave(context.Background(), ch)

	fast, err := h.SendMessage(context.Background(), convo.ID, "bob", "quick reply", "text")
	require.NoError(t, err)

	close(release)
	var slow sent
	select {
	case slow = <-slowDone:
	case <-time.After(time.Second):
		t.Fatal("parked send never finished")
	}
	require.NoError(t, slow.err)

	assert.NotEqual(t, fast.Seq, slow.msg.Seq, "two messages in one conversation were assigned the same sequence position")
	assert.ElementsMatch(t, []uint64{1, 2}, []uint64{slow.msg.Seq, fast.Seq})
}
