// Package hub is the real-time core: it tracks live channels per
// conversation, routes inbound frames, and runs every message through the
// moderate -> encrypt -> persist -> publish pipeline under the
// conversation's ordering authority.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/domain/chat"
	"chatcore/internal/crypto/hybrid"
	"chatcore/internal/keys"
	"chatcore/internal/moderation"
	"chatcore/internal/presence"
	"chatcore/internal/store"
	"chatcore/internal/tasks"
	"chatcore/internal/wire"
)

// TaskQueue hands side effects off to the async dispatcher. Delivery of the
// message itself never waits on it.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind string, payload any) (string, error)
}

// Roster mirrors online state into a shared cache so other instances and
// the REST surface can read it. Best effort; failures are logged, not fatal.
type Roster interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// UsernameResolver maps a participant ID to a display name for outbound
// events. Identity when the deployment has no profile service.
type UsernameResolver func(userID string) string

// Deps are the hub's collaborators. Tasks and Roster may be nil.
type Deps struct {
	Logger    *slog.Logger
	Store     store.Store
	Keys      keys.Store
	Gate      *moderation.Gate
	Tasks     TaskQueue
	Roster    Roster
	Usernames UsernameResolver

	TypingExpiry      time.Duration
	SendQueueSize     int
	MaxProtocolErrors int
	PersistTimeout    time.Duration
}

// Hub owns all live channels, grouped by conversation.
type Hub struct {
	log      *slog.Logger
	store    store.Store
	keys     keys.Store
	gate     *moderation.Gate
	tasks    TaskQueue
	roster   Roster
	username UsernameResolver
	presence *presence.Tracker

	queueSize      int
	maxProtoErrs   int
	persistTimeout time.Duration

	mu     sync.RWMutex
	groups map[string]*group
	closed bool
}

type group struct {
	mu       sync.RWMutex
	channels map[string]*Channel // by participant ID, one live channel each
	ordering *authority
}

func newGroup() *group {
	return &group{
		channels: make(map[string]*Channel),
		ordering: newAuthority(),
	}
}

// NewHub wires the hub and its presence tracker. Typing expiry broadcasts a
// synthetic typing-stop so a vanished client never leaves a stuck indicator.
func NewHub(d Deps) *Hub {
	if d.Usernames == nil {
		d.Usernames = func(userID string) string { return userID }
	}
	if d.PersistTimeout <= 0 {
		d.PersistTimeout = 5 * time.Second
	}
	h := &Hub{
		log:            d.Logger,
		store:          d.Store,
		keys:           d.Keys,
		gate:           d.Gate,
		tasks:          d.Tasks,
		roster:         d.Roster,
		username:       d.Usernames,
		queueSize:      d.SendQueueSize,
		maxProtoErrs:   d.MaxProtocolErrors,
		persistTimeout: d.PersistTimeout,
		groups:         make(map[string]*group),
	}
	h.presence = presence.NewTracker(d.Store, d.TypingExpiry, h.typingExpired)
	return h
}

// Join authenticates a resolved participant into a conversation and returns
// their live channel. A second join by the same participant replaces the
// first; the stale channel is closed.
func (h *Hub) Join(ctx context.Context, conversationID, userID string) (*Channel, error) {
	if userID == "" {
		return nil, chat.ErrUnauthenticated
	}
	ok, err := h.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, chat.ErrNotMember
	}
	// Every participant gets a key pair lazily on first contact so sends to
	// them can never fail on a missing key.
	if _, err := h.keys.Ensure(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure encryption key: %w", err)
	}

	ch := NewChannel(conversationID, userID, h.queueSize, h.maxProtoErrs)
	if err := ch.Authenticate(); err != nil {
		return nil, err
	}
	if err := ch.activate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ch.Close()
		return nil, chat.ErrClosed
	}
	g, ok := h.groups[conversationID]
	if !ok {
		g = newGroup()
		h.groups[conversationID] = g
	}
	h.mu.Unlock()

	g.mu.Lock()
	prev := g.channels[userID]
	g.channels[userID] = ch
	g.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	if h.roster != nil {
		if err := h.roster.SetOnline(ctx, userID); err != nil {
			h.log.Warn("roster update failed", "user_id", userID, "error", err)
		}
	}
	h.broadcast(conversationID, h.statusEvent(conversationID, userID, "online"), userID)
	h.log.Info("channel joined", "conversation_id", conversationID, "user_id", userID, "channel_id", ch.ID)
	return ch, nil
}

// Leave closes the channel and announces the departure. Safe to call for a
// channel that was already replaced or closed.
func (h *Hub) Leave(ctx context.Context, ch *Channel) {
	h.mu.Lock()
	g := h.groups[ch.ConversationID]
	h.mu.Unlock()

	current := false
	if g != nil {
		g.mu.Lock()
		if g.channels[ch.UserID] == ch {
			delete(g.channels, ch.UserID)
			current = true
		}
		empty := len(g.channels) == 0
		g.mu.Unlock()
		if empty {
			h.discardIfIdle(ch.ConversationID, g)
		}
	}
	ch.Close()
	if !current {
		return
	}

	wasTyping := h.presence.IsTyping(ch.ConversationID, ch.UserID)
	h.presence.ClearTyping(ch.ConversationID, ch.UserID)
	if wasTyping {
		h.broadcast(ch.ConversationID, h.typingEvent(ch.ConversationID, ch.UserID, false), ch.UserID)
	}
	if h.roster != nil {
		if err := h.roster.SetOffline(ctx, ch.UserID); err != nil {
			h.log.Warn("roster update failed", "user_id", ch.UserID, "error", err)
		}
	}
	h.broadcast(ch.ConversationID, h.statusEvent(ch.ConversationID, ch.UserID, "offline"), ch.UserID)
	h.log.Info("channel left", "conversation_id", ch.ConversationID, "user_id", ch.UserID, "channel_id", ch.ID)
}

// Close shuts the hub down. Existing channels are closed; in-flight sends
// already holding a ticket still complete against the store.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	groups := h.groups
	h.groups = make(map[string]*group)
	h.mu.Unlock()

	for _, g := range groups {
		g.mu.Lock()
		for _, ch := range g.channels {
			ch.Close()
		}
		g.channels = make(map[string]*Channel)
		g.mu.Unlock()
	}
}

// HandleFrame routes one inbound frame from a channel. The returned bool
// asks the transport to drop the connection (abuse ceiling reached).
func (h *Hub) HandleFrame(ctx context.Context, ch *Channel, data []byte) bool {
	frame, err := wire.DecodeInbound(data)
	if err != nil {
		return h.reject(ch, err)
	}

	switch f := frame.(type) {
	case wire.ChatMessageFrame:
		if _, err := h.SendMessage(ctx, ch.ConversationID, ch.UserID, f.Message, f.MessageType); err != nil {
			h.notifyError(ch, err)
		}
	case wire.TypingStartFrame:
		h.Typing(ch.ConversationID, ch.UserID, true)
	case wire.TypingStopFrame:
		h.Typing(ch.ConversationID, ch.UserID, false)
	case wire.MarkReadFrame:
		if err := h.MarkRead(ctx, ch.ConversationID, ch.UserID, f.MessageID); err != nil {
			h.notifyError(ch, err)
		}
	case wire.ReactionFrame:
		if err := h.React(ctx, ch.UserID, f.MessageID, f.Emoji, f.Remove); err != nil {
			h.notifyError(ch, err)
		}
	}
	return false
}

func (h *Hub) reject(ch *Channel, err error) bool {
	h.notifyError(ch, err)
	if ch.noteProtocolError() {
		h.log.Warn("protocol error ceiling reached, closing channel",
			"channel_id", ch.ID, "user_id", ch.UserID, "conversation_id", ch.ConversationID)
		return true
	}
	return false
}

func (h *Hub) notifyError(ch *Channel, err error) {
	ev := wire.ErrorEvent{Type: wire.EventError, Code: chat.ReasonCode(err), Detail: err.Error()}
	var blocked *chat.BlockedError
	if errors.As(err, &blocked) {
		ev.Confidence = blocked.Confidence
		ev.Detail = "message blocked by moderation"
	}
	ch.send(ev)
}

// SendMessage is the delivery pipeline: reserve a sequence ticket, moderate,
// encrypt for every participant, persist, then publish in ticket order. Any
// rejection releases the ticket so later messages are not held up.
func (h *Hub) SendMessage(ctx context.Context, conversationID, senderID, plaintext, messageType string) (chat.Message, error) {
	convo, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	if !convo.HasParticipant(senderID) {
		return chat.Message{}, chat.ErrNotMember
	}
	if messageType == "" {
		messageType = "text"
	}

	g, seq, err := h.reserveTicket(ctx, conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	// The ticket is held now. A closing channel or canceled request must not
	// leave a permanent gap in the pending buffer, so the rest of the
	// pipeline runs on a detached context with its own timeouts.
	ctx = context.WithoutCancel(ctx)

	verdict, err := h.gate.Evaluate(ctx, plaintext)
	if err != nil {
		h.release(g, seq)
		return chat.Message{}, err
	}
	if verdict.Verdict == chat.VerdictBlock {
		h.release(g, seq)
		h.log.Info("message blocked",
			"conversation_id", conversationID, "sender_id", senderID, "confidence", verdict.Confidence)
		return chat.Message{}, &chat.BlockedError{Confidence: verdict.Confidence}
	}

	// Key pairs are minted lazily, so an offline participant who never
	// connected still gets a wrapped copy. Any participant we cannot key
	// fails the whole send; nobody is dropped silently.
	recipients := make(map[string]hybrid.PublicKey, len(convo.Participants))
	for _, p := range convo.Participants {
		kp, err := h.keys.Ensure(ctx, p)
		if err != nil {
			h.release(g, seq)
			return chat.Message{}, fmt.Errorf("recipient %s: %w", p, err)
		}
		recipients[p] = hybrid.PublicKey{Bytes: kp.PublicKey, Version: kp.Version}
	}
	env, err := hybrid.Encrypt([]byte(plaintext), recipients)
	if err != nil {
		h.release(g, seq)
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageType:    messageType,
		Ciphertext:     env.Ciphertext,
		WrappedKeys:    env.WrappedKeys,
		Verdict:        verdict.Verdict,
		Confidence:     verdict.Confidence,
		Seq:            seq,
		CreatedAt:      time.Now().UTC(),
	}
	persistCtx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	err = h.store.AppendMessage(persistCtx, msg)
	cancel()
	if err != nil {
		h.release(g, seq)
		return chat.Message{}, fmt.Errorf("persist message: %w", err)
	}

	if err := g.ordering.complete(seq, func() {
		h.broadcast(conversationID, h.messageEvent(msg, false), "")
	}); err != nil {
		h.recoverOrdering(g, err)
		return chat.Message{}, err
	}

	h.enqueueSideEffects(ctx, msg)
	return msg, nil
}

func (h *Hub) release(g *group, seq uint64) {
	if err := g.ordering.abort(seq); err != nil {
		h.recoverOrdering(g, err)
	}
}

func (h *Hub) recoverOrdering(g *group, err error) {
	h.log.Error("ordering authority violated, re-seeding from store", "error", err)
	g.ordering.reset()
}

func (h *Hub) enqueueSideEffects(ctx context.Context, msg chat.Message) {
	if h.tasks == nil {
		return
	}
	if _, err := h.tasks.Enqueue(ctx, tasks.KindWebhook, tasks.WebhookPayload{
		Event:          "message.sent",
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		MessageType:    msg.MessageType,
		Flagged:        msg.Flagged(),
		SentAt:         msg.CreatedAt,
	}); err != nil {
		h.log.Error("enqueue webhook task failed", "message_id", msg.ID, "error", err)
	}
	if _, err := h.tasks.Enqueue(ctx, tasks.KindAnalytics, tasks.AnalyticsPayload{
		ConversationID: msg.ConversationID,
	}); err != nil {
		h.log.Error("enqueue analytics task failed", "message_id", msg.ID, "error", err)
	}
	if msg.Flagged() {
		if _, err := h.tasks.Enqueue(ctx, tasks.KindReview, tasks.ReviewPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Confidence:     msg.Confidence,
		}); err != nil {
			h.log.Error("enqueue review task failed", "message_id", msg.ID, "error", err)
		}
	}
}

// EditMessage replaces a message body. Only the original sender may edit;
// the new text passes moderation and is re-encrypted for the current
// participant set, keeping the original sequence position.
func (h *Hub) EditMessage(ctx context.Context, messageID, editorID, plaintext string) (chat.Message, error) {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.SenderID != editorID {
		return chat.Message{}, chat.ErrNotMember
	}
	if msg.Deleted {
		return chat.Message{}, fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	convo, err := h.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return chat.Message{}, err
	}

	verdict, err := h.gate.Evaluate(ctx, plaintext)
	if err != nil {
		return chat.Message{}, err
	}
	if verdict.Verdict == chat.VerdictBlock {
		return chat.Message{}, &chat.BlockedError{Confidence: verdict.Confidence}
	}

	recipients := make(map[string]hybrid.PublicKey, len(convo.Participants))
	for _, p := range convo.Participants {
		kp, err := h.keys.Ensure(ctx, p)
		if err != nil {
			return chat.Message{}, fmt.Errorf("recipient %s: %w", p, err)
		}
		recipients[p] = hybrid.PublicKey{Bytes: kp.PublicKey, Version: kp.Version}
	}
	env, err := hybrid.Encrypt([]byte(plaintext), recipients)
	if err != nil {
		return chat.Message{}, err
	}

	now := time.Now().UTC()
	msg.Ciphertext = env.Ciphertext
	msg.WrappedKeys = env.WrappedKeys
	msg.Verdict = verdict.Verdict
	msg.Confidence = verdict.Confidence
	msg.EditedAt = &now
	if err := h.store.UpdateMessage(ctx, msg); err != nil {
		return chat.Message{}, fmt.Errorf("persist edit: %w", err)
	}

	h.BroadcastEdited(msg)
	if msg.Flagged() && h.tasks != nil {
		if _, err := h.tasks.Enqueue(ctx, tasks.KindReview, tasks.ReviewPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Confidence:     msg.Confidence,
		}); err != nil {
			h.log.Error("enqueue review task failed", "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message. Sender only; the sequence position
// stays occupied so ordering is unaffected.
func (h *Hub) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return chat.ErrNotMember
	}
	if msg.Deleted {
		return nil
	}
	msg.Deleted = true
	if err := h.store.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist delete: %w", err)
	}
	if h.tasks != nil {
		if _, err := h.tasks.Enqueue(ctx, tasks.KindAnalytics, tasks.AnalyticsPayload{
			ConversationID: msg.ConversationID,
		}); err != nil {
			h.log.Error("enqueue analytics task failed", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// Typing records a typing transition and broadcasts it to everyone except
// the typist. Repeated starts only refresh the expiry timer.
func (h *Hub) Typing(conversationID, userID string, isTyping bool) {
	if !h.presence.SetTyping(conversationID, userID, isTyping) {
		return
	}
	h.broadcast(conversationID, h.typingEvent(conversationID, userID, isTyping), userID)
}

func (h *Hub) typingExpired(conversationID, userID string) {
	h.broadcast(conversationID, h.typingEvent(conversationID, userID, false), userID)
}

// MarkRead advances the caller's read pointer to the given message and
// broadcasts a receipt. Stale acknowledgements are absorbed silently.
func (h *Hub) MarkRead(ctx context.Context, conversationID, userID string, messageID string) error {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID != conversationID {
		return fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	member, err := h.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return chat.ErrNotMember
	}
	advanced, err := h.presence.MarkRead(ctx, conversationID, userID, msg.Seq)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}
	receipt := wire.ReadReceiptEvent{
		Type:           wire.EventReadReceipt,
		ConversationID: conversationID,
		UserID:         userID,
		Username:       h.username(userID),
		MessageID:      messageID,
		Seq:            msg.Seq,
		Timestamp:      time.Now().UTC(),
	}
	h.broadcast(conversationID, func(string) (wire.Event, bool) { return receipt, true }, "")
	return nil
}

// React toggles a reaction on a message after a membership check and
// broadcasts the change. Duplicate adds and removes of absent reactions are
// no-ops with no broadcast.
func (h *Hub) React(ctx context.Context, userID, messageID, emoji string, remove bool) error {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	ok, err := h.store.IsMember(ctx, msg.ConversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return chat.ErrNotMember
	}

	var changed bool
	if remove {
		changed, err = h.presence.RemoveReaction(ctx, messageID, userID, emoji)
	} else {
		changed, err = h.presence.AddReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	reaction := wire.MessageReactionEvent{
		Type:           wire.EventMessageReaction,
		ConversationID: msg.ConversationID,
		UserID:         userID,
		Username:       h.username(userID),
		MessageID:      messageID,
		Emoji:          emoji,
		Removed:        remove,
		Timestamp:      time.Now().UTC(),
	}
	h.broadcast(msg.ConversationID, func(string) (wire.Event, bool) { return reaction, true }, "")
	return nil
}

// BroadcastEdited pushes an updated message body to live participants after
// a REST edit. Reuses the chat_message event with the edited marker set.
func (h *Hub) BroadcastEdited(msg chat.Message) {
	h.broadcast(msg.ConversationID, h.messageEvent(msg, true), "")
}

func (h *Hub) group(conversationID string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[conversationID]
	if !ok {
		g = newGroup()
		h.groups[conversationID] = g
	}
	return g
}

// reserveTicket takes a sequence ticket from the conversation's live group.
// The group can be discarded between the registry lookup and the
// reservation; a ticket issued by a discarded authority would be re-seeded
// from a store that does not yet hold the in-flight messages, so it is
// released and the reservation retried against the replacement.
func (h *Hub) reserveTicket(ctx context.Context, conversationID string) (*group, uint64, error) {
	for {
		g := h.group(conversationID)
		seq, err := g.ordering.reserve(ctx, func(ctx context.Context) (uint64, error) {
			return h.store.LastSequence(ctx, conversationID)
		})
		if err != nil {
			return nil, 0, err
		}
		h.mu.Lock()
		live := h.groups[conversationID] == g
		h.mu.Unlock()
		if live {
			return g, seq, nil
		}
		if err := g.ordering.abort(seq); err != nil {
			h.log.Warn("orphaned ticket release failed", "conversation_id", conversationID, "error", err)
		}
	}
}

// discardIfIdle drops an empty group from the registry unless its ordering
// authority still holds reserved tickets. Discarding a live authority would
// let the next send mint a fresh one seeded below the in-flight sequence
// and hand the same position out twice. The authority lock is taken before
// the registry lock, matching the order complete uses when publishing.
func (h *Hub) discardIfIdle(conversationID string, g *group) {
	if err := g.ordering.lock(context.Background()); err != nil {
		return
	}
	defer g.ordering.unlock()
	if g.ordering.outstanding > 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[conversationID] != g {
		return
	}
	g.mu.Lock()
	empty := len(g.channels) == 0
	g.mu.Unlock()
	if empty {
		delete(h.groups, conversationID)
	}
}

// eventFor builds the outbound event for one recipient. A false return
// skips that recipient entirely.
type eventFor func(userID string) (wire.Event, bool)

// broadcast fans an event out to every live channel in the conversation,
// skipping exclude. Channels that cannot absorb the event are closed and
// detached; a slow consumer never blocks the rest of the group.
func (h *Hub) broadcast(conversationID string, build eventFor, exclude string) {
	h.mu.Lock()
	g := h.groups[conversationID]
	h.mu.Unlock()
	if g == nil {
		return
	}

	g.mu.Lock()
	targets := make([]*Channel, 0, len(g.channels))
	for userID, ch := range g.channels {
		if userID == exclude {
			continue
		}
		targets = append(targets, ch)
	}
	g.mu.Unlock()

	var dead []*Channel
	for _, ch := range targets {
		ev, ok := build(ch.UserID)
		if !ok {
			continue
		}
		if !ch.send(ev) && ch.State() == StateActive {
			dead = append(dead, ch)
		}
	}
	for _, ch := range dead {
		h.log.Warn("dropping unresponsive channel",
			"channel_id", ch.ID, "user_id", ch.UserID, "conversation_id", ch.ConversationID)
		h.Leave(context.Background(), ch)
	}
}

func (h *Hub) messageEvent(msg chat.Message, edited bool) eventFor {
	ts := msg.CreatedAt
	if edited && msg.EditedAt != nil {
		ts = *msg.EditedAt
	}
	return func(userID string) (wire.Event, bool) {
		wk, ok := msg.WrappedKeys[userID]
		if !ok {
			// Participant added after the message was sealed; nothing they
			// could decrypt, so nothing to deliver.
			return nil, false
		}
		return wire.ChatMessageEvent{
			Type:           wire.EventChatMessage,
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			SenderUsername: h.username(msg.SenderID),
			MessageType:    msg.MessageType,
			Message:        msg.Ciphertext,
			WrappedKey:     wk.Key,
			KeyVersion:     wk.KeyVersion,
			Seq:            msg.Seq,
			Edited:         edited,
			Timestamp:      ts,
		}, true
	}
}

func (h *Hub) typingEvent(conversationID, userID string, typing bool) eventFor {
	ev := wire.TypingIndicatorEvent{
		Type:           wire.EventTypingIndicator,
		ConversationID: conversationID,
		UserID:         userID,
		Username:       h.username(userID),
		Typing:         typing,
		Timestamp:      time.Now().UTC(),
	}
	return func(string) (wire.Event, bool) { return ev, true }
}

func (h *Hub) statusEvent(conversationID, userID, status string) eventFor {
	ev := wire.UserStatusEvent{
		Type:           wire.EventUserStatus,
		ConversationID: conversationID,
		UserID:         userID,
		Username:       h.username(userID),
		Status:         status,
		Timestamp:      time.Now().UTC(),
	}
	return func(string) (wire.Event, bool) { return ev, true }
}
