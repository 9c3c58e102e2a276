package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"chatcore/internal/analytics"
	"chatcore/internal/domain/chat"
	"chatcore/internal/hub"
	"chatcore/internal/keys"
	"chatcore/internal/store"
	"chatcore/internal/tasks"
)

// Recents is the recency cache behind conversation listings.
type Recents interface {
	TouchConversation(ctx context.Context, userID, conversationID string) error
	RecentConversations(ctx context.Context, userID string, limit int) ([]string, error)
}

// OnlineIndex answers presence queries from the shared roster.
type OnlineIndex interface {
	OnlineAmong(ctx context.Context, userIDs []string) ([]string, error)
}

// TaskAdmin exposes the dispatcher to the task trigger endpoints.
type TaskAdmin interface {
	Enqueue(ctx context.Context, kind string, payload any) (string, error)
	Job(ctx context.Context, id string) (tasks.Job, error)
}

// ChatHandler serves the REST surface. Every mutation goes through the hub
// so REST and websocket clients share one pipeline and one event fan-out.
type ChatHandler struct {
	Hub       *hub.Hub
	Store     store.Store
	Keys      keys.Store
	Analytics *analytics.Service
	Tasks     TaskAdmin
	Recents   Recents
	Online    OnlineIndex
	Logger    *slog.Logger
}

// messageView is a message as seen by one participant: the shared
// ciphertext plus their wrapped key only.
type messageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	MessageType    string     `json:"message_type"`
	Ciphertext     []byte     `json:"ciphertext"`
	WrappedKey     []byte     `json:"wrapped_key,omitempty"`
	KeyVersion     int        `json:"key_version,omitempty"`
	Flagged        bool       `json:"flagged"`
	Seq            uint64     `json:"seq"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
}

func viewFor(msg chat.Message, userID string) messageView {
	v := messageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		MessageType:    msg.MessageType,
		Flagged:        msg.Flagged(),
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt,
		EditedAt:       msg.EditedAt,
		Deleted:        msg.Deleted,
	}
	if msg.Deleted {
		return v
	}
	v.Ciphertext = msg.Ciphertext
	if wk, ok := msg.WrappedKeys[userID]; ok {
		v.WrappedKey = wk.Key
		v.KeyVersion = wk.KeyVersion
	}
	return v
}

// CreateConversation gets or creates a thread. The caller is always a
// participant; direct threads are unique per pair.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req struct {
		Kind         string   `json:"kind"`
		Participants []string `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	participants := chat.NormalizeParticipants(append(req.Participants, p.UserID))
	kind := chat.Kind(strings.TrimSpace(req.Kind))
	if kind == "" {
		if len(participants) == 2 {
			kind = chat.KindDirect
		} else {
			kind = chat.KindGroup
		}
	}
	if kind == chat.KindDirect && len(participants) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direct conversations need exactly two participants"})
		return
	}
	if len(participants) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one other participant is required"})
		return
	}

	convo, created, err := h.Store.GetOrCreateConversation(c.Request.Context(), kind, participants)
	if err != nil {
		h.respondError(c, err, "create conversation")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.Logger.Info("conversation created", "conversation_id", convo.ID, "kind", convo.Kind, "participants", len(convo.Participants))
	}
	c.JSON(status, convo)
}

// ListConversations returns the caller's threads, most recently active
// first when the recency cache is available.
func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	convos, err := h.Store.ListConversations(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, err, "list conversations")
		return
	}
	if h.Recents != nil {
		if recent, err := h.Recents.RecentConversations(c.Request.Context(), p.UserID, 0); err == nil {
			convos = orderByRecency(convos, recent)
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": convos})
}

func orderByRecency(convos []chat.Conversation, recent []string) []chat.Conversation {
	rank := make(map[string]int, len(recent))
	for i, id := range recent {
		rank[id] = i + 1
	}
	ordered := make([]chat.Conversation, 0, len(convos))
	rest := make([]chat.Conversation, 0, len(convos))
	for _, cv := range convos {
		if rank[cv.ID] > 0 {
			ordered = append(ordered, cv)
		} else {
			rest = append(rest, cv)
		}
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if rank[ordered[j].ID] < rank[ordered[i].ID] {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	return append(ordered, rest...)
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	convo, ok := h.memberConversation(c, p, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, convo)
}

// ListMessages pages a conversation in ascending sequence order.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	convo, ok := h.memberConversation(c, p, c.Param("id"))
	if !ok {
		return
	}
	limit := parsePositiveInt(c.Query("limit"), 50)
	beforeSeq, _ := strconv.ParseUint(strings.TrimSpace(c.Query("before_seq")), 10, 64)

	msgs, err := h.Store.ListMessages(c.Request.Context(), convo.ID, limit, beforeSeq)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", convo.ID)
		return
	}
	items := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, viewFor(m, p.UserID))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SendMessage posts through the same moderated, encrypted, ordered pipeline
// as the websocket path.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req struct {
		Message     string `json:"message"`
		MessageType string `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	msg, err := h.Hub.SendMessage(c.Request.Context(), conversationID, p.UserID, req.Message, req.MessageType)
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", conversationID)
		return
	}
	h.touchRecents(c.Request.Context(), msg.ConversationID)
	c.JSON(http.StatusCreated, viewFor(msg, p.UserID))
}

func (h ChatHandler) touchRecents(ctx context.Context, conversationID string) {
	if h.Recents == nil {
		return
	}
	convo, err := h.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return
	}
	for _, participant := range convo.Participants {
		if err := h.Recents.TouchConversation(ctx, participant, conversationID); err != nil {
			h.Logger.Warn("recency cache update failed", "conversation_id", conversationID, "error", err)
			return
		}
	}
}

// EditMessage replaces a message body. Sender only.
func (h ChatHandler) EditMessage(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	msg, err := h.Hub.EditMessage(c.Request.Context(), c.Param("id"), p.UserID, req.Message)
	if err != nil {
		h.respondError(c, err, "edit message", "message_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, viewFor(msg, p.UserID))
}

// DeleteMessage soft-deletes. Sender only; the sequence slot stays.
func (h ChatHandler) DeleteMessage(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if err := h.Hub.DeleteMessage(c.Request.Context(), c.Param("id"), p.UserID); err != nil {
		h.respondError(c, err, "delete message", "message_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

// React adds a reaction; RemoveReaction removes one. Both fan out live
// events through the hub.
func (h ChatHandler) React(c *gin.Context) {
	h.react(c, false)
}

func (h ChatHandler) RemoveReaction(c *gin.Context) {
	h.react(c, true)
}

func (h ChatHandler) react(c *gin.Context, remove bool) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	emoji := strings.TrimSpace(c.Query("emoji"))
	if emoji == "" {
		var req struct {
			Emoji string `json:"emoji"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		emoji = strings.TrimSpace(req.Emoji)
	}
	if emoji == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emoji is required"})
		return
	}
	if err := h.Hub.React(c.Request.Context(), p.UserID, c.Param("id"), emoji, remove); err != nil {
		h.respondError(c, err, "react", "message_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) ListReactions(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	msg, err := h.Store.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "load message", "message_id", c.Param("id"))
		return
	}
	if _, ok := h.memberConversation(c, p, msg.ConversationID); !ok {
		return
	}
	reactions, err := h.Store.ListReactions(c.Request.Context(), msg.ID)
	if err != nil {
		h.respondError(c, err, "list reactions", "message_id", msg.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": reactions})
}

// MarkRead advances the caller's read pointer. Without a message_id the
// newest message in the conversation is acknowledged.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	messageID := strings.TrimSpace(req.MessageID)
	if messageID == "" {
		latest, err := h.Store.ListMessages(c.Request.Context(), conversationID, 1, 0)
		if err != nil {
			h.respondError(c, err, "load latest message", "conversation_id", conversationID)
			return
		}
		if len(latest) == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		messageID = latest[len(latest)-1].ID
	}
	if err := h.Hub.MarkRead(c.Request.Context(), conversationID, p.UserID, messageID); err != nil {
		h.respondError(c, err, "mark read", "conversation_id", conversationID)
		return
	}
	c.Status(http.StatusNoContent)
}

// SearchMessages filters by metadata only; content is ciphertext at rest.
func (h ChatHandler) SearchMessages(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	convo, ok := h.memberConversation(c, p, c.Param("id"))
	if !ok {
		return
	}
	filter := store.SearchFilter{
		ConversationID: convo.ID,
		SenderID:       strings.TrimSpace(c.Query("sender_id")),
		MessageType:    strings.TrimSpace(c.Query("message_type")),
		Limit:          parsePositiveInt(c.Query("limit"), 50),
	}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		filter.From = t
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		filter.To = t
	}

	msgs, err := h.Store.SearchMessages(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "search messages", "conversation_id", convo.ID)
		return
	}
	items := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, viewFor(m, p.UserID))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ConversationAnalytics recomputes and returns the snapshot synchronously.
func (h ChatHandler) ConversationAnalytics(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	convo, ok := h.memberConversation(c, p, c.Param("id"))
	if !ok {
		return
	}
	stats, err := h.Analytics.Recompute(c.Request.Context(), convo.ID)
	if err != nil {
		h.respondError(c, err, "conversation analytics", "conversation_id", convo.ID)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// UserEngagement returns the caller's cross-conversation activity summary.
func (h ChatHandler) UserEngagement(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	stats, err := h.Analytics.UserEngagement(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, err, "user engagement", "user_id", p.UserID)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TriggerAnalytics queues a platform-wide aggregate recompute and returns
// the job id for polling.
func (h ChatHandler) TriggerAnalytics(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	if h.Tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task dispatcher unavailable"})
		return
	}
	id, err := h.Tasks.Enqueue(c.Request.Context(), tasks.KindAnalytics, tasks.AnalyticsPayload{})
	if err != nil {
		h.respondError(c, err, "trigger analytics")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

// RotateKey reissues the caller's key pair under a new version. Messages
// wrapped under older versions stay decryptable by version.
func (h ChatHandler) RotateKey(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	kp, err := h.Keys.Rotate(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, err, "rotate key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": kp.UserID, "version": kp.Version, "public_key": kp.PublicKey})
}

// PublicKey returns another participant's active public key.
func (h ChatHandler) PublicKey(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	pub, err := h.Keys.ActivePublicKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "load public key", "user_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "version": pub.Version, "public_key": pub.Bytes})
}

// OnlineStatus filters the given users down to the online ones.
func (h ChatHandler) OnlineStatus(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	if h.Online == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence cache unavailable"})
		return
	}
	ids := splitCSV(c.Query("user_ids"))
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids is required"})
		return
	}
	online, err := h.Online.OnlineAmong(c.Request.Context(), ids)
	if err != nil {
		h.respondError(c, err, "online status")
		return
	}
	if online == nil {
		online = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

// TriggerCleanup enqueues a retention sweep and returns the job ID.
func (h ChatHandler) TriggerCleanup(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	if h.Tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task dispatcher unavailable"})
		return
	}
	id, err := h.Tasks.Enqueue(c.Request.Context(), tasks.KindCleanup, tasks.CleanupPayload{})
	if err != nil {
		h.respondError(c, err, "trigger cleanup")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

// JobStatus reports the lifecycle state of an async job.
func (h ChatHandler) JobStatus(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	if h.Tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task dispatcher unavailable"})
		return
	}
	job, err := h.Tasks.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "job status", "job_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           job.ID,
		"kind":         job.Kind,
		"status":       job.Status,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"last_error":   job.LastError,
	})
}

// memberConversation loads a conversation and enforces membership.
func (h ChatHandler) memberConversation(c *gin.Context, p principal, conversationID string) (chat.Conversation, bool) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return chat.Conversation{}, false
	}
	convo, err := h.Store.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err, "load conversation", "conversation_id", conversationID)
		return chat.Conversation{}, false
	}
	if !convo.HasParticipant(p.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member", "code": "not_a_member"})
		return chat.Conversation{}, false
	}
	return convo, true
}

// respondError maps the error taxonomy onto HTTP statuses with stable codes.
func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	code := chat.ReasonCode(err)
	var blocked *chat.BlockedError
	switch {
	case errors.As(err, &blocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "message blocked by moderation",
			"code":       code,
			"confidence": blocked.Confidence,
		})
		return
	case errors.Is(err, chat.ErrModerationUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation unavailable", "code": code})
		return
	case errors.Is(err, chat.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member", "code": code})
		return
	case errors.Is(err, chat.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required", "code": code})
		return
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": code})
		return
	case errors.Is(err, chat.ErrKeyUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "recipient key unavailable", "code": code})
		return
	case errors.Is(err, chat.ErrProtocol):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": code})
		return
	}
	h.Logger.Error("request failed", append([]any{"action", action, "error", err}, attrs...)...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": code})
}

func parsePositiveInt(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
