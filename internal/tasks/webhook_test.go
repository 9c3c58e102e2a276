package tasks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSenderSignsBody(t *testing.T) {
	const secret = "hook-secret"
	var gotSig, gotUA, gotKey string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender([]string{srv.URL}, secret, time.Second, testLogger())
	body, err := json.Marshal(WebhookPayload{Event: "message.sent", MessageID: "m1", ConversationID: "c1"})
	require.NoError(t, err)
	require.NoError(t, sender.Deliver(context.Background(), "message.sent:m1", body))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
	assert.Equal(t, "ChatService-Webhook/1.0", gotUA)
	assert.Equal(t, "message.sent:m1", gotKey)
	assert.JSONEq(t, string(body), string(gotBody))
}

func TestWebhookSenderFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender([]string{srv.URL}, "", time.Second, testLogger())
	err := sender.Deliver(context.Background(), "k", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSenderStopsAtFirstFailingEndpoint(t *testing.T) {
	var second int
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		second++
	}))
	defer good.Close()

	sender := NewWebhookSender([]string{bad.URL, good.URL}, "", time.Second, testLogger())
	require.Error(t, sender.Deliver(context.Background(), "k", []byte(`{}`)))
	assert.Zero(t, second)
}

func TestReviewExecutorEmitsFlaggedEvent(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	exec := &ReviewExecutor{Sender: NewWebhookSender([]string{srv.URL}, "", time.Second, testLogger())}
	payload, err := json.Marshal(ReviewPayload{MessageID: "m1", ConversationID: "c1", Confidence: 0.7})
	require.NoError(t, err)
	require.NoError(t, exec.Execute(context.Background(), payload))

	assert.Equal(t, "content_flagged", got["event"])
	assert.Equal(t, "m1", got["message_id"])
	assert.InDelta(t, 0.7, got["confidence"], 1e-9)
}
