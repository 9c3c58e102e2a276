package chat

import (
	"sort"
	"strings"
	"time"
)

// Kind distinguishes two-party threads from group threads. The core only
// serves direct conversations today but the model keeps the participant set
// open-ended so groups slot in without a schema change.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Conversation is a thread between a fixed set of participants. For direct
// conversations the participant pair is immutable after creation.
type Conversation struct {
	ID           string    `json:"id" bson:"_id"`
	Kind         Kind      `json:"kind" bson:"kind"`
	Participants []string  `json:"participants" bson:"participants"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID, the fan-out set for
// recipient-side events.
func (c Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeParticipants trims, dedupes and orders a participant set so the
// same pair always maps to the same stored conversation.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
