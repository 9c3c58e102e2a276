package chat

import (
	"errors"
	"fmt"
)

// Error taxonomy for the messaging core. Every rejected operation maps to
// one of these so callers receive an explicit reason code, never a generic
// failure.
var (
	// ErrNotMember rejects join/send attempts from outside the
	// conversation's participant set.
	ErrNotMember = errors.New("chat: not a conversation member")

	// ErrUnauthenticated rejects connections with a missing, invalid or
	// expired bearer credential.
	ErrUnauthenticated = errors.New("chat: invalid or expired credential")

	// ErrModerationUnavailable marks an oracle timeout or failure, resolved
	// by the configured fail-open/fail-closed policy. Logged distinctly
	// from a block verdict.
	ErrModerationUnavailable = errors.New("chat: moderation unavailable")

	// ErrKeyUnavailable rejects a send when a recipient public key is
	// missing. Raised before persistence; never drops a recipient silently.
	ErrKeyUnavailable = errors.New("chat: recipient encryption key unavailable")

	// ErrOrderingViolation is an internal invariant failure: a sequence
	// published out of order. Fatal to the conversation's ordering
	// authority, which restarts from the last persisted position.
	ErrOrderingViolation = errors.New("chat: sequence ordering violation")

	// ErrProtocol rejects a malformed or unknown inbound frame. The
	// offending channel stays open unless malformed frames repeat.
	ErrProtocol = errors.New("chat: protocol error")

	// ErrNotFound covers missing conversations and messages.
	ErrNotFound = errors.New("chat: not found")

	// ErrClosed reports an operation against a closed channel or hub.
	ErrClosed = errors.New("chat: channel closed")
)

// BlockedError carries the moderation verdict back to the sender when a
// message is blocked outright. The message is never persisted or broadcast.
type BlockedError struct {
	Confidence float64
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("chat: message blocked by moderation (confidence %.2f)", e.Confidence)
}

// ReasonCode maps an error to the stable code surfaced on the wire and in
// REST error bodies.
func ReasonCode(err error) string {
	var blocked *BlockedError
	switch {
	case errors.As(err, &blocked):
		return "moderation_blocked"
	case errors.Is(err, ErrModerationUnavailable):
		return "moderation_unavailable"
	case errors.Is(err, ErrKeyUnavailable):
		return "key_unavailable"
	case errors.Is(err, ErrNotMember):
		return "not_a_member"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderingViolation):
		return "ordering_violation"
	default:
		return "internal_error"
	}
}
