// Package wire defines the tagged JSON frames exchanged over a participant's
// persistent connection. Inbound and outbound kinds are closed sets; unknown
// tags are rejected, never ignored.
package wire

import (
	"encoding/json"
	"fmt"

	"chatcore/internal/domain/chat"
)

// Inbound frame kinds.
const (
	FrameChatMessage = "chat_message"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
	FrameMarkRead    = "mark_read"
	FrameReaction    = "reaction"
)

// Inbound is the closed sum of client frames. Decode returns exactly one of
// the concrete frame types below.
type Inbound interface {
	inboundFrame()
}

type ChatMessageFrame struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
}

type TypingStartFrame struct{}

type TypingStopFrame struct{}

type MarkReadFrame struct {
	MessageID string `json:"message_id"`
}

type ReactionFrame struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Remove    bool   `json:"remove,omitempty"`
}

func (ChatMessageFrame) inboundFrame() {}
func (TypingStartFrame) inboundFrame() {}
func (TypingStopFrame) inboundFrame()  {}
func (MarkReadFrame) inboundFrame()    {}
func (ReactionFrame) inboundFrame()    {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses one client frame. Malformed payloads and unknown
// frame kinds return chat.ErrProtocol so the channel can notify the client
// without tearing the connection down.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", chat.ErrProtocol, err)
	}
	switch env.Type {
	case FrameChatMessage:
		var f ChatMessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: bad chat_message frame: %v", chat.ErrProtocol, err)
		}
		if f.Message == "" {
			return nil, fmt.Errorf("%w: chat_message requires message", chat.ErrProtocol)
		}
		if f.MessageType == "" {
			f.MessageType = "text"
		}
		return f, nil
	case FrameTypingStart:
		return TypingStartFrame{}, nil
	case FrameTypingStop:
		return TypingStopFrame{}, nil
	case FrameMarkRead:
		var f MarkReadFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: bad mark_read frame: %v", chat.ErrProtocol, err)
		}
		if f.MessageID == "" {
			return nil, fmt.Errorf("%w: mark_read requires message_id", chat.ErrProtocol)
		}
		return f, nil
	case FrameReaction:
		var f ReactionFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: bad reaction frame: %v", chat.ErrProtocol, err)
		}
		if f.MessageID == "" || f.Emoji == "" {
			return nil, fmt.Errorf("%w: reaction requires message_id and emoji", chat.ErrProtocol)
		}
		return f, nil
	case "":
		return nil, fmt.Errorf("%w: missing frame type", chat.ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", chat.ErrProtocol, env.Type)
	}
}
