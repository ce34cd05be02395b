package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventName identifies a real-time event on the wire.
type EventName string

const (
	EventNewMessage          EventName = "new-message"
	EventMessageSeen         EventName = "message-seen"
	EventMessageDeleted      EventName = "message-deleted"
	EventReactionUpdated     EventName = "message-reaction-updated"
	EventTyping              EventName = "typing"
	EventUserTyping          EventName = "userTyping"
	EventConversationDeleted EventName = "conversation-deleted"
	EventCallSignal          EventName = "call-signal"
	EventOnlineUsers         EventName = "online-users"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is the closed set of payloads exchanged over the real-time channel.
type Event interface {
	EventName() EventName
}

// NewMessage carries a freshly persisted, decrypted message to its receiver.
type NewMessage Message

// ReactionUpdated carries the full message after a reaction change.
type ReactionUpdated Message

// MessageSeen signals that a message was displayed to its receiver.
type MessageSeen struct {
	MessageID int `json:"messageId"`
	SenderID  int `json:"senderId"`
}

// MessageDeleted signals a hard delete by the sender.
type MessageDeleted struct {
	MessageID int `json:"messageId"`
}

// Typing is sent by a client; PeerID is the user being typed to.
type Typing struct {
	PeerID   int  `json:"peerId"`
	IsTyping bool `json:"isTyping"`
}

// UserTyping is delivered to the peer; PeerID is the user who is typing.
type UserTyping struct {
	PeerID   int  `json:"peerId"`
	IsTyping bool `json:"isTyping"`
}

// ConversationDeleted tells the peer that every message of the pair is gone.
type ConversationDeleted struct {
	DeletedBy   int `json:"deletedBy"`
	DeletedWith int `json:"deletedWith"`
}

// CallSignal is relayed opaquely between peers.
type CallSignal struct {
	PeerID int             `json:"peerId"`
	Signal json.RawMessage `json:"signal"`
}

// OnlineUsers is the presence snapshot sent to every connection.
type OnlineUsers []int

func (NewMessage) EventName() EventName          { return EventNewMessage }
func (ReactionUpdated) EventName() EventName     { return EventReactionUpdated }
func (MessageSeen) EventName() EventName         { return EventMessageSeen }
func (MessageDeleted) EventName() EventName      { return EventMessageDeleted }
func (Typing) EventName() EventName              { return EventTyping }
func (UserTyping) EventName() EventName          { return EventUserTyping }
func (ConversationDeleted) EventName() EventName { return EventConversationDeleted }
func (CallSignal) EventName() EventName          { return EventCallSignal }
func (OnlineUsers) EventName() EventName         { return EventOnlineUsers }

type frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeEvent renders the wire frame {"event": name, "data": payload}.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventName(), err)
	}
	return json.Marshal(frame{Event: e.EventName(), Data: data})
}

// DecodeEvent parses a wire frame into its concrete variant.
func DecodeEvent(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case EventNewMessage:
		return decodeAs[NewMessage](f)
	case EventReactionUpdated:
		return decodeAs[ReactionUpdated](f)
	case EventMessageSeen:
		return decodeAs[MessageSeen](f)
	case EventMessageDeleted:
		return decodeAs[MessageDeleted](f)
	case EventTyping:
		return decodeAs[Typing](f)
	case EventUserTyping:
		return decodeAs[UserTyping](f)
	case EventConversationDeleted:
		return decodeAs[ConversationDeleted](f)
	case EventCallSignal:
		return decodeAs[CallSignal](f)
	case EventOnlineUsers:
		ev, err := decodeAs[OnlineUsers](f)
		if err == nil && ev.(OnlineUsers) == nil {
			ev = OnlineUsers{}
		}
		return ev, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func decodeAs[T Event](f frame) (Event, error) {
	var v T
	if len(f.Data) == 0 {
		return nil, fmt.Errorf("decode %s: missing data", f.Event)
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return v, nil
}
