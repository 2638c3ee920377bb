package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates the outbound events pushed by the delivery side.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAuthenticated
	EventAuthError
	EventChatHistory
	EventNewMessage
	EventMessageSent
	EventUserTyping
	EventUserOnline
	EventUserOffline
	EventNewNotification
	EventMessagesRead
	EventError
	EventPong
)

var eventNames = [...]string{
	EventUnknown:         "unknown",
	EventAuthenticated:   "authenticated",
	EventAuthError:       "authError",
	EventChatHistory:     "chatHistory",
	EventNewMessage:      "newMessage",
	EventMessageSent:     "messageSent",
	EventUserTyping:      "userTyping",
	EventUserOnline:      "userOnline",
	EventUserOffline:     "userOffline",
	EventNewNotification: "newNotification",
	EventMessagesRead:    "messagesRead",
	EventError:           "error",
	EventPong:            "pong",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return eventNames[EventUnknown]
	}
	return eventNames[k]
}

// ParseEventKind maps a wire name back to its kind; unknown names yield EventUnknown.
func ParseEventKind(name string) EventKind {
	for kind, n := range eventNames {
		if n == name {
			return EventKind(kind)
		}
	}
	return EventUnknown
}

// Event is the tagged union of outbound payloads.
type Event interface {
	Kind() EventKind
}

type Authenticated struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName,omitempty"`
}

type AuthError struct {
	Reason string `json:"reason"`
}

type ChatHistory struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
	// Stale is set when the history could not be loaded fresh from the store.
	Stale bool `json:"stale,omitempty"`
}

type NewMessage struct {
	ChatMessage
}

type MessageSent struct {
	Message  ChatMessage `json:"message"`
	ClientID string      `json:"clientId,omitempty"`
}

type UserTyping struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

type NewNotification struct {
	Notification
}

type MessagesRead struct {
	RoomID     string   `json:"roomId"`
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// ErrorEvent reports a failed command asynchronously to the issuing connection.
type ErrorEvent struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Command  string `json:"command,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

type Pong struct{}

func (Authenticated) Kind() EventKind   { return EventAuthenticated }
func (AuthError) Kind() EventKind       { return EventAuthError }
func (ChatHistory) Kind() EventKind     { return EventChatHistory }
func (NewMessage) Kind() EventKind      { return EventNewMessage }
func (MessageSent) Kind() EventKind     { return EventMessageSent }
func (UserTyping) Kind() EventKind      { return EventUserTyping }
func (UserOnline) Kind() EventKind      { return EventUserOnline }
func (UserOffline) Kind() EventKind     { return EventUserOffline }
func (NewNotification) Kind() EventKind { return EventNewNotification }
func (MessagesRead) Kind() EventKind    { return EventMessagesRead }
func (ErrorEvent) Kind() EventKind      { return EventError }
func (Pong) Kind() EventKind            { return EventPong }

// Envelope is the wire frame for outbound events.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode wraps ev in an envelope stamped with at.
func Encode(ev Event, at time.Time) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Event: ev.Kind().String(), Data: data, Timestamp: at.UTC()})
}

// Decode parses an envelope into its typed event.
func Decode(raw []byte) (Event, time.Time, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode envelope: %w", err)
	}
	var ev Event
	switch ParseEventKind(env.Event) {
	case EventAuthenticated:
		ev = &Authenticated{}
	case EventAuthError:
		ev = &AuthError{}
	case EventChatHistory:
		ev = &ChatHistory{}
	case EventNewMessage:
		ev = &NewMessage{}
	case EventMessageSent:
		ev = &MessageSent{}
	case EventUserTyping:
		ev = &UserTyping{}
	case EventUserOnline:
		ev = &UserOnline{}
	case EventUserOffline:
		ev = &UserOffline{}
	case EventNewNotification:
		ev = &NewNotification{}
	case EventMessagesRead:
		ev = &MessagesRead{}
	case EventError:
		ev = &ErrorEvent{}
	case EventPong:
		return Pong{}, env.Timestamp, nil
	default:
		return nil, env.Timestamp, fmt.Errorf("decode envelope: unknown event %q", env.Event)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, env.Timestamp, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
	}
	return deref(ev), env.Timestamp, nil
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *Authenticated:
		return *v
	case *AuthError:
		return *v
	case *ChatHistory:
		return *v
	case *NewMessage:
		return *v
	case *MessageSent:
		return *v
	case *UserTyping:
		return *v
	case *UserOnline:
		return *v
	case *UserOffline:
		return *v
	case *NewNotification:
		return *v
	case *MessagesRead:
		return *v
	case *ErrorEvent:
		return *v
	default:
		return ev
	}
}
