package client

import (
	"time"

	"marketWs/internal/modules/realtime/domain"
)

// Kind keys the listener table.
type Kind int

const (
	KindUnknown Kind = iota
	KindStateChanged
	KindReconnecting
	KindSendFailed
	KindAuthenticated
	KindAuthError
	KindChatHistory
	KindNewMessage
	KindMessageSent
	KindUserTyping
	KindUserOnline
	KindUserOffline
	KindNewNotification
	KindMessagesRead
	KindServerError
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindStateChanged:    "stateChanged",
	KindReconnecting:    "reconnecting",
	KindSendFailed:      "sendFailed",
	KindAuthenticated:   "authenticated",
	KindAuthError:       "authError",
	KindChatHistory:     "chatHistory",
	KindNewMessage:      "newMessage",
	KindMessageSent:     "messageSent",
	KindUserTyping:      "userTyping",
	KindUserOnline:      "userOnline",
	KindUserOffline:     "userOffline",
	KindNewNotification: "newNotification",
	KindMessagesRead:    "messagesRead",
	KindServerError:     "error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Event is what listeners receive. Use a type switch on the concrete types below.
type Event interface {
	Kind() Kind
}

// StateChanged is emitted on every state transition.
type StateChanged struct {
	From State
	To   State
}

// Reconnecting is emitted before each reconnect attempt is scheduled.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// SendFailed reports a chat message that did not reach the server, or that the server
// rejected. The message stays in the outbox until acknowledged or resent.
type SendFailed struct {
	ClientID string
	RoomID   string
	Err      error
}

// Inbound carries an event pushed by the server. Local is set for optimistic echoes.
type Inbound struct {
	Event domain.Event
	At    time.Time
	Local bool
}

func (StateChanged) Kind() Kind { return KindStateChanged }
func (Reconnecting) Kind() Kind { return KindReconnecting }
func (SendFailed) Kind() Kind   { return KindSendFailed }

func (e Inbound) Kind() Kind {
	if e.Event == nil {
		return KindUnknown
	}
	switch e.Event.Kind() {
	case domain.EventAuthenticated:
		return KindAuthenticated
	case domain.EventAuthError:
		return KindAuthError
	case domain.EventChatHistory:
		return KindChatHistory
	case domain.EventNewMessage:
		return KindNewMessage
	case domain.EventMessageSent:
		return KindMessageSent
	case domain.EventUserTyping:
		return KindUserTyping
	case domain.EventUserOnline:
		return KindUserOnline
	case domain.EventUserOffline:
		return KindUserOffline
	case domain.EventNewNotification:
		return KindNewNotification
	case domain.EventMessagesRead:
		return KindMessagesRead
	case domain.EventError:
		return KindServerError
	default:
		return KindUnknown
	}
}
