package domain

import (
	"encoding/json"
	"strings"
)

// Inbound command names accepted over the transport.
const (
	CommandAuthenticate = "authenticate"
	CommandJoinRoom     = "joinChatRoom"
	CommandLeaveRoom    = "leaveChatRoom"
	CommandSendMessage  = "sendMessage"
	CommandTyping       = "typing"
	CommandMarkRead     = "markRead"
	CommandPing         = "ping"
)

// Command is the inbound wire frame.
type Command struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Name returns the normalized command name used for handler lookup.
func (c Command) Name() string {
	return NormalizeCommandName(c.Event)
}

// NormalizeCommandName folds case and surrounding spaces so "JoinChatRoom " matches "joinChatRoom".
func NormalizeCommandName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewCommand builds a command frame with payload encoded as JSON.
func NewCommand(event string, payload any) (Command, error) {
	cmd := Command{Event: event}
	if payload == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	cmd.Payload = raw
	return cmd, nil
}

type AuthenticateCommand struct {
	UserID string `json:"userId,omitempty"`
	Token  string `json:"token"`
}

type JoinRoomCommand struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomCommand struct {
	RoomID string `json:"roomId"`
}

// SendMessageCommand targets either a room or, for direct messages, a user.
type SendMessageCommand struct {
	RoomID   string `json:"roomId,omitempty"`
	ToUser   string `json:"toUser,omitempty"`
	Body     string `json:"body"`
	ClientID string `json:"clientId,omitempty"`
}

type TypingCommand struct {
	RoomID string `json:"roomId"`
}

type MarkReadCommand struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}
