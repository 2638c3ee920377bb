package domain

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageStatus tracks the delivery/read state of a chat message.
type MessageStatus string

const (
	// StatusPending is only ever set client side for optimistic echoes.
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

const directRoomPrefix = "dm:"

// ChatMessage is immutable once persisted except for status transitions done by the store.
type ChatMessage struct {
	ID         string        `json:"id"`
	RoomID     string        `json:"roomId"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName"`
	Body       string        `json:"body"`
	CreatedAt  time.Time     `json:"createdAt"`
	Status     MessageStatus `json:"status"`
	ClientID   string        `json:"clientId,omitempty"`
}

// NormalizeBody trims body and enforces it is non-empty and at most maxRunes long.
// A maxRunes of zero disables the length check.
func NormalizeBody(body string, maxRunes int) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", fmt.Errorf("%w: message body is empty", ErrValidation)
	}
	if maxRunes > 0 && utf8.RuneCountInString(trimmed) > maxRunes {
		return "", fmt.Errorf("%w: message body exceeds %d characters", ErrValidation, maxRunes)
	}
	return trimmed, nil
}

// DirectRoomID returns the room shared by two users for direct messages.
// The result does not depend on argument order. Both identities are query-escaped so a ':'
// inside an identity cannot shift the separator.
func DirectRoomID(a, b string) string {
	pair := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(pair)
	return directRoomPrefix + url.QueryEscape(pair[0]) + ":" + url.QueryEscape(pair[1])
}

// IsDirectRoom reports whether roomID is in the direct message namespace, well formed or not.
func IsDirectRoom(roomID string) bool {
	return strings.HasPrefix(roomID, directRoomPrefix)
}

// DirectRoomParticipants extracts both users from a direct room id. Only ids produced by
// DirectRoomID parse.
func DirectRoomParticipants(roomID string) (string, string, bool) {
	rest, ok := strings.CutPrefix(roomID, directRoomPrefix)
	if !ok {
		return "", "", false
	}
	rawA, rawB, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", false
	}
	a, errA := url.QueryUnescape(rawA)
	b, errB := url.QueryUnescape(rawB)
	if errA != nil || errB != nil || a == "" || b == "" {
		return "", "", false
	}
	if DirectRoomID(a, b) != roomID {
		return "", "", false
	}
	return a, b, true
}

// CanAccessRoom reports whether userID may join, read or write roomID. Ordinary rooms are
// open; direct rooms admit their two participants only, and malformed direct ids nobody.
func CanAccessRoom(userID, roomID string) bool {
	if !IsDirectRoom(roomID) {
		return true
	}
	a, b, ok := DirectRoomParticipants(roomID)
	return ok && userID != "" && (userID == a || userID == b)
}
