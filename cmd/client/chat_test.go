package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketWs/internal/modules/realtime/client"
	"marketWs/internal/modules/realtime/domain"
)

type fakeSession struct {
	mu        sync.Mutex
	listeners map[client.Kind]client.Listener
	token     string
	joined    []string
	sent      []string
	resent    []string
	closed    bool
}

func (f *fakeSession) On(kind client.Kind, fn client.Listener) client.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = make(map[client.Kind]client.Listener)
	}
	f.listeners[kind] = fn
	return client.Subscription{}
}

func (f *fakeSession) Connect(token string) { f.token = token }
func (f *fakeSession) Disconnect()          { f.closed = true }
func (f *fakeSession) JoinRoom(id string)   { f.joined = append(f.joined, id) }

func (f *fakeSession) SendMessage(roomID, body string) (string, error) {
	f.sent = append(f.sent, roomID+":"+body)
	f.listeners[client.KindNewMessage](client.Inbound{
		Event: domain.NewMessage{ChatMessage: domain.ChatMessage{Body: body, ClientID: "c1"}},
		Local: true,
	})
	return "c1", nil
}

func (f *fakeSession) Resend(clientID string) error {
	f.resent = append(f.resent, clientID)
	return errors.New("not connected")
}

func TestRunChat_SendsLinesUntilQuit(t *testing.T) {
	s := &fakeSession{}
	in := strings.NewReader("hello\n\n/resend c1\n/quit\nnever sent\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), s, "tok", "job-42", in, &out))

	assert.Equal(t, "tok", s.token)
	assert.Equal(t, []string{"job-42"}, s.joined)
	assert.Equal(t, []string{"job-42:hello"}, s.sent)
	assert.Equal(t, []string{"c1"}, s.resent)
	assert.True(t, s.closed)
	assert.Contains(t, out.String(), "> hello (sending c1)")
	assert.Contains(t, out.String(), "! not connected")
	assert.Len(t, s.listeners, 13)
}

func TestRunChat_StopsOnContextCancel(t *testing.T) {
	s := &fakeSession{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	in, w := io.Pipe()
	defer w.Close()

	require.NoError(t, runChat(ctx, s, "tok", "job-42", in, &out))
	assert.True(t, s.closed)
}

func TestDescribe(t *testing.T) {
	at := time.Date(2024, 5, 1, 15, 4, 0, 0, time.UTC)
	cases := []struct {
		name string
		ev   client.Event
		want string
	}{
		{"state", client.StateChanged{From: client.StateConnecting, To: client.StateConnected}, "* connected"},
		{"reconnect", client.Reconnecting{Attempt: 2, Delay: 2 * time.Second}, "* reconnect attempt 2 in 2s"},
		{"send failed", client.SendFailed{ClientID: "c1", Err: errors.New("boom")}, "! message c1 not delivered: boom"},
		{"authenticated", client.Inbound{Event: domain.Authenticated{UserID: "u1"}}, "* signed in as u1"},
		{"auth error", client.Inbound{Event: domain.AuthError{Reason: "invalid credential"}}, "! sign in failed: invalid credential"},
		{"ack", client.Inbound{Event: domain.MessageSent{ClientID: "c1"}}, "* delivered c1"},
		{"typing", client.Inbound{Event: domain.UserTyping{UserID: "u2", DisplayName: "Bo"}}, "* Bo is typing"},
		{"offline", client.Inbound{Event: domain.UserOffline{UserID: "u2"}}, "* u2 went offline"},
		{"notification", client.Inbound{Event: domain.NewNotification{Notification: domain.Notification{Category: domain.CategoryInfo, Message: "hi"}}}, "! notification info: hi"},
		{"server error", client.Inbound{Event: domain.ErrorEvent{Command: "joinChatRoom", Message: "room id is required"}}, "! joinChatRoom failed: room id is required"},
		{"stale history", client.Inbound{Event: domain.ChatHistory{RoomID: "r1", Stale: true}}, "* 0 earlier messages in r1 (cached)"},
		{"pong", client.Inbound{Event: domain.Pong{}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, describe(tc.ev))
		})
	}

	msg := describe(client.Inbound{Event: domain.NewMessage{ChatMessage: domain.ChatMessage{SenderID: "u1", SenderName: "Ana", Body: "hi", CreatedAt: at}}})
	assert.True(t, strings.HasSuffix(msg, "] Ana: hi"), msg)
}

func TestRootCmd_ChatRequiresRoom(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"chat"})
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room")
}

func TestRootCmd_Help(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"chat", "--help"})
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "--reconnect-attempts")
	assert.Contains(t, buf.String(), "--url")
}
