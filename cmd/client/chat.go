package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"marketWs/internal/modules/realtime/client"
	"marketWs/internal/modules/realtime/domain"
)

type chatFlags struct {
	room      string
	baseDelay time.Duration
	attempts  int
	maxBody   int
}

func newChatCmd(global *globalFlags) *cobra.Command {
	flags := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat from stdin",
		Long: `Join a chat room and send every line read from stdin as a message.
Lines starting with /resend <clientId> retry an unacknowledged message, /quit exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := global.token
			if token == "" {
				token = os.Getenv("MARKETWS_TOKEN")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			m := client.NewManager(client.NewWebsocketProvider(global.url), client.Config{
				BaseDelay:            flags.baseDelay,
				MaxReconnectAttempts: flags.attempts,
				MaxBodyRunes:         flags.maxBody,
			})
			return runChat(ctx, m, token, flags.room, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.room, "room", "", "room to join")
	cmd.Flags().DurationVar(&flags.baseDelay, "reconnect-delay", client.DefaultBaseDelay, "base reconnect delay, multiplied by the attempt number")
	cmd.Flags().IntVar(&flags.attempts, "reconnect-attempts", client.DefaultMaxReconnectAttempts, "reconnect attempts before giving up")
	cmd.Flags().IntVar(&flags.maxBody, "max-body", 4000, "maximum message length in characters")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

// chatSession is the surface of client.Manager the chat loop needs.
type chatSession interface {
	On(kind client.Kind, fn client.Listener) client.Subscription
	Connect(token string)
	Disconnect()
	JoinRoom(roomID string)
	SendMessage(roomID, body string) (string, error)
	Resend(clientID string) error
}

func runChat(ctx context.Context, s chatSession, token, room string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var mu sync.Mutex
	show := func(ev client.Event) {
		line := describe(ev)
		if line == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, line)
	}
	for _, k := range []client.Kind{
		client.KindStateChanged, client.KindReconnecting, client.KindSendFailed,
		client.KindAuthenticated, client.KindAuthError, client.KindChatHistory,
		client.KindNewMessage, client.KindMessageSent, client.KindUserTyping,
		client.KindUserOnline, client.KindUserOffline, client.KindNewNotification,
		client.KindServerError,
	} {
		s.On(k, show)
	}

	s.Connect(token)
	s.JoinRoom(room)
	defer s.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(s, room, line)
			if err != nil {
				mu.Lock()
				fmt.Fprintln(out, "!", err)
				mu.Unlock()
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(s chatSession, room, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case strings.HasPrefix(line, "/resend "):
		return false, s.Resend(strings.TrimSpace(strings.TrimPrefix(line, "/resend ")))
	default:
		_, err := s.SendMessage(room, line)
		return false, err
	}
}

// describe renders ev as one terminal line. Events not worth showing yield "".
func describe(ev client.Event) string {
	switch e := ev.(type) {
	case client.StateChanged:
		return fmt.Sprintf("* %s", e.To)
	case client.Reconnecting:
		return fmt.Sprintf("* reconnect attempt %d in %s", e.Attempt, e.Delay)
	case client.SendFailed:
		return fmt.Sprintf("! message %s not delivered: %v", e.ClientID, e.Err)
	case client.Inbound:
		return describeInbound(e)
	default:
		return ""
	}
}

func describeInbound(in client.Inbound) string {
	switch e := in.Event.(type) {
	case domain.Authenticated:
		return fmt.Sprintf("* signed in as %s", nameOr(e.DisplayName, e.UserID))
	case domain.AuthError:
		return fmt.Sprintf("! sign in failed: %s", e.Reason)
	case domain.ChatHistory:
		var b strings.Builder
		fmt.Fprintf(&b, "* %d earlier messages in %s", len(e.Messages), e.RoomID)
		if e.Stale {
			b.WriteString(" (cached)")
		}
		for _, msg := range e.Messages {
			fmt.Fprintf(&b, "\n  [%s] %s: %s", msg.CreatedAt.Local().Format(time.Kitchen), nameOr(msg.SenderName, msg.SenderID), msg.Body)
		}
		return b.String()
	case domain.NewMessage:
		if in.Local {
			return fmt.Sprintf("> %s (sending %s)", e.Body, e.ClientID)
		}
		return fmt.Sprintf("[%s] %s: %s", e.CreatedAt.Local().Format(time.Kitchen), nameOr(e.SenderName, e.SenderID), e.Body)
	case domain.MessageSent:
		return fmt.Sprintf("* delivered %s", e.ClientID)
	case domain.UserTyping:
		return fmt.Sprintf("* %s is typing", nameOr(e.DisplayName, e.UserID))
	case domain.UserOnline:
		return fmt.Sprintf("* %s is online", e.UserID)
	case domain.UserOffline:
		return fmt.Sprintf("* %s went offline", e.UserID)
	case domain.NewNotification:
		return fmt.Sprintf("! notification %s: %s", e.Category, e.Message)
	case domain.ErrorEvent:
		return fmt.Sprintf("! %s failed: %s", nameOr(e.Command, "command"), e.Message)
	default:
		return ""
	}
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
