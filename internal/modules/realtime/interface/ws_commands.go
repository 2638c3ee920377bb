package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/modules/realtime/infrastructure"
)

// RegisterCommands binds the chat commands to the processor.
func RegisterCommands(p *infrastructure.CommandProcessor, registry *usecase.ConnectionRegistry, rooms *usecase.RoomMembership, router *usecase.MessageRouter) {
	p.Register(domain.CommandAuthenticate, decoded(func(ctx context.Context, conn *domain.Connection, cmd domain.AuthenticateCommand) error {
		_, err := registry.Authenticate(ctx, conn, usecase.AuthenticateInput{UserID: cmd.UserID, Token: cmd.Token})
		if errors.Is(err, domain.ErrAuth) {
			// authError already sent
			return fmt.Errorf("%w: %w", infrastructure.ErrReported, err)
		}
		return err
	}))

	p.Register(domain.CommandJoinRoom, decoded(func(ctx context.Context, conn *domain.Connection, cmd domain.JoinRoomCommand) error {
		_, err := rooms.Join(ctx, conn, cmd.RoomID)
		return err
	}))

	p.Register(domain.CommandLeaveRoom, decoded(func(_ context.Context, conn *domain.Connection, cmd domain.LeaveRoomCommand) error {
		roomID := strings.TrimSpace(cmd.RoomID)
		if roomID == "" {
			return fmt.Errorf("%w: room id is required", domain.ErrValidation)
		}
		rooms.Leave(conn, roomID)
		return nil
	}))

	p.Register(domain.CommandSendMessage, decoded(func(ctx context.Context, conn *domain.Connection, cmd domain.SendMessageCommand) error {
		_, err := router.Send(ctx, conn, usecase.SendInput{RoomID: cmd.RoomID, ToUser: cmd.ToUser, Body: cmd.Body, ClientID: cmd.ClientID})
		return err
	}))

	p.Register(domain.CommandTyping, decoded(func(ctx context.Context, conn *domain.Connection, cmd domain.TypingCommand) error {
		return router.Typing(ctx, conn, cmd.RoomID)
	}))

	p.Register(domain.CommandMarkRead, decoded(func(ctx context.Context, conn *domain.Connection, cmd domain.MarkReadCommand) error {
		_, err := router.MarkRead(ctx, conn, cmd.RoomID, cmd.MessageIDs)
		return err
	}))
}

// decoded adapts a typed handler to the processor, rejecting malformed payloads.
func decoded[T any](fn func(context.Context, *domain.Connection, T) error) infrastructure.CommandHandler {
	return func(ctx context.Context, conn *domain.Connection, cmd domain.Command) error {
		payload, err := infrastructure.DecodeCommand[T](cmd)
		if err != nil {
			return err
		}
		return fn(ctx, conn, payload)
	}
}
