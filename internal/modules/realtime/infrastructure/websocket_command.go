package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/platform/metrics"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler executes one inbound command. A returned error is reported to the issuing
// connection as an error event; the connection stays open.
type CommandHandler func(ctx context.Context, conn *domain.Connection, cmd domain.Command) error

// ErrReported marks a failure the handler already reported to the client.
var ErrReported = errors.New("command failure already reported")

type CommandProcessor struct {
	handlers map[string]CommandHandler
	timeout  time.Duration
	metrics  *metrics.Recorder
}

func NewCommandProcessor(rec *metrics.Recorder) *CommandProcessor {
	processor := &CommandProcessor{
		handlers: make(map[string]CommandHandler),
		timeout:  defaultCommandTimeout,
		metrics:  rec,
	}
	processor.Register(domain.CommandPing, processor.handlePing)
	return processor
}

func (p *CommandProcessor) Register(name string, handler CommandHandler) {
	if handler == nil {
		return
	}
	key := domain.NormalizeCommandName(name)
	if key == "" {
		return
	}
	p.handlers[key] = handler
}

// Process runs cmd synchronously so a connection's commands keep their order.
func (p *CommandProcessor) Process(ctx context.Context, conn *domain.Connection, cmd domain.Command) {
	if conn == nil {
		return
	}
	name := cmd.Name()
	handler, ok := p.handlers[name]
	if !ok {
		slog.Debug("ws command ignored", slog.String("connectionId", conn.ID()), slog.String("userId", conn.UserID()), slog.String("command", cmd.Event))
		p.metrics.Command("unknown")
		reportError(conn, cmd, fmt.Errorf("%w: unsupported command %q", domain.ErrValidation, cmd.Event))
		return
	}
	p.metrics.Command(name)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := handler(ctx, conn, cmd); err != nil && !errors.Is(err, ErrReported) {
		slog.Warn("ws command failed", slog.String("connectionId", conn.ID()), slog.String("userId", conn.UserID()), slog.String("command", cmd.Event), slog.Any("error", err))
		reportError(conn, cmd, err)
	}
}

func (p *CommandProcessor) handlePing(_ context.Context, conn *domain.Connection, _ domain.Command) error {
	return conn.Deliver(domain.Pong{})
}

func reportError(conn *domain.Connection, cmd domain.Command, err error) {
	ev := domain.ErrorEvent{
		Code:     domain.ErrorCode(err),
		Message:  err.Error(),
		Command:  cmd.Event,
		ClientID: clientIDOf(cmd.Payload),
	}
	if derr := conn.Deliver(ev); derr != nil {
		slog.Debug("ws error event not delivered", slog.String("connectionId", conn.ID()), slog.Any("error", derr))
	}
}

func clientIDOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var probe struct {
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ClientID
}

// DecodeCommand unmarshals cmd's payload into T. A missing payload yields T's zero value.
func DecodeCommand[T any](cmd domain.Command) (T, error) {
	var payload T
	if len(cmd.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: invalid %s payload: %v", domain.ErrValidation, cmd.Event, err)
	}
	return payload, nil
}
