package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"marketWs/internal/config"
	"marketWs/internal/modules/realtime/application/handler"
	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/infrastructure"
	transport "marketWs/internal/modules/realtime/interface"
	"marketWs/internal/platform/broker"
	"marketWs/internal/platform/metrics"
	"marketWs/internal/shared/auth"
	"marketWs/internal/shared/errutil"
	"marketWs/internal/shared/logging"
)

// stores groups the persistence adapters selected by configuration.
type stores struct {
	messages      port.MessageStore
	notifications port.NotificationStore
	presence      port.PresenceTracker
	close         func()
}

func main() {
	// Attempt to load variables from .env so local runs honour configuration tweaks.
	if err := godotenv.Overload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	_, logFile, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Directory: cfg.Logging.Directory,
		AddSource: true,
	}, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.Info("logging initialized", slog.String("directory", cfg.Logging.Directory), slog.String("level", cfg.Logging.Level), slog.String("format", cfg.Logging.Format))

	if err := run(cfg); err != nil {
		errutil.LogError(context.Background(), nil, "server stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validator, err := auth.NewJWTValidatorWithPublicKey(cfg.Security.JWTSecret, cfg.Security.JWTPublicKey)
	if err != nil {
		return err
	}
	validator.WithIssuer(cfg.Security.JWTIssuer)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	rec := metrics.New()
	hub := infrastructure.NewHub()

	// Use cases
	broadcaster := usecase.NewBroadcastUseCase(hub, rec)
	dispatcher := usecase.NewNotificationDispatcher(broadcaster, rec)
	registry := usecase.NewConnectionRegistry(hub, validator, st.presence, broadcaster, rec).
		WithPresenceRefresh(cfg.Redis.PresenceTTL / 2)
	rooms := usecase.NewRoomMembership(hub, st.messages, cfg.Chat.HistoryLimit)
	router := usecase.NewMessageRouter(rooms, st.messages, broadcaster, dispatcher, rec, cfg.Chat.MaxBodyRunes)
	notifications := usecase.NewNotificationService(st.notifications, dispatcher)
	go registry.RunPresence(ctx)

	commands := infrastructure.NewCommandProcessor(rec)
	transport.RegisterCommands(commands, registry, rooms, router)

	// One stream handler per configured Kafka topic.
	topics := infrastructure.NewHandlerRegistry()
	for _, topic := range cfg.Kafka.NotificationTopics {
		topics.Register(handler.NewNotificationStreamHandler(topic, cfg.Kafka.AllowedActions, dispatcher))
	}
	slog.Info("kafka config resolved", slog.Any("brokers", cfg.Kafka.Brokers), slog.String("group", cfg.Kafka.GroupID), slog.Any("topics", topics.Topics()))
	consumers := broker.StartKafkaConsumers(ctx, topics, cfg.Kafka.Brokers, cfg.Kafka.GroupID)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID(), middleware.Recover())
	transport.RegisterRoutes(e, transport.Routes{
		Websocket: transport.NewWebsocketHandler(registry, commands, transport.WebsocketOptions{
			SendBuffer:     cfg.Websocket.SendBuffer,
			AllowedOrigins: cfg.Websocket.AllowedOrigins,
			BaseContext:    ctx,
			Client: infrastructure.ClientConfig{
				WriteWait:      cfg.Websocket.WriteWait,
				PongWait:       cfg.Websocket.PongWait,
				PingPeriod:     cfg.Websocket.PingPeriod,
				MaxMessageSize: cfg.Websocket.MaxMessageSize,
			},
		}),
		Notifications: transport.NewNotificationHandlers(notifications, cfg.Security.PublisherRole),
		Registry:      registry,
		Validator:     validator,
		Metrics:       rec.Handler(),
	})

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", slog.Any("error", err))
	}
	stop()
	consumers.Wait()
	return nil
}

// openStores picks PostgreSQL and Redis when configured and in-memory adapters otherwise.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	memory := infrastructure.NewMemoryStore()
	st := &stores{messages: memory, notifications: memory, presence: infrastructure.NewMemoryPresence(), close: func() {}}
	var closers []func()

	if cfg.Postgres.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := infrastructure.ConnectPostgres(connectCtx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		pg := infrastructure.NewPostgresStore(pool)
		if cfg.Postgres.Migrate {
			if err := pg.Migrate(connectCtx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		st.messages, st.notifications = pg, pg
		slog.Info("postgres store enabled", slog.Int("maxConns", int(pool.Config().MaxConns)))
	} else {
		slog.Warn("DATABASE_URL not set, messages and notifications are kept in memory")
	}

	if cfg.Redis.Enabled() {
		client, err := infrastructure.ConnectRedis(ctx, &redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		st.presence = infrastructure.NewRedisPresence(client, cfg.Redis.PresenceTTL)
		slog.Info("redis presence enabled", slog.String("addr", cfg.Redis.Addr))
	}

	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return st, nil
}
