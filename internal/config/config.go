package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Security  SecurityConfig
	Websocket WebsocketConfig
	Chat      ChatConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level     string
	Format    string
	Directory string
}

type SecurityConfig struct {
	JWTSecret    string
	JWTPublicKey string
	JWTIssuer    string
	// PublisherRole is required on tokens that publish notifications over HTTP.
	PublisherRole string
}

type WebsocketConfig struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	// AllowedOrigins empty means any origin is accepted.
	AllowedOrigins []string
}

type ChatConfig struct {
	HistoryLimit int
	MaxBodyRunes int
}

type KafkaConfig struct {
	Brokers            []string
	GroupID            string
	NotificationTopics []string
	AllowedActions     []string
}

// RedisConfig enables the shared presence tracker when Addr is set.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// PostgresConfig enables the persistent stores when DSN is set.
type PostgresConfig struct {
	DSN     string
	Migrate bool
}

// Load reads the configuration from the environment. Every invalid value is reported.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Server: ServerConfig{
			Port:            envString("PORT", "8080"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:     envString("LOG_LEVEL", "info"),
			Format:    envString("LOG_FORMAT", "json"),
			Directory: envString("LOG_DIR", "./logs"),
		},
		Security: SecurityConfig{
			JWTSecret:     envString("JWT_SECRET", ""),
			JWTPublicKey:  strings.ReplaceAll(envString("JWT_PUBLIC_KEY", ""), `\n`, "\n"),
			JWTIssuer:     envString("JWT_ISSUER", ""),
			PublisherRole: envString("NOTIFICATIONS_PUBLISHER_ROLE", "service"),
		},
		Websocket: WebsocketConfig{
			SendBuffer:     p.integer("WS_SEND_BUFFER", 64),
			WriteWait:      p.duration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:       p.duration("WS_PONG_WAIT", 60*time.Second),
			PingPeriod:     p.duration("WS_PING_PERIOD", 30*time.Second),
			MaxMessageSize: int64(p.integer("WS_MAX_MESSAGE_BYTES", 1<<16)),
			AllowedOrigins: envList("WS_ALLOWED_ORIGINS"),
		},
		Chat: ChatConfig{
			HistoryLimit: p.integer("CHAT_HISTORY_LIMIT", 50),
			MaxBodyRunes: p.integer("CHAT_MAX_BODY", 4000),
		},
		Kafka: KafkaConfig{
			Brokers:            kafkaBrokers(),
			GroupID:            envString("KAFKA_GROUP_ID", "marketws"),
			NotificationTopics: envListDefault("KAFKA_NOTIFICATION_TOPICS", []string{"marketplace.notifications"}),
			AllowedActions:     envListDefault("KAFKA_ALLOWED_ACTIONS", []string{"created"}),
		},
		Redis: RedisConfig{
			Addr:        envString("REDIS_ADDR", ""),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          p.integer("REDIS_DB", 0),
			PresenceTTL: p.duration("PRESENCE_TTL", 5*time.Minute),
		},
		Postgres: PostgresConfig{
			DSN:     envString("DATABASE_URL", ""),
			Migrate: p.boolean("DATABASE_MIGRATE", true),
		},
	}
	p.check(cfg.Validate())
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT: %q is not a number", c.Server.Port))
	}
	if c.Security.JWTSecret == "" && c.Security.JWTPublicKey == "" {
		errs = append(errs, errors.New("JWT_SECRET or JWT_PUBLIC_KEY is required"))
	}
	if c.Websocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.Websocket.PingPeriod >= c.Websocket.PongWait {
		errs = append(errs, errors.New("WS_PING_PERIOD must be shorter than WS_PONG_WAIT"))
	}
	if c.Chat.HistoryLimit <= 0 {
		errs = append(errs, errors.New("CHAT_HISTORY_LIMIT must be positive"))
	}
	if c.Chat.MaxBodyRunes <= 0 {
		errs = append(errs, errors.New("CHAT_MAX_BODY must be positive"))
	}
	return errors.Join(errs...)
}

// Enabled reports whether at least one broker is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func (c PostgresConfig) Enabled() bool { return c.DSN != "" }

type parser struct {
	errs []error
}

func (p *parser) check(err error) {
	if err != nil {
		p.errs = append(p.errs, err)
	}
}

func (p *parser) integer(key string, def int) int {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.check(fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.check(fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}

func (p *parser) boolean(key string, def bool) bool {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.check(fmt.Errorf("%s: %q is not a boolean", key, raw))
		return def
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envListDefault(key string, def []string) []string {
	if v := envList(key); len(v) > 0 {
		return v
	}
	return def
}

// kafkaBrokers accepts KAFKA_BROKERS and the older single KAFKA_BROKER variable.
func kafkaBrokers() []string {
	if brokers := envList("KAFKA_BROKERS"); len(brokers) > 0 {
		return brokers
	}
	return envList("KAFKA_BROKER")
}
