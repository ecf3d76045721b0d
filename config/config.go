package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config агрегирует значения конфигурации из переменных окружения.
type Config struct {
	Twitch   TwitchConfig
	Postgres PostgresConfig
	Batch    BatchConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// Credentials — учётные данные для входа в чат. Пустые Username или
// OAuthToken означают анонимный вход.
type Credentials struct {
	Username   string
	Channel    string
	OAuthToken string
}

// Anonymous сообщает, нужно ли входить под justinfan-ником.
func (c Credentials) Anonymous() bool {
	return c.Username == "" || c.OAuthToken == ""
}

// TwitchConfig содержит учётные данные, каналы и параметры IRC-соединения.
type TwitchConfig struct {
	Credentials
	Channels  []string
	Host      string
	Port      int
	RateLimit time.Duration
	TokenFile string
}

// PostgresConfig хранит параметры подключения к пулу базы данных.
type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
}

// Enabled сообщает, задан ли Postgres вообще.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// DSN собирает строку подключения для pgx/pgxpool.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.DB)
}

// BatchConfig задаёт параметры батчинга и флашей при записи чатов.
type BatchConfig struct {
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	StatsLogEvery time.Duration
	FlushTimeout  time.Duration
}

// RedisConfig задаёт публикацию событий в Redis. Пустой Addr отключает её.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Enabled сообщает, задан ли Redis.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// MetricsConfig задаёт адрес HTTP-сервера с /metrics и /healthz. Пустой адрес отключает его.
type MetricsConfig struct {
	Addr string
}

// LogConfig задаёт уровень и формат логов.
type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultHost = "irc.chat.twitch.tv"
	defaultPort = 6667
)

// Load читает переменные окружения и возвращает валидированную Config.
func Load() (Config, error) {
	primary := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(os.Getenv("TWITCH_CHANNEL")), "#")))
	channels := splitAndTrim(os.Getenv("TWITCH_CHANNELS"))
	if primary != "" && !contains(channels, primary) {
		channels = append([]string{primary}, channels...)
	}
	if primary == "" && len(channels) > 0 {
		primary = channels[0]
	}

	cfg := Config{
		Twitch: TwitchConfig{
			Credentials: Credentials{
				Username:   strings.TrimSpace(os.Getenv("TWITCH_USERNAME")),
				Channel:    primary,
				OAuthToken: strings.TrimSpace(os.Getenv("TWITCH_OAUTH_TOKEN")),
			},
			Channels:  channels,
			Host:      envOr("TWITCH_IRC_HOST", defaultHost),
			Port:      defaultPort,
			RateLimit: 1500 * time.Millisecond,
			TokenFile: strings.TrimSpace(os.Getenv("TOKEN_FILE")),
		},
		Postgres: PostgresConfig{
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     strings.TrimSpace(os.Getenv("POSTGRES_PORT")),
			DB:       strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: strings.TrimSpace(os.Getenv("POSTGRES_PASSWORD")),
		},
		Batch: BatchConfig{
			MaxBatch:      100,
			FlushEvery:    1500 * time.Millisecond,
			ChanBuffer:    4096,
			StatsLogEvery: 5 * time.Minute,
			FlushTimeout:  5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			Prefix:   envOr("REDIS_PREFIX", "twitch:chat:"),
		},
		Metrics: MetricsConfig{
			Addr: envOr("METRICS_ADDR", ":9090"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envOr("LOG_LEVEL", "info")),
			Format: strings.ToLower(envOr("LOG_FORMAT", "console")),
		},
	}

	if v := strings.TrimSpace(os.Getenv("TWITCH_IRC_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TWITCH_IRC_PORT: %w", err)
		}
		cfg.Twitch.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("TWITCH_RATE_LIMIT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("TWITCH_RATE_LIMIT: %w", err)
		}
		cfg.Twitch.RateLimit = d
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Twitch.Channels) == 0 {
		return fmt.Errorf("требуется TWITCH_CHANNELS или TWITCH_CHANNEL")
	}
	if c.Twitch.OAuthToken != "" && c.Twitch.Username == "" {
		return fmt.Errorf("требуется TWITCH_USERNAME вместе с TWITCH_OAUTH_TOKEN")
	}
	if c.Twitch.Port <= 0 || c.Twitch.Port > 65535 {
		return fmt.Errorf("TWITCH_IRC_PORT вне диапазона: %d", c.Twitch.Port)
	}
	if c.Twitch.RateLimit <= 0 {
		return fmt.Errorf("TWITCH_RATE_LIMIT должен быть больше нуля")
	}

	if c.Postgres.Enabled() {
		if c.Postgres.Port == "" {
			return fmt.Errorf("требуется POSTGRES_PORT")
		}
		if c.Postgres.DB == "" {
			return fmt.Errorf("требуется POSTGRES_DB")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("требуется POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			return fmt.Errorf("требуется POSTGRES_PASSWORD")
		}
	}

	if c.Batch.MaxBatch <= 0 {
		return fmt.Errorf("Batch.MaxBatch должен быть больше нуля")
	}
	if c.Batch.FlushEvery <= 0 {
		return fmt.Errorf("Batch.FlushEvery должен быть больше нуля")
	}
	if c.Batch.ChanBuffer <= 0 {
		return fmt.Errorf("Batch.ChanBuffer должен быть больше нуля")
	}
	if c.Batch.StatsLogEvery <= 0 {
		return fmt.Errorf("Batch.StatsLogEvery должен быть больше нуля")
	}
	if c.Batch.FlushTimeout <= 0 {
		return fmt.Errorf("Batch.FlushTimeout должен быть больше нуля")
	}

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "#")))
		if p != "" && !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
