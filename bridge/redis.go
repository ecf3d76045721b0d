// Package bridge ретранслирует события чата в Redis pub/sub, чтобы их могли
// читать другие процессы.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"twitch-chat-client/events"
)

// Envelope публикуется в Redis. InstanceID позволяет потребителю
// отличать несколько запущенных клиентов.
type Envelope struct {
	InstanceID string          `json:"instance_id"`
	Kind       events.Kind     `json:"kind"`
	Channel    string          `json:"channel,omitempty"`
	At         time.Time       `json:"at"`
	Event      json.RawMessage `json:"event"`
}

// Config задаёт адрес Redis и префикс каналов.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisBridge публикует события в каналы <prefix><kind>.
type RedisBridge struct {
	client     redisPublisher
	prefix     string
	instanceID string
	logger     zerolog.Logger
	now        func() time.Time
	timeout    time.Duration

	mu     sync.RWMutex
	active bool
}

// NewRedisBridge создаёт мост; соединение проверяется в Start.
func NewRedisBridge(cfg Config, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisBridge(client, cfg.Prefix, logger)
}

func newRedisBridge(client redisPublisher, prefix string, logger zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		now:        time.Now,
		timeout:    2 * time.Second,
	}
}

// Start проверяет доступность Redis.
func (b *RedisBridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("prefix", b.prefix).
		Msg("bridge: публикация в redis запущена")
	return nil
}

// Handle публикует событие (events.Handler). Сырые строки не ретранслируются.
func (b *RedisBridge) Handle(ev events.Event) error {
	if !b.Available() || ev.Kind() == events.KindRawFrame {
		return nil
	}
	channel, data, err := b.encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Stop закрывает соединение.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
	return b.client.Close()
}

// Available сообщает, прошёл ли Start.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// InstanceID возвращает идентификатор этого процесса в конвертах.
func (b *RedisBridge) InstanceID() string {
	return b.instanceID
}

func (b *RedisBridge) encode(ev events.Event) (string, []byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	env := Envelope{
		InstanceID: b.instanceID,
		Kind:       ev.Kind(),
		Channel:    channelOf(ev),
		At:         b.now().UTC(),
		Event:      payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b.prefix + string(ev.Kind()), data, nil
}

func channelOf(ev events.Event) string {
	switch e := ev.(type) {
	case events.MessageReceived:
		return e.Message.Channel
	case events.RoomStateChanged:
		return e.Channel
	case events.ChatJoined:
		return e.Channel
	case events.ChatParted:
		return e.Channel
	case events.ChannelJoined:
		return e.Channel
	case events.ChannelParted:
		return e.Channel
	}
	return ""
}
