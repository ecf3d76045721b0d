package storage

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"twitch-chat-client/model"
	"twitch-chat-client/telemetry"
)

// BatchConfig задаёт параметры батчинга для вставки сообщений.
type BatchConfig struct {
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	StatsLogEvery time.Duration
	FlushTimeout  time.Duration
}

// Batcher асинхронно вставляет сообщения чата через pgx.Batch.
type Batcher struct {
	input   chan model.TwitchMessage
	config  BatchConfig
	sender  batchSender
	log     zerolog.Logger
	dropped atomic.Uint64
	done    chan struct{}
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewBatcher создаёт батчер и запускает фоновые флаши.
func NewBatcher(ctx context.Context, pool *pgxpool.Pool, cfg BatchConfig, logger zerolog.Logger) *Batcher {
	return newBatcher(ctx, pool, cfg, logger)
}

// Enqueue пытается добавить сообщение в очередь; при переполнении возвращает false.
func (b *Batcher) Enqueue(msg model.TwitchMessage) bool {
	select {
	case b.input <- msg:
		return true
	default:
		dropped := b.dropped.Add(1)
		if dropped%100 == 0 {
			b.log.Warn().Uint64("dropped", dropped).Msg("батчер: очередь заполнена")
		}
		return false
	}
}

// Dropped возвращает число сообщений, отброшенных из-за переполнения.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Done закрывается после финального флаша при отмене контекста.
func (b *Batcher) Done() <-chan struct{} {
	return b.done
}

const insertMessage = `
insert into chat_messages (
  message_id, channel, room_id, user_id, display_name, text, badges, emotes, color,
  is_mod, is_subscriber, is_broadcaster, is_vip, is_action, bits, raw, received_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
on conflict (message_id) do nothing;`

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	flushTicker := time.NewTicker(b.config.FlushEvery)
	statsTicker := time.NewTicker(b.config.StatsLogEvery)
	defer flushTicker.Stop()
	defer statsTicker.Stop()

	var (
		batch            = &pgx.Batch{}
		pending          = 0
		totalInserted    uint64
		intervalInserted uint64
	)

	flush := func() {
		if pending == 0 {
			return
		}

		dbCtx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()

		_, span := telemetry.StartSpan(dbCtx, "storage.flush")
		telemetry.TimeFunc(telemetry.FlushDuration, func() {
			br := b.sender.SendBatch(dbCtx, batch)
			if err := br.Close(); err != nil {
				telemetry.RecordError(span, err)
				b.log.Error().Err(err).Int("rows", pending).Msg("ошибка флаша батчера")
			}
		})
		span.End()

		telemetry.Add(telemetry.RowsInserted, pending)
		totalInserted += uint64(pending)
		intervalInserted += uint64(pending)

		batch = &pgx.Batch{}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			b.log.Info().Uint64("total", totalInserted).Msg("батчер: контекст отменён")
			return
		case <-flushTicker.C:
			flush()
		case <-statsTicker.C:
			b.log.Info().
				Uint64("inserted", intervalInserted).
				Dur("interval", b.config.StatsLogEvery).
				Uint64("total", totalInserted).
				Msg("батчер: статистика вставки")
			intervalInserted = 0
		case msg := <-b.input:
			batch.Queue(insertMessage, messageArgs(msg)...)
			pending++
			if pending >= b.config.MaxBatch {
				flush()
			}
		}
	}
}

// messageArgs раскладывает сообщение в аргументы insertMessage.
func messageArgs(msg model.TwitchMessage) []any {
	badges := make(map[string]int, len(msg.Author.Badges))
	for _, bdg := range msg.Author.Badges {
		badges[bdg.Name] = bdg.Version
	}
	badgesJSON, _ := json.Marshal(badges)

	emotes := make(map[string][]string, len(msg.Emotes))
	for _, e := range msg.Emotes {
		for _, s := range e.Spans {
			emotes[e.ID] = append(emotes[e.ID], s.Start+"-"+s.End)
		}
	}
	emotesJSON, _ := json.Marshal(emotes)

	var roomID *string
	if msg.Room != nil && msg.Room.RoomID != "" {
		roomID = ptr(msg.Room.RoomID)
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return []any{
		nullable(msg.ID), msg.Channel, roomID, nullable(msg.Author.UserID), nullable(msg.Author.DisplayName),
		msg.Content, badgesJSON, emotesJSON, nullable(msg.Author.Color),
		msg.Author.IsMod, msg.Author.IsSubscriber, msg.Author.IsBroadcaster, msg.Author.IsVIP, msg.Action,
		bitsPtr(msg), msg.Raw, receivedAt.UTC(),
	}
}

func ptr[T any](v T) *T { return &v }

// nullable превращает пустую строку в NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func bitsPtr(msg model.TwitchMessage) *int {
	if !msg.GaveBits {
		return nil
	}
	return ptr(msg.BitAmount)
}

func newBatcher(ctx context.Context, sender batchSender, cfg BatchConfig, logger zerolog.Logger) *Batcher {
	b := &Batcher{
		input:  make(chan model.TwitchMessage, cfg.ChanBuffer),
		config: cfg,
		sender: sender,
		log:    logger.With().Str("component", "batcher").Logger(),
		done:   make(chan struct{}),
	}

	go b.run(ctx)

	return b
}
