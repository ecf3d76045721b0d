package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-client/events"
	"twitch-chat-client/model"
	"twitch-chat-client/storage"
	"twitch-chat-client/twitch"
)

// Service управляет жизненным циклом Twitch клиента и подписками на его события.
type Service struct {
	client *twitch.Client
	sinks  []sink
	log    zerolog.Logger
}

type sink struct {
	handler events.Handler
	kinds   []events.Kind
}

// New создаёт Service с уже собранным Twitch клиентом.
func New(client *twitch.Client, logger zerolog.Logger) *Service {
	return &Service{client: client, log: logger.With().Str("component", "service").Logger()}
}

// Attach регистрирует обработчик, который будет подписан при Run.
func (s *Service) Attach(h events.Handler, kinds ...events.Kind) {
	s.sinks = append(s.sinks, sink{handler: h, kinds: kinds})
}

// Run подписывает обработчики, подключает клиента и блокируется до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	tokens := make([]events.Token, 0, len(s.sinks))
	for _, sk := range s.sinks {
		tokens = append(tokens, s.client.Subscribe(sk.handler, sk.kinds...))
	}
	defer func() {
		for _, tok := range tokens {
			s.client.Unsubscribe(tok)
		}
	}()

	s.log.Info().Int("sinks", len(tokens)).Strs("channels", s.client.Channels()).Msg("сервис запущен")
	return s.client.Run(ctx)
}

type messageQueue interface {
	Enqueue(msg model.TwitchMessage) bool
}

type roomStateSaver func(ctx context.Context, state model.RoomState) error

// Handler перенаправляет события клиента в хранилище.
type Handler struct {
	batcher   messageQueue
	saveState roomStateSaver
	log       zerolog.Logger
}

// NewHandler собирает Handler поверх батчера и пула БД.
func NewHandler(batcher *storage.Batcher, db storage.Execer, flushTimeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		batcher: batcher,
		saveState: func(ctx context.Context, state model.RoomState) error {
			return storage.SaveRoomState(ctx, db, state, flushTimeout)
		},
		log: logger.With().Str("component", "storage-handler").Logger(),
	}
}

// Kinds возвращает события, которые нужны Handler.
func (h *Handler) Kinds() []events.Kind {
	return []events.Kind{events.KindMessage, events.KindRoomState}
}

// Handle реализует events.Handler.
func (h *Handler) Handle(ev events.Event) error {
	switch e := ev.(type) {
	case events.MessageReceived:
		h.HandleChat(e.Message)
	case events.RoomStateChanged:
		return h.HandleRoomState(context.Background(), e.State)
	}
	return nil
}

// HandleChat помещает сообщения чата в очередь батчера.
func (h *Handler) HandleChat(msg model.TwitchMessage) {
	if ok := h.batcher.Enqueue(msg); !ok {
		h.log.Warn().Str("channel", msg.Channel).Msg("батчер: сообщение отброшено")
	}
}

// HandleRoomState сохраняет снимок комнаты напрямую через пул БД.
func (h *Handler) HandleRoomState(ctx context.Context, state model.RoomState) error {
	if err := h.saveState(ctx, state); err != nil {
		h.log.Error().Err(err).Str("channel", state.Channel).Msg("ошибка сохранения ROOMSTATE")
		return err
	}
	return nil
}

// NewLogHandler пишет разобранные сообщения в лог; используется без Postgres.
func NewLogHandler(logger zerolog.Logger) events.Handler {
	log := logger.With().Str("component", "chat").Logger()
	return func(ev events.Event) error {
		switch e := ev.(type) {
		case events.MessageReceived:
			m := e.Message
			log.Info().
				Str("channel", m.Channel).
				Str("user", m.Author.DisplayName).
				Bool("action", m.Action).
				Int("bits", m.BitAmount).
				Msg(m.Content)
		case events.RoomStateChanged:
			log.Info().Str("channel", e.Channel).Str("state", e.State.String()).Msg("состояние комнаты")
		case events.ChannelJoined:
			log.Info().Str("channel", e.Channel).Msg("канал добавлен")
		case events.ChannelParted:
			log.Info().Str("channel", e.Channel).Msg("канал удалён")
		}
		return nil
	}
}
