package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"twitch-chat-client/telemetry"
)

// Handler обрабатывает событие. Ошибка пишется в лог и не влияет на других подписчиков.
type Handler func(Event) error

// Token идентифицирует подписку.
type Token string

// Bus раздаёт события подписчикам. У каждого подписчика своя очередь и своя
// горутина: порядок событий для подписчика сохраняется, а медленный или
// упавший обработчик не задерживает остальных.
type Bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	subs   map[Token]*subscriber
	closed bool
}

// NewBus создаёт пустую шину.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		log:  logger.With().Str("component", "events").Logger(),
		subs: make(map[Token]*subscriber),
	}
}

// Subscribe регистрирует обработчик. Без kinds подписчик получает все события.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) Token {
	return b.SubscribeWithReplay(h, nil, kinds...)
}

// SubscribeWithReplay регистрирует обработчик и ставит ему в очередь события
// из replay раньше любых опубликованных позже.
func (b *Bus) SubscribeWithReplay(h Handler, replay func() []Event, kinds ...Kind) Token {
	s := &subscriber{
		token:   Token(uuid.NewString()),
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     b.log,
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return s.token
	}
	b.subs[s.token] = s
	if replay != nil {
		for _, e := range replay() {
			s.push(e)
		}
	}
	go s.run()
	return s.token
}

// Unsubscribe снимает подписку. Уже поставленные в очередь события не доставляются.
func (b *Bus) Unsubscribe(t Token) bool {
	b.mu.Lock()
	s, ok := b.subs[t]
	delete(b.subs, t)
	b.mu.Unlock()
	if ok {
		s.stop()
	}
	return ok
}

// Publish ставит событие в очередь каждому подходящему подписчику.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.push(e)
	}
}

// PublishTo доставляет события только одному подписчику.
func (b *Bus) PublishTo(t Token, evs ...Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.subs[t]
	if !ok {
		return false
	}
	for _, e := range evs {
		s.push(e)
	}
	return true
}

// Len возвращает число подписчиков.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close останавливает всех подписчиков.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[Token]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

type subscriber struct {
	token   Token
	handler Handler
	kinds   map[Kind]struct{}
	log     zerolog.Logger

	mu       sync.Mutex
	queue    []Event
	stopped  bool
	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func (s *subscriber) push(e Event) {
	if !s.wants(e.Kind()) {
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			if err := s.deliver(e); err != nil {
				telemetry.Inc(telemetry.DispatchFailures)
				s.log.Error().Err(err).Str("subscriber", string(s.token)).Str("kind", string(e.Kind())).Msg("events: ошибка обработчика")
			}
		}
	}
}

func (s *subscriber) deliver(e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(e)
}
