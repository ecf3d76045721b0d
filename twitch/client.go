// Package twitch разбирает строки Twitch IRC в события чата и управляет
// сессией: рукопожатие, вход и выход из каналов, отправка сообщений.
package twitch

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"twitch-chat-client/config"
	"twitch-chat-client/events"
	"twitch-chat-client/irc"
	"twitch-chat-client/model"
	"twitch-chat-client/telemetry"
)

// Capabilities запрашиваются сразу после подключения.
const Capabilities = "twitch.tv/membership twitch.tv/commands twitch.tv/tags"

var (
	// ErrNoChannel возвращается при отправке без указания канала.
	ErrNoChannel = errors.New("twitch: channel is required")
	// ErrEmptyMessage возвращается при отправке пустого текста.
	ErrEmptyMessage = errors.New("twitch: message is empty")
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Option настраивает Client.
type Option func(*Client)

// WithConnOptions передаёт опции транспорту.
func WithConnOptions(opts ...irc.Option) Option {
	return func(c *Client) { c.connOpts = append(c.connOpts, opts...) }
}

// WithClock подменяет источник времени для сообщений и кеша пользователей.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client — чат-клиент Twitch. Объединяет транспорт, ограничитель, реестр комнат и шину событий.
type Client struct {
	cfg      config.TwitchConfig
	log      zerolog.Logger
	now      func() time.Time
	connOpts []irc.Option

	conn    *irc.Conn
	limiter *irc.Limiter
	rooms   *Registry
	bus     *events.Bus

	ready atomic.Bool

	// roomsMu упорядочивает вход и выход из каналов с рукопожатием и
	// досылкой состояния новым подписчикам. Берётся раньше мьютекса шины.
	roomsMu sync.Mutex

	mu          sync.Mutex
	running     bool
	handshakes  int
	sweepCancel context.CancelFunc
}

// NewClient собирает клиент; сеть не трогается до Start.
func NewClient(cfg config.TwitchConfig, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		log: logger.With().Str("component", "twitch").Logger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	connOpts := append([]irc.Option{irc.WithStateFunc(c.onState)}, c.connOpts...)
	c.conn = irc.NewConn(c, logger, connOpts...)
	c.limiter = irc.NewLimiter(c.conn, cfg.RateLimit, logger)
	c.rooms = NewRegistry(logger, c.now)
	c.bus = events.NewBus(logger)
	return c
}

// Start подключается к серверу. Повторный вызов после исчерпания попыток
// переподключения запускает соединение заново.
func (c *Client) Start() {
	c.mu.Lock()
	if c.running && c.conn.State() != irc.Disconnected {
		c.mu.Unlock()
		return
	}
	if !c.running {
		ctx, cancel := context.WithCancel(context.Background())
		c.sweepCancel = cancel
		c.running = true
		go c.rooms.RunSweeper(ctx, SweepEvery)
	}
	c.mu.Unlock()

	c.limiter.Resume()
	c.log.Info().Str("host", c.cfg.Host).Int("port", c.cfg.Port).Bool("anonymous", c.cfg.Anonymous()).Msg("twitch: старт соединения")
	c.conn.Connect(c.cfg.Host, c.cfg.Port)
}

// Stop закрывает соединение и останавливает фоновые задачи. Подписки сохраняются.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.sweepCancel
	c.sweepCancel = nil
	c.mu.Unlock()

	c.conn.Close()
	c.limiter.Stop()
	c.limiter.Clear()
	if cancel != nil {
		cancel()
	}
}

// Close останавливает клиент и снимает все подписки.
func (c *Client) Close() {
	c.Stop()
	c.bus.Close()
}

// Run подключает клиента и блокируется до отмены контекста.
func (c *Client) Run(ctx context.Context) error {
	c.Start()
	<-ctx.Done()
	c.Stop()
	return ctx.Err()
}

// Subscribe регистрирует обработчик событий. Новому подписчику сразу
// досылаются ChannelJoined по всем каналам и RoomStateChanged по комнатам,
// для которых уже известен room-id.
func (c *Client) Subscribe(h events.Handler, kinds ...events.Kind) events.Token {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	return c.bus.SubscribeWithReplay(h, c.replay, kinds...)
}

func (c *Client) replay() []events.Event {
	var out []events.Event
	for _, st := range c.rooms.States() {
		out = append(out, events.ChannelJoined{Channel: st.Channel})
		if st.RoomID != "" {
			out = append(out, events.RoomStateChanged{Channel: st.Channel, State: st})
		}
	}
	return out
}

// Unsubscribe снимает подписку.
func (c *Client) Unsubscribe(tok events.Token) bool {
	return c.bus.Unsubscribe(tok)
}

// JoinRoom заходит в канал. До подключения канал только запоминается,
// JOIN уйдёт вместе с рукопожатием.
func (c *Client) JoinRoom(channel string) {
	ch := NormalizeChannel(channel)
	if ch == "" {
		return
	}
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	if !c.rooms.Join(ch) {
		return
	}
	if c.ready.Load() {
		c.limiter.Enqueue("JOIN #" + ch)
	}
	c.bus.Publish(events.ChannelJoined{Channel: ch})
}

// PartRoom выходит из канала и забывает его состояние.
func (c *Client) PartRoom(channel string) {
	ch := NormalizeChannel(channel)
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	if !c.rooms.Part(ch) {
		return
	}
	if c.ready.Load() {
		c.limiter.Enqueue("PART #" + ch)
	}
	c.bus.Publish(events.ChannelParted{Channel: ch})
}

// SendChatMessage пишет в основной канал из учётных данных.
func (c *Client) SendChatMessage(text string) error {
	return c.Say(c.cfg.Channel, text)
}

// Say пишет сообщение в канал через ограничитель.
func (c *Client) Say(channel, text string) error {
	ch := NormalizeChannel(channel)
	if ch == "" {
		return ErrNoChannel
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	c.limiter.Enqueue("PRIVMSG #" + ch + " :" + text)
	return nil
}

// SendRawMessage ставит произвольную строку в очередь ограничителя.
func (c *Client) SendRawMessage(line string) {
	c.limiter.Enqueue(line)
}

// RoomState возвращает снимок состояния канала.
func (c *Client) RoomState(channel string) (model.RoomState, bool) {
	return c.rooms.State(channel)
}

// Channels возвращает каналы, в которые зашёл клиент.
func (c *Client) Channels() []string {
	return c.rooms.Channels()
}

// Users возвращает закешированных пользователей канала.
func (c *Client) Users(channel string) []model.ChatUser {
	return c.rooms.Users(channel)
}

// State возвращает состояние транспорта.
func (c *Client) State() irc.State {
	return c.conn.State()
}

// QueueLen возвращает число строк, ждущих ограничителя.
func (c *Client) QueueLen() int {
	return c.limiter.Len()
}

func (c *Client) onState(s irc.State) {
	if s != irc.Connected {
		c.ready.Store(false)
	}
}

// OnConnect отправляет рукопожатие и заходит в каналы. При переподключении
// повторно заходит во все каналы реестра, а не в список из конфигурации.
// Строки, оставшиеся в очереди от прошлой сессии, выбрасываются.
func (c *Client) OnConnect() {
	if n := c.limiter.Clear(); n > 0 {
		c.log.Debug().Int("dropped", n).Msg("twitch: очередь прошлой сессии сброшена")
	}
	c.limiter.Enqueue("CAP REQ :" + Capabilities)
	if c.cfg.Anonymous() {
		c.limiter.Enqueue("NICK justinfan" + strconv.Itoa(1000+rand.IntN(999000)))
	} else {
		token := c.cfg.OAuthToken
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		c.limiter.Enqueue("PASS " + token)
		c.limiter.Enqueue("NICK " + strings.ToLower(c.cfg.Username))
	}

	c.mu.Lock()
	reconnect := c.handshakes > 0
	c.handshakes++
	c.mu.Unlock()

	// снимок каналов и ready меняются атомарно относительно JoinRoom/PartRoom
	c.roomsMu.Lock()
	if !reconnect {
		for _, ch := range c.cfg.Channels {
			if ch := NormalizeChannel(ch); ch != "" && c.rooms.Join(ch) {
				c.bus.Publish(events.ChannelJoined{Channel: ch})
			}
		}
	}
	channels := c.rooms.Channels()
	for _, ch := range channels {
		c.limiter.Enqueue("JOIN #" + ch)
	}
	c.ready.Store(true)
	c.roomsMu.Unlock()

	c.log.Info().Strs("channels", channels).Bool("reconnect", reconnect).Msg("twitch: подключено, подписка на каналы")
	c.bus.Publish(events.Connected{})
}

// OnFrame разбирает одну строку и публикует события.
func (c *Client) OnFrame(frame []byte) {
	frame = bytes.TrimPrefix(frame, bom)
	line := string(frame)
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "\uFFFD")
	}
	c.bus.Publish(events.RawFrameReceived{Line: line})

	// PING уходит мимо ограничителя
	if line == "PING" || strings.HasPrefix(line, "PING ") {
		if err := c.conn.Send("PONG" + line[len("PING"):]); err != nil {
			c.log.Debug().Err(err).Msg("twitch: не удалось ответить на PING")
		}
		return
	}

	msg := ParseLine(line)
	_, span := telemetry.StartSpan(context.Background(), "twitch.decode", attribute.String("irc.command", msg.Command))
	defer span.End()

	switch msg.Command {
	case "ROOMSTATE":
		c.handleRoomState(msg)
	case "PRIVMSG":
		c.handlePrivmsg(msg)
	case "JOIN":
		c.handleJoin(msg)
	case "PART":
		c.handlePart(msg)
	case "001", "GLOBALUSERSTATE":
		// сервер принял логин: только теперь рукопожатие считается успешным
		c.conn.ResetReconnects()
	case "RECONNECT":
		c.log.Info().Msg("twitch: сервер запросил RECONNECT")
	case "NOTICE":
		c.log.Debug().Str("channel", msg.Channel()).Str("msg_id", msg.Tags["msg-id"]).Str("text", msg.Trailing).Msg("twitch: NOTICE")
	}
}

func (c *Client) handleRoomState(msg Line) {
	channel := msg.Channel()
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	state, ok := c.rooms.UpdateState(channel, msg.Tags)
	if !ok {
		c.log.Debug().Str("channel", channel).Msg("twitch: ROOMSTATE для неизвестного канала")
		return
	}
	telemetry.IncKind(string(events.KindRoomState))
	c.bus.Publish(events.RoomStateChanged{Channel: channel, State: state})
}

func (c *Client) handlePrivmsg(msg Line) {
	channel := msg.Channel()
	content, action := splitAction(msg.Trailing)

	m := model.TwitchMessage{
		Channel:    channel,
		Content:    content,
		Action:     action,
		Raw:        msg.Raw,
		ReceivedAt: c.now().UTC(),
	}
	for key, value := range msg.Tags {
		switch key {
		case "bits":
			if n, err := strconv.Atoi(value); err == nil {
				m.GaveBits = true
				m.BitAmount = n
			}
		case "emotes":
			m.Emotes = ParseEmotes(value)
		case "id":
			m.ID = value
		}
	}
	m.Author = c.rooms.FindOrCreateUser(channel, msg.Tags, msg.Nick(), true)
	if state, ok := c.rooms.State(channel); ok {
		m.Room = &state
	}

	telemetry.IncKind(string(events.KindMessage))
	c.bus.Publish(events.MessageReceived{Message: m})
}

func (c *Client) handleJoin(msg Line) {
	telemetry.IncKind(string(events.KindChatJoined))
	c.bus.Publish(events.ChatJoined{Channel: msg.Channel(), Nick: msg.Nick(), Raw: msg.Raw})
}

func (c *Client) handlePart(msg Line) {
	user, ok := c.rooms.RemoveUser(msg.Channel(), msg.Nick())
	if !ok {
		return
	}
	telemetry.IncKind(string(events.KindChatParted))
	c.bus.Publish(events.ChatParted{Channel: msg.Channel(), User: user})
}
