// Package irc реализует транспорт строкового протокола Twitch IRC: TCP-сокет,
// сборку строк из потока байт, переподключение с линейным бэкоффом и
// ограничитель частоты исходящих строк.
package irc

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-client/telemetry"
)

// State — состояние соединения.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

const (
	// ReconnectLimit: сколько неудачных попыток подряд допускается до отказа.
	ReconnectLimit = 20
	// BackoffStep умножается на счётчик переподключений.
	BackoffStep = 500 * time.Millisecond

	defaultDialTimeout = 10 * time.Second
)

// ErrNotConnected возвращается Send, когда живой сессии нет.
var ErrNotConnected = errors.New("irc: not connected")

// Handler получает события соединения. OnFrame вызывается строго по одному
// кадру за раз в порядке прихода байт.
type Handler interface {
	OnConnect()
	OnFrame(frame []byte)
}

// DialFunc открывает TCP-соединение.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option настраивает Conn.
type Option func(*Conn)

// WithDialer подменяет функцию установки соединения.
func WithDialer(dial DialFunc) Option {
	return func(c *Conn) { c.dial = dial }
}

// WithBackoff задаёт шаг линейного бэкоффа.
func WithBackoff(step time.Duration) Option {
	return func(c *Conn) { c.backoff = step }
}

// WithReconnectLimit задаёт потолок переподключений.
func WithReconnectLimit(n int) Option {
	return func(c *Conn) { c.limit = n }
}

// WithStateFunc подписывает наблюдателя на смену состояния.
// Вызывается под внутренней блокировкой: обратно в Conn ходить нельзя.
func WithStateFunc(fn func(State)) Option {
	return func(c *Conn) { c.onState = fn }
}

// Conn ведёт машину состояний соединения поверх одного TCP-сокета.
type Conn struct {
	handler Handler
	log     zerolog.Logger
	dial    DialFunc
	backoff time.Duration
	limit   int
	onState func(State)

	state atomic.Int32

	mu         sync.Mutex
	sess       *session
	addr       string
	gen        uint64
	reconnects int
	first      bool
	closed     bool
	timer      *time.Timer
}

// NewConn создаёт соединение; сеть не трогается до Connect.
func NewConn(handler Handler, logger zerolog.Logger, opts ...Option) *Conn {
	d := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}
	c := &Conn{
		handler: handler,
		log:     logger.With().Str("component", "irc").Logger(),
		dial:    d.DialContext,
		backoff: BackoffStep,
		limit:   ReconnectLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect начинает асинхронное подключение к host:port. Повторный вызов
// перезапускает машину: старая сессия закрывается, счётчик обнуляется.
func (c *Conn) Connect(host string, port int) {
	c.mu.Lock()
	old := c.sess
	c.sess = nil
	c.addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.closed = false
	c.reconnects = 0
	c.first = true
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	if old != nil {
		old.close()
	}
	go c.dialLoop(gen)
}

// Close закрывает соединение без переподключения.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.stopTimerLocked()
	s := c.sess
	c.sess = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if s != nil {
		s.close()
	}
	c.log.Info().Msg("irc: соединение закрыто")
}

// Send асинхронно отправляет строку, дописывая CR LF. Не блокируется.
func (c *Conn) Send(line string) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.send(line)
}

// State возвращает текущее состояние.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Reconnects возвращает текущее значение счётчика переподключений.
func (c *Conn) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// ResetReconnects обнуляет счётчик; вызывается после успешного рукопожатия.
func (c *Conn) ResetReconnects() {
	c.mu.Lock()
	c.reconnects = 0
	c.mu.Unlock()
}

func (c *Conn) dialLoop(gen uint64) {
	for {
		c.mu.Lock()
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			return
		}
		addr := c.addr
		c.mu.Unlock()

		c.log.Info().Str("addr", addr).Msg("irc: подключение к серверу")
		ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		nc, err := c.dial(ctx, "tcp", addr)
		cancel()

		c.mu.Lock()
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			if nc != nil {
				_ = nc.Close()
			}
			return
		}

		if err != nil {
			telemetry.Inc(telemetry.ConnectFailures)
			if c.first {
				c.first = false
			} else {
				c.reconnects++
			}
			if c.reconnects >= c.limit {
				c.giveUpLocked()
				c.mu.Unlock()
				return
			}
			attempt := c.reconnects
			c.mu.Unlock()
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("irc: не удалось подключиться, повтор")
			continue
		}

		s := newSession(c, nc)
		c.sess = s
		c.first = false
		c.setStateLocked(Connected)
		c.mu.Unlock()

		c.log.Info().Str("addr", addr).Msg("irc: подключено, начинаем чтение")
		go s.writeLoop()
		go s.readLoop()
		c.handler.OnConnect()
		return
	}
}

// disconnect рвёт сессию s и планирует переподключение. Вызовы от
// устаревших сессий игнорируются.
func (c *Conn) disconnect(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		s.close()
		return
	}
	c.sess = nil
	s.close()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.reconnects++
	telemetry.Inc(telemetry.Reconnects)
	if c.reconnects >= c.limit {
		c.giveUpLocked()
		c.mu.Unlock()
		return
	}

	delay := time.Duration(c.reconnects) * c.backoff
	gen := c.gen
	c.setStateLocked(Disconnected)
	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.setStateLocked(Connecting)
		c.mu.Unlock()
		c.dialLoop(gen)
	})
	attempt := c.reconnects
	c.mu.Unlock()

	c.log.Warn().Err(cause).Int("attempt", attempt).Dur("backoff", delay).Msg("irc: соединение потеряно, переподключение")
}

func (c *Conn) giveUpLocked() {
	c.setStateLocked(Disconnected)
	c.log.Error().Int("attempts", c.reconnects).Msg("irc: достигнут лимит переподключений, соединение брошено")
}

func (c *Conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conn) setStateLocked(s State) {
	c.state.Store(int32(s))
	telemetry.SetGauge(telemetry.ConnectionState, float64(s))
	if c.onState != nil {
		c.onState(s)
	}
}

// session — одна жизнь сокета: буфер чтения, очередь принятых кусков,
// сборщик строк и очередь на запись. Пересоздаётся при каждом подключении.
type session struct {
	conn   *Conn
	nc     net.Conn
	framer *Framer

	mu      sync.Mutex
	pending [][]byte
	reading bool
	out     [][]byte
	closed  bool

	outReady  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(c *Conn, nc net.Conn) *session {
	return &session{
		conn:     c,
		nc:       nc,
		framer:   NewFramer(BufferSize),
		outReady: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.out = nil
		s.mu.Unlock()
		close(s.done)
		_ = s.nc.Close()
	})
}

func (s *session) readLoop() {
	buf := make([]byte, BufferSize)
	for {
		n, err := s.nc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.enqueue(chunk)
		}
		switch {
		case err == nil && n > 0:
			continue
		case errors.Is(err, net.ErrClosed):
			// сокет закрыли мы сами
			return
		case err == nil:
			err = io.ErrNoProgress
		}
		s.conn.disconnect(s, err)
		return
	}
}

// enqueue кладёт кусок в очередь и при необходимости поднимает воркер.
// Воркер на сессию всегда один.
func (s *session) enqueue(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, chunk)
	if !s.reading {
		s.reading = true
		go s.process()
	}
}

func (s *session) process() {
	for {
		s.mu.Lock()
		if s.closed || len(s.pending) == 0 {
			s.reading = false
			s.mu.Unlock()
			return
		}
		chunk := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.framer.Write(chunk)
		for {
			frame, ok, err := s.framer.Next()
			if err != nil {
				telemetry.Inc(telemetry.FramesMalformed)
				s.conn.log.Debug().Int("buffered", s.framer.Buffered()).Msg("irc: битый пакет, разрываем соединение")
				s.framer.Reset()
				s.mu.Lock()
				s.reading = false
				s.mu.Unlock()
				s.conn.disconnect(s, err)
				return
			}
			if !ok {
				break
			}
			telemetry.Inc(telemetry.FramesReceived)
			s.dispatch(frame)
		}
	}
}

func (s *session) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.conn.log.Error().Interface("panic", r).Bytes("frame", frame).Msg("irc: паника при обработке кадра")
		}
	}()
	s.conn.handler.OnFrame(frame)
}

func (s *session) send(line string) error {
	line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	data := make([]byte, 0, len(line)+len(terminator))
	data = append(data, line...)
	data = append(data, terminator...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.out = append(s.out, data)
	s.mu.Unlock()

	select {
	case s.outReady <- struct{}{}:
	default:
	}
	return nil
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.outReady:
		}

		s.mu.Lock()
		batch := s.out
		s.out = nil
		s.mu.Unlock()

		for _, data := range batch {
			if _, err := s.nc.Write(data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.conn.log.Debug().Err(err).Msg("irc: ошибка отправки")
					s.conn.disconnect(s, err)
				}
				return
			}
		}
	}
}
