package irc

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-client/telemetry"
)

// DefaultRateLimit задаёт минимальный интервал между исходящими строками.
const DefaultRateLimit = 1500 * time.Millisecond

// LineSender принимает строки от ограничителя. Реализуется Conn.
type LineSender interface {
	Send(line string) error
}

// Limiter пропускает исходящие строки не чаще одной за interval,
// остальные ставит в очередь FIFO. Enqueue никогда не блокируется.
type Limiter struct {
	sender   LineSender
	interval time.Duration
	log      zerolog.Logger

	now   func() time.Time
	after func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	last    time.Time
	queue   []string
	pending *time.Timer
	// gen растёт при каждой отмене таймера; сработавший, но опоздавший к
	// мьютексу fire видит чужое поколение и ничего не делает.
	gen     uint64
	stopped bool
}

// NewLimiter создаёт ограничитель. interval <= 0 означает DefaultRateLimit.
func NewLimiter(sender LineSender, interval time.Duration, logger zerolog.Logger) *Limiter {
	if interval <= 0 {
		interval = DefaultRateLimit
	}
	return &Limiter{
		sender:   sender,
		interval: interval,
		log:      logger.With().Str("component", "limiter").Logger(),
		now:      time.Now,
		after:    time.AfterFunc,
	}
}

// Enqueue отправляет строку сразу, если с прошлой отправки прошло не меньше
// интервала и очередь пуста; иначе ставит её в конец очереди.
func (l *Limiter) Enqueue(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.queue) == 0 && l.pending == nil && (l.last.IsZero() || now.Sub(l.last) >= l.interval) {
		l.advance(now)
		l.transmit(line)
		return
	}

	l.queue = append(l.queue, line)
	telemetry.SetGauge(telemetry.OutboundQueueDepth, float64(len(l.queue)))
	if l.pending == nil && !l.stopped {
		l.scheduleLocked(now)
	}
}

// advance сдвигает отметку последней отправки на interval, но не раньше now.
// После простоя отметкой становится now.
func (l *Limiter) advance(now time.Time) {
	next := l.last.Add(l.interval)
	if l.last.IsZero() || now.After(next) {
		next = now
	}
	l.last = next
}

// scheduleLocked взводит единственный таймер на момент last+interval.
func (l *Limiter) scheduleLocked(now time.Time) {
	wait := l.last.Add(l.interval).Sub(now)
	if wait < 0 {
		wait = 0
	}
	gen := l.gen
	l.pending = l.after(wait, func() { l.fire(gen) })
}

// cancelLocked отменяет таймер и делает недействительным уже сработавший.
func (l *Limiter) cancelLocked() {
	if l.pending != nil {
		l.pending.Stop()
		l.pending = nil
	}
	l.gen++
}

// fire отправляет ровно одну строку из головы очереди и, если очередь не
// пуста, планирует следующую.
func (l *Limiter) fire(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen {
		return
	}
	l.pending = nil
	if l.stopped || len(l.queue) == 0 {
		return
	}

	line := l.queue[0]
	l.queue[0] = ""
	l.queue = l.queue[1:]
	telemetry.SetGauge(telemetry.OutboundQueueDepth, float64(len(l.queue)))

	now := l.now()
	l.advance(now)
	l.transmit(line)

	if len(l.queue) > 0 {
		l.scheduleLocked(now)
	}
}

func (l *Limiter) transmit(line string) {
	if err := l.sender.Send(line); err != nil {
		telemetry.Inc(telemetry.OutboundFailed)
		l.log.Warn().Err(err).Str("command", command(line)).Msg("limiter: строка не отправлена")
		return
	}
	telemetry.Inc(telemetry.OutboundSent)
}

// Len возвращает число строк в очереди.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Clear выбрасывает очередь и возвращает число выброшенных строк.
func (l *Limiter) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	l.queue = nil
	l.cancelLocked()
	telemetry.SetGauge(telemetry.OutboundQueueDepth, 0)
	return n
}

// Stop отменяет отложенную отправку. Очередь сохраняется до Resume.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.cancelLocked()
}

// Resume снова разрешает отложенные отправки после Stop.
func (l *Limiter) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		return
	}
	l.stopped = false
	if len(l.queue) > 0 && l.pending == nil {
		l.scheduleLocked(l.now())
	}
}

// command возвращает имя команды без аргументов, чтобы не писать в лог токены.
func command(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			return line[:i]
		}
	}
	return line
}
