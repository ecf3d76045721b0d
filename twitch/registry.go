package twitch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-client/model"
	"twitch-chat-client/telemetry"
)

const (
	// InactiveAfter — сколько пользователь может молчать, прежде чем его вычистят из кеша.
	InactiveAfter = 30 * time.Minute
	// SweepEvery задаёт период чистки кеша пользователей.
	SweepEvery = 30 * time.Minute
)

// Registry хранит состояние зашедших каналов и кеш недавно писавших пользователей.
// В больших каналах Twitch не присылает JOIN/PART обычных зрителей, поэтому
// кеш пополняется только сообщениями и чистится по времени.
type Registry struct {
	log zerolog.Logger
	now func() time.Time

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu    sync.Mutex
	state model.RoomState
	users map[string]*cachedUser
}

type cachedUser struct {
	user     model.ChatUser
	lastSeen time.Time
}

// NewRegistry создаёт пустой реестр. now == nil означает time.Now.
func NewRegistry(logger zerolog.Logger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		log:   logger.With().Str("component", "registry").Logger(),
		now:   now,
		rooms: make(map[string]*room),
	}
}

// Join заводит комнату. Возвращает false, если она уже есть.
func (r *Registry) Join(channel string) bool {
	channel = NormalizeChannel(channel)
	if channel == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[channel]; ok {
		return false
	}
	r.rooms[channel] = &room{
		state: model.NewRoomState(channel),
		users: make(map[string]*cachedUser),
	}
	return true
}

// Part удаляет комнату вместе с кешем пользователей.
func (r *Registry) Part(channel string) bool {
	channel = NormalizeChannel(channel)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[channel]; !ok {
		return false
	}
	delete(r.rooms, channel)
	return true
}

// Has сообщает, зашли ли мы в канал.
func (r *Registry) Has(channel string) bool {
	return r.room(channel) != nil
}

// Channels возвращает отсортированный список каналов.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for ch := range r.rooms {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// State возвращает снимок состояния комнаты.
func (r *Registry) State(channel string) (model.RoomState, bool) {
	rm := r.room(channel)
	if rm == nil {
		return model.RoomState{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.state, true
}

// States возвращает снимки всех комнат в порядке Channels.
func (r *Registry) States() []model.RoomState {
	var out []model.RoomState
	for _, ch := range r.Channels() {
		if st, ok := r.State(ch); ok {
			out = append(out, st)
		}
	}
	return out
}

// UpdateState применяет теги ROOMSTATE к комнате и возвращает новый снимок.
func (r *Registry) UpdateState(channel string, tags Tags) (model.RoomState, bool) {
	rm := r.room(channel)
	if rm == nil {
		return model.RoomState{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	applyRoomState(&rm.state, tags)
	return rm.state, true
}

// FindOrCreateUser возвращает пользователя из кеша канала или собирает нового
// из тегов. Новый пользователь кешируется, только если cache=true (PRIVMSG).
// Найденному в кеше обновляется время активности.
func (r *Registry) FindOrCreateUser(channel string, tags Tags, nick string, cache bool) model.ChatUser {
	key := userKey(tags, nick)
	rm := r.room(channel)
	if rm == nil || key == "" {
		return buildUser(tags, nick)
	}

	now := r.now()
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if cu, ok := rm.users[key]; ok {
		if cache {
			cu.lastSeen = now
		}
		return cu.user.Clone()
	}

	u := buildUser(tags, nick)
	if cache {
		rm.users[key] = &cachedUser{user: u.Clone(), lastSeen: now}
	}
	return u
}

// RemoveUser убирает пользователя из кеша по нику (PART несёт только логин).
func (r *Registry) RemoveUser(channel, nick string) (model.ChatUser, bool) {
	rm := r.room(channel)
	if rm == nil || nick == "" {
		return model.ChatUser{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for key, cu := range rm.users {
		if strings.EqualFold(cu.user.DisplayName, nick) {
			delete(rm.users, key)
			return cu.user.Clone(), true
		}
	}
	return model.ChatUser{}, false
}

// Users возвращает копии закешированных пользователей канала.
func (r *Registry) Users(channel string) []model.ChatUser {
	rm := r.room(channel)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]model.ChatUser, 0, len(rm.users))
	for _, cu := range rm.users {
		out = append(out, cu.user.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Sweep удаляет пользователей, молчащих не меньше InactiveAfter, кроме
// модераторов и стримера. Возвращает число удалённых.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	removed := 0
	for _, rm := range rooms {
		rm.mu.Lock()
		for key, cu := range rm.users {
			if cu.user.IsMod || cu.user.IsBroadcaster {
				continue
			}
			if now.Sub(cu.lastSeen) >= InactiveAfter {
				delete(rm.users, key)
				removed++
			}
		}
		rm.mu.Unlock()
	}
	telemetry.Add(telemetry.UsersEvicted, removed)
	return removed
}

// RunSweeper чистит кеш каждые every до отмены ctx.
func (r *Registry) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = SweepEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.log.Debug().Int("removed", n).Msg("registry: неактивные пользователи удалены")
			}
		}
	}
}

func (r *Registry) room(channel string) *room {
	channel = NormalizeChannel(channel)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[channel]
}
