package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Badge — значок пользователя в чате (модератор, подписчик и т.д.) с версией.
type Badge struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// ChatUser описывает автора сообщения так, как его видит канал.
type ChatUser struct {
	DisplayName   string  `json:"display_name"`
	Color         string  `json:"color,omitempty"`
	UserID        string  `json:"user_id,omitempty"`
	IsMod         bool    `json:"is_mod"`
	IsBroadcaster bool    `json:"is_broadcaster"`
	IsSubscriber  bool    `json:"is_subscriber"`
	IsVIP         bool    `json:"is_vip"`
	Badges        []Badge `json:"badges,omitempty"`
}

// Key возвращает ключ пользователя в кеше комнаты: user-id, иначе display name в нижнем регистре.
func (u ChatUser) Key() string {
	if u.UserID != "" {
		return u.UserID
	}
	return strings.ToLower(u.DisplayName)
}

// HasBadge сообщает, есть ли у пользователя значок с указанным именем.
func (u ChatUser) HasBadge(name string) bool {
	for _, b := range u.Badges {
		if b.Name == name {
			return true
		}
	}
	return false
}

// Clone возвращает копию пользователя с собственным срезом значков.
func (u ChatUser) Clone() ChatUser {
	if u.Badges != nil {
		u.Badges = append([]Badge(nil), u.Badges...)
	}
	return u
}

// Значения FollowersOnly.
const (
	FollowersOnlyDisabled = -1
	FollowersOnlyOpen     = 0
)

// RoomState — настройки канала из ROOMSTATE. Возвращается вызывающему как снимок.
type RoomState struct {
	Channel         string `json:"channel"`
	BroadcasterLang string `json:"broadcaster_lang,omitempty"`
	EmoteOnly       bool   `json:"emote_only"`
	// FollowersOnly: -1 выключено, 0 любой фолловер, N>0 минут после фоллова.
	FollowersOnly int    `json:"followers_only"`
	R9K           bool   `json:"r9k"`
	SlowMode      int    `json:"slow"`
	SubsOnly      bool   `json:"subs_only"`
	RoomID        string `json:"room_id,omitempty"`
}

// NewRoomState создаёт состояние комнаты со значениями по умолчанию.
func NewRoomState(channel string) RoomState {
	return RoomState{Channel: channel, FollowersOnly: FollowersOnlyDisabled}
}

func (r RoomState) String() string {
	return fmt.Sprintf("#%s lang=%q emote-only=%t followers-only=%d r9k=%t slow=%d subs-only=%t room-id=%s",
		r.Channel, r.BroadcasterLang, r.EmoteOnly, r.FollowersOnly, r.R9K, r.SlowMode, r.SubsOnly, r.RoomID)
}

// EmoteSpan — одно вхождение эмоута: смещения в кодовых точках, как пришли в теге.
type EmoteSpan struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Bounds переводит смещения в числа.
func (s EmoteSpan) Bounds() (start, end int, err error) {
	if start, err = strconv.Atoi(s.Start); err != nil {
		return 0, 0, fmt.Errorf("emote span start %q: %w", s.Start, err)
	}
	if end, err = strconv.Atoi(s.End); err != nil {
		return 0, 0, fmt.Errorf("emote span end %q: %w", s.End, err)
	}
	return start, end, nil
}

// TwitchEmote — эмоут и все его вхождения в сообщении в порядке появления.
type TwitchEmote struct {
	ID    string      `json:"id"`
	Spans []EmoteSpan `json:"spans"`
}

// Text возвращает текст i-го вхождения эмоута в content.
func (e TwitchEmote) Text(content string, i int) (string, bool) {
	if i < 0 || i >= len(e.Spans) {
		return "", false
	}
	start, end, err := e.Spans[i].Bounds()
	if err != nil {
		return "", false
	}
	runes := []rune(content)
	if start < 0 || end < start || end >= len(runes) {
		return "", false
	}
	return string(runes[start : end+1]), true
}

// TwitchMessage — нормализованное сообщение PRIVMSG.
type TwitchMessage struct {
	ID         string        `json:"id,omitempty"`
	Channel    string        `json:"channel"`
	Content    string        `json:"content"`
	Author     ChatUser      `json:"author"`
	GaveBits   bool          `json:"gave_bits"`
	BitAmount  int           `json:"bit_amount,omitempty"`
	Emotes     []TwitchEmote `json:"emotes,omitempty"`
	Action     bool          `json:"action"`
	Room       *RoomState    `json:"room,omitempty"`
	Raw        string        `json:"raw"`
	ReceivedAt time.Time     `json:"received_at"`
}
