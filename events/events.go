// Package events описывает события чат-клиента и шину, доставляющую их подписчикам.
package events

import "twitch-chat-client/model"

// Kind — тип события.
type Kind string

const (
	KindConnected     Kind = "connected"
	KindRawFrame      Kind = "raw_frame"
	KindRoomState     Kind = "room_state"
	KindMessage       Kind = "message"
	KindChatJoined    Kind = "chat_joined"
	KindChatParted    Kind = "chat_parted"
	KindChannelJoined Kind = "channel_joined"
	KindChannelParted Kind = "channel_parted"
)

// Event — любое событие клиента.
type Event interface {
	Kind() Kind
}

// Connected — сокет подключён и рукопожатие отправлено.
type Connected struct{}

// RawFrameReceived — каждая принятая строка как есть.
type RawFrameReceived struct {
	Line string `json:"line"`
}

// RoomStateChanged — снимок комнаты после применения ROOMSTATE.
type RoomStateChanged struct {
	Channel string          `json:"channel"`
	State   model.RoomState `json:"state"`
}

// MessageReceived — разобранный PRIVMSG.
type MessageReceived struct {
	Message model.TwitchMessage `json:"message"`
}

// ChatJoined — в канал зашёл пользователь (JOIN от сервера).
type ChatJoined struct {
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	Raw     string `json:"raw"`
}

// ChatParted — пользователь из кеша комнаты вышел из канала.
type ChatParted struct {
	Channel string         `json:"channel"`
	User    model.ChatUser `json:"user"`
}

// ChannelJoined — клиент зашёл в канал.
type ChannelJoined struct {
	Channel string `json:"channel"`
}

// ChannelParted — клиент вышел из канала.
type ChannelParted struct {
	Channel string `json:"channel"`
}

func (Connected) Kind() Kind        { return KindConnected }
func (RawFrameReceived) Kind() Kind { return KindRawFrame }
func (RoomStateChanged) Kind() Kind { return KindRoomState }
func (MessageReceived) Kind() Kind  { return KindMessage }
func (ChatJoined) Kind() Kind       { return KindChatJoined }
func (ChatParted) Kind() Kind       { return KindChatParted }
func (ChannelJoined) Kind() Kind    { return KindChannelJoined }
func (ChannelParted) Kind() Kind    { return KindChannelParted }
