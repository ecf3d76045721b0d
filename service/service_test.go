package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-client/events"
	"twitch-chat-client/model"
)

type stubQueue struct {
	full bool
	got  []model.TwitchMessage
}

func (q *stubQueue) Enqueue(msg model.TwitchMessage) bool {
	if q.full {
		return false
	}
	q.got = append(q.got, msg)
	return true
}

func newTestHandler(q *stubQueue, saveErr error) (*Handler, *[]model.RoomState) {
	var saved []model.RoomState
	h := &Handler{
		batcher: q,
		saveState: func(_ context.Context, st model.RoomState) error {
			saved = append(saved, st)
			return saveErr
		},
		log: zerolog.Nop(),
	}
	return h, &saved
}

func TestHandlerRoutesMessages(t *testing.T) {
	q := &stubQueue{}
	h, saved := newTestHandler(q, nil)

	require.NoError(t, h.Handle(events.MessageReceived{Message: model.TwitchMessage{Channel: "a", Content: "hi"}}))
	require.Len(t, q.got, 1)
	assert.Equal(t, "hi", q.got[0].Content)
	assert.Empty(t, *saved)
}

func TestHandlerSavesRoomState(t *testing.T) {
	q := &stubQueue{}
	h, saved := newTestHandler(q, nil)

	st := model.NewRoomState("a")
	st.RoomID = "1"
	require.NoError(t, h.Handle(events.RoomStateChanged{Channel: "a", State: st}))
	require.Len(t, *saved, 1)
	assert.Equal(t, "1", (*saved)[0].RoomID)
}

func TestHandlerReturnsSaveError(t *testing.T) {
	h, _ := newTestHandler(&stubQueue{}, errors.New("db down"))

	err := h.Handle(events.RoomStateChanged{Channel: "a", State: model.NewRoomState("a")})
	assert.EqualError(t, err, "db down")
}

func TestHandlerIgnoresOtherEvents(t *testing.T) {
	q := &stubQueue{full: true}
	h, saved := newTestHandler(q, nil)

	require.NoError(t, h.Handle(events.ChatJoined{Channel: "a", Nick: "b"}))
	require.NoError(t, h.Handle(events.MessageReceived{}))
	assert.Empty(t, q.got)
	assert.Empty(t, *saved)
	assert.ElementsMatch(t, []events.Kind{events.KindMessage, events.KindRoomState}, h.Kinds())
}

func TestLogHandlerWritesEvents(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogHandler(zerolog.New(&buf))

	require.NoError(t, h(events.MessageReceived{Message: model.TwitchMessage{
		Channel: "forsen",
		Content: "Kappa",
		Author:  model.ChatUser{DisplayName: "SomeUser"},
	}}))
	require.NoError(t, h(events.RoomStateChanged{Channel: "forsen", State: model.NewRoomState("forsen")}))
	require.NoError(t, h(events.ChannelJoined{Channel: "xqc"}))
	require.NoError(t, h(events.RawFrameReceived{Line: "PING :tmi.twitch.tv"}))

	out := buf.String()
	assert.Contains(t, out, `"message":"Kappa"`)
	assert.Contains(t, out, `"user":"SomeUser"`)
	assert.Contains(t, out, `"message":"состояние комнаты"`)
	assert.Contains(t, out, `"message":"канал добавлен"`)
	assert.NotContains(t, out, "PING")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}
