package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-client/events"
	"twitch-chat-client/model"
)

type published struct {
	channel string
	data    []byte
}

type mockRedis struct {
	pingErr error
	pubErr  error
	out     []published
	closed  bool
}

func (m *mockRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.out = append(m.out, published{channel: channel, data: message.([]byte)})
	cmd := redis.NewIntCmd(ctx)
	if m.pubErr != nil {
		cmd.SetErr(m.pubErr)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (m *mockRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.pingErr != nil {
		cmd.SetErr(m.pingErr)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func (m *mockRedis) Close() error {
	m.closed = true
	return nil
}

func startedBridge(t *testing.T, m *mockRedis) *RedisBridge {
	t.Helper()
	b := newRedisBridge(m, "twitch:chat:", zerolog.Nop())
	b.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, b.Start(context.Background()))
	return b
}

func TestRedisBridgePublishesEnvelope(t *testing.T) {
	m := &mockRedis{}
	b := startedBridge(t, m)

	msg := model.TwitchMessage{ID: "abc", Channel: "forsen", Content: "hello"}
	require.NoError(t, b.Handle(events.MessageReceived{Message: msg}))
	require.Len(t, m.out, 1)
	assert.Equal(t, "twitch:chat:message", m.out[0].channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(m.out[0].data, &env))
	assert.Equal(t, b.InstanceID(), env.InstanceID)
	assert.Equal(t, events.KindMessage, env.Kind)
	assert.Equal(t, "forsen", env.Channel)
	assert.True(t, env.At.Equal(b.now()))

	var decoded events.MessageReceived
	require.NoError(t, json.Unmarshal(env.Event, &decoded))
	assert.Equal(t, "hello", decoded.Message.Content)
	assert.Equal(t, "abc", decoded.Message.ID)
}

func TestRedisBridgeSkipsRawFrames(t *testing.T) {
	m := &mockRedis{}
	b := startedBridge(t, m)

	require.NoError(t, b.Handle(events.RawFrameReceived{Line: "PING :tmi.twitch.tv"}))
	assert.Empty(t, m.out)
}

func TestRedisBridgeInactiveUntilStarted(t *testing.T) {
	m := &mockRedis{pingErr: errors.New("refused")}
	b := newRedisBridge(m, "p:", zerolog.Nop())

	require.Error(t, b.Start(context.Background()))
	assert.False(t, b.Available())
	require.NoError(t, b.Handle(events.ChannelJoined{Channel: "x"}))
	assert.Empty(t, m.out)
}

func TestRedisBridgePublishError(t *testing.T) {
	m := &mockRedis{pubErr: errors.New("down")}
	b := startedBridge(t, m)

	err := b.Handle(events.ChannelParted{Channel: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twitch:chat:channel_parted")
}

func TestRedisBridgeStop(t *testing.T) {
	m := &mockRedis{}
	b := startedBridge(t, m)

	require.NoError(t, b.Stop())
	assert.True(t, m.closed)
	assert.False(t, b.Available())
}
