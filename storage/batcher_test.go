package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-client/model"
)

type stubSender struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
}

type stubBatchResults struct{}

func (s *stubSender) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	s.mu.Lock()
	defer s.mu.Unlock()

	copyQueries := append([]*pgx.QueuedQuery(nil), b.QueuedQueries...)
	s.batches = append(s.batches, copyQueries)
	return &stubBatchResults{}
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *stubBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (s *stubBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (s *stubBatchResults) QueryRow() pgx.Row                { return nil }
func (s *stubBatchResults) Close() error                     { return nil }

func testMessage(id string) model.TwitchMessage {
	return model.TwitchMessage{
		ID:      id,
		Channel: "ch",
		Content: "hi",
		Author: model.ChatUser{
			UserID:      "u",
			DisplayName: "disp",
			Badges:      []model.Badge{{Name: "subscriber", Version: 12}},
		},
		Raw:        "@id=" + id + " :disp!disp@disp.tmi.twitch.tv PRIVMSG #ch :hi",
		ReceivedAt: time.Now(),
	}
}

func TestBatcherFlushesOnMaxBatch(t *testing.T) {
	sender := &stubSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      2,
		FlushEvery:    time.Hour,
		ChanBuffer:    10,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, zerolog.Nop())

	require.True(t, batcher.Enqueue(testMessage("1")))
	require.True(t, batcher.Enqueue(testMessage("2")))

	waitForBatches(t, sender, 1)
}

func TestBatcherFlushesOnTimer(t *testing.T) {
	sender := &stubSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      10,
		FlushEvery:    50 * time.Millisecond,
		ChanBuffer:    10,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, zerolog.Nop())

	batcher.Enqueue(testMessage("3"))

	waitForBatches(t, sender, 1)
}

func TestBatcherFlushesOnCancel(t *testing.T) {
	sender := &stubSender{}
	ctx, cancel := context.WithCancel(context.Background())

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      10,
		FlushEvery:    time.Hour,
		ChanBuffer:    10,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, zerolog.Nop())

	batcher.Enqueue(testMessage("4"))
	// даём run забрать сообщение из канала до отмены
	require.Eventually(t, func() bool { return len(batcher.input) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-batcher.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("batcher did not stop")
	}
	assert.Equal(t, 1, sender.count())
}

func TestBatcherDropsWhenFull(t *testing.T) {
	b := &Batcher{
		input: make(chan model.TwitchMessage, 1),
		log:   zerolog.Nop(),
	}

	assert.True(t, b.Enqueue(testMessage("5")))
	assert.False(t, b.Enqueue(testMessage("6")))
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestMessageArgs(t *testing.T) {
	msg := testMessage("7")
	msg.GaveBits = true
	msg.BitAmount = 100
	msg.Emotes = []model.TwitchEmote{{ID: "25", Spans: []model.EmoteSpan{{Start: "0", End: "4"}, {Start: "6", End: "10"}}}}
	msg.Room = &model.RoomState{Channel: "ch", RoomID: "42"}

	args := messageArgs(msg)
	require.Len(t, args, 17)

	assert.Equal(t, "7", *args[0].(*string))
	assert.Equal(t, "42", *args[2].(*string))

	var badges map[string]int
	require.NoError(t, json.Unmarshal(args[6].([]byte), &badges))
	assert.Equal(t, map[string]int{"subscriber": 12}, badges)

	var emotes map[string][]string
	require.NoError(t, json.Unmarshal(args[7].([]byte), &emotes))
	assert.Equal(t, []string{"0-4", "6-10"}, emotes["25"])

	assert.Equal(t, 100, *args[14].(*int))
}

func TestMessageArgsNullsEmptyFields(t *testing.T) {
	args := messageArgs(model.TwitchMessage{Channel: "ch", Content: "x"})

	assert.Nil(t, args[0].(*string))
	assert.Nil(t, args[2].(*string))
	assert.Nil(t, args[3].(*string))
	assert.Nil(t, args[14].(*int))
	assert.False(t, args[16].(time.Time).IsZero())
}

func waitForBatches(t *testing.T, sender *stubSender, expected int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.count() >= expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least %d batches, got %d", expected, sender.count())
}
