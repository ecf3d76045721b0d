package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-client/model"
)

type stubExec struct {
	sql      []string
	args     [][]any
	failAt   int
	deadline bool
}

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	_, s.deadline = ctx.Deadline()
	s.sql = append(s.sql, sql)
	s.args = append(s.args, args)
	if s.failAt > 0 && len(s.sql) == s.failAt {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.CommandTag{}, nil
}

func TestSaveRoomState(t *testing.T) {
	db := &stubExec{}
	state := model.NewRoomState("forsen")
	state.RoomID = "22484632"
	state.SlowMode = 10

	require.NoError(t, SaveRoomState(context.Background(), db, state, time.Second))
	require.Len(t, db.args, 1)
	assert.True(t, db.deadline)

	args := db.args[0]
	assert.Equal(t, "forsen", args[0])
	assert.Equal(t, "22484632", *args[1].(*string))
	assert.Nil(t, args[2].(*string))
	assert.Equal(t, -1, args[4])
	assert.Equal(t, 10, args[6])
}

func TestEnsureSchemaStopsOnError(t *testing.T) {
	db := &stubExec{failAt: 2}

	err := EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 1")
	assert.Len(t, db.sql, 2)
}

func TestEnsureSchemaRunsAll(t *testing.T) {
	db := &stubExec{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.Len(t, db.sql, len(schema))
}
