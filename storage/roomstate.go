package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"twitch-chat-client/model"
)

// Execer выполняет запрос без результата (pgxpool.Pool, pgx.Tx).
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SaveRoomState сохраняет последний снимок настроек канала с учётом заданного таймаута.
func SaveRoomState(ctx context.Context, db Execer, state model.RoomState, timeout time.Duration) error {
	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.Exec(dbCtx, `
insert into room_states (
  channel, room_id, broadcaster_lang, emote_only, followers_only, r9k, slow, subs_only, updated_at
) values ($1, $2, $3, $4, $5, $6, $7, $8, now())
on conflict (channel) do update set
  room_id = excluded.room_id,
  broadcaster_lang = excluded.broadcaster_lang,
  emote_only = excluded.emote_only,
  followers_only = excluded.followers_only,
  r9k = excluded.r9k,
  slow = excluded.slow,
  subs_only = excluded.subs_only,
  updated_at = excluded.updated_at;
`, state.Channel, nullable(state.RoomID), nullable(state.BroadcasterLang), state.EmoteOnly,
		state.FollowersOnly, state.R9K, state.SlowMode, state.SubsOnly)

	return err
}
