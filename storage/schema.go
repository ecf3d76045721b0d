package storage

import (
	"context"
	"fmt"
)

// schema создаёт таблицы, если их ещё нет. Повторный запуск безопасен.
var schema = []string{
	`create table if not exists chat_messages (
  id             bigserial primary key,
  message_id     text unique,
  channel        text not null,
  room_id        text,
  user_id        text,
  display_name   text,
  text           text not null,
  badges         jsonb not null default '{}',
  emotes         jsonb not null default '{}',
  color          text,
  is_mod         boolean not null default false,
  is_subscriber  boolean not null default false,
  is_broadcaster boolean not null default false,
  is_vip         boolean not null default false,
  is_action      boolean not null default false,
  bits           integer,
  raw            text not null,
  received_at    timestamptz not null
)`,
	`create index if not exists chat_messages_channel_received_idx on chat_messages (channel, received_at)`,
	`create table if not exists room_states (
  channel          text primary key,
  room_id          text,
  broadcaster_lang text,
  emote_only       boolean not null default false,
  followers_only   integer not null default -1,
  r9k              boolean not null default false,
  slow             integer not null default 0,
  subs_only        boolean not null default false,
  updated_at       timestamptz not null
)`,
}

// EnsureSchema применяет schema по порядку.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: statement %d: %w", i, err)
		}
	}
	return nil
}
