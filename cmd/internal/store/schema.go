package store

import (
	"context"
	"fmt"
	"strings"
)

// schemaTables lists the DDL in dependency order. "{{ID}}" is the dialect's auto-increment key.
var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS chat_user (
		username   TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		nickname   TEXT NOT NULL DEFAULT '',
		avatar     TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		last_login BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_group (
		group_id     TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		member_count INTEGER NOT NULL DEFAULT 0,
		creator_id   TEXT NOT NULL DEFAULT '',
		created_at   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_member (
		group_id TEXT NOT NULL REFERENCES chat_group (group_id),
		username TEXT NOT NULL,
		user_id  TEXT NOT NULL DEFAULT '',
		nickname TEXT NOT NULL DEFAULT '',
		UNIQUE (group_id, username)
	)`,
	`CREATE INDEX IF NOT EXISTS group_member_username_idx ON group_member (username)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
		id            {{ID}},
		sender_name   TEXT NOT NULL DEFAULT '',
		receiver_name TEXT NOT NULL DEFAULT '',
		group_id      TEXT NOT NULL DEFAULT '',
		send_type     SMALLINT NOT NULL,
		payload_type  SMALLINT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		send_time     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_message_receiver_idx ON chat_message (receiver_name, id)`,
	`CREATE INDEX IF NOT EXISTS chat_message_group_idx ON chat_message (group_id, id)`,
	`CREATE TABLE IF NOT EXISTS chat_notification (
		id            {{ID}},
		sender_name   TEXT NOT NULL DEFAULT '',
		receiver_name TEXT NOT NULL DEFAULT '',
		group_id      TEXT NOT NULL DEFAULT '',
		send_type     SMALLINT NOT NULL,
		payload_type  SMALLINT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		send_time     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_notification_receiver_idx ON chat_notification (receiver_name, id)`,
	`CREATE INDEX IF NOT EXISTS chat_notification_group_idx ON chat_notification (group_id, id)`,
	`CREATE TABLE IF NOT EXISTS ack_cursor (
		username             TEXT PRIMARY KEY,
		last_message_id      BIGINT NOT NULL DEFAULT 0,
		last_notification_id BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS access_record (
		id          {{ID}},
		resource_id TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		username    TEXT NOT NULL,
		state       SMALLINT NOT NULL,
		access_time BIGINT NOT NULL
	)`,
}

// Schema returns the DDL statements for d.
func Schema(d Dialect) ([]string, error) {
	var id string
	switch d {
	case DialectPostgres:
		id = "BIGSERIAL PRIMARY KEY"
	case DialectSQLite:
		// AUTOINCREMENT forbids id reuse after deletes, keeping ids strictly increasing.
		id = "INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return nil, fmt.Errorf("store: unknown dialect %q", d)
	}

	out := make([]string, len(schemaTables))
	for i, ddl := range schemaTables {
		out[i] = strings.ReplaceAll(ddl, "{{ID}}", id)
	}
	return out, nil
}

// Migrate creates every missing table and index in one transaction.
func Migrate(ctx context.Context, s Store) error {
	ddl, err := Schema(s.Dialect())
	if err != nil {
		return err
	}
	stmts := make([]Statement, len(ddl))
	for i, q := range ddl {
		stmts[i] = Exec(q)
	}
	if _, err := s.RunTransaction(ctx, stmts); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
