// Package store implements the durable, single-writer/multiple-reader
// local database of spec.md §4.6: WAL-mode SQLite holding messages,
// conversations, users, groups and friends, with upsert/dedup
// semantics and paged/time/seq/keyword queries.
//
// Grounded on the teacher pack's rustyguts-bken server/store package:
// same ordered-migrations-over-schema_migrations approach, same
// database/sql + modernc.org/sqlite driver, same WAL + busy_timeout
// pragmas — adapted from server-wide settings/channels/bans tables to
// the messaging domain.
package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var migrations = []string{
	// v1 — messages
	`CREATE TABLE IF NOT EXISTS messages (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id        TEXT NOT NULL DEFAULT '',
		client_msg_id     TEXT NOT NULL DEFAULT '',
		conversation_id   TEXT NOT NULL,
		conversation_type INTEGER NOT NULL DEFAULT 0,
		sender_id         TEXT NOT NULL DEFAULT '',
		receiver_id       TEXT NOT NULL DEFAULT '',
		group_id          TEXT NOT NULL DEFAULT '',
		message_type      TEXT NOT NULL DEFAULT '',
		content           BLOB,
		status            INTEGER NOT NULL DEFAULT 0,
		direction         INTEGER NOT NULL DEFAULT 0,
		seq               INTEGER NOT NULL DEFAULT 0,
		send_time         INTEGER NOT NULL DEFAULT 0,
		server_time       INTEGER NOT NULL DEFAULT 0,
		create_time       INTEGER NOT NULL DEFAULT 0,
		is_revoked        INTEGER NOT NULL DEFAULT 0,
		revoked_by        TEXT NOT NULL DEFAULT '',
		revoked_time      INTEGER NOT NULL DEFAULT 0,
		read_by           TEXT NOT NULL DEFAULT '',
		read_time         INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_message_id
		ON messages(message_id) WHERE message_id != ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_msg_id
		ON messages(client_msg_id) WHERE client_msg_id != ''`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conv_create_time
		ON messages(conversation_id, create_time)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conv_seq
		ON messages(conversation_id, seq)`,
	// v2 — conversations
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id   TEXT PRIMARY KEY,
		conversation_type INTEGER NOT NULL DEFAULT 0,
		peer_or_group_id  TEXT NOT NULL DEFAULT '',
		last_message      BLOB,
		last_message_time INTEGER NOT NULL DEFAULT 0,
		unread_count      INTEGER NOT NULL DEFAULT 0,
		last_read_time    INTEGER NOT NULL DEFAULT 0,
		is_pinned         INTEGER NOT NULL DEFAULT 0,
		is_muted          INTEGER NOT NULL DEFAULT 0,
		draft             TEXT NOT NULL DEFAULT '',
		update_time       INTEGER NOT NULL DEFAULT 0
	)`,
	// v3 — users
	`CREATE TABLE IF NOT EXISTS users (
		user_id     TEXT PRIMARY KEY,
		nickname    TEXT NOT NULL DEFAULT '',
		avatar      TEXT NOT NULL DEFAULT '',
		phone       TEXT NOT NULL DEFAULT '',
		remark      TEXT NOT NULL DEFAULT '',
		update_time INTEGER NOT NULL DEFAULT 0
	)`,
	// v4 — groups + membership
	`CREATE TABLE IF NOT EXISTS groups (
		group_id     TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		owner_id     TEXT NOT NULL DEFAULT '',
		member_count INTEGER NOT NULL DEFAULT 0,
		update_time  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id  TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		nickname  TEXT NOT NULL DEFAULT '',
		join_time INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, user_id)
	)`,
	// v5 — friends
	`CREATE TABLE IF NOT EXISTS friends (
		owner_user_id  TEXT NOT NULL,
		friend_user_id TEXT NOT NULL,
		remark         TEXT NOT NULL DEFAULT '',
		create_time    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (owner_user_id, friend_user_id)
	)`,
	// v6 — sync watermark
	`CREATE TABLE IF NOT EXISTS sync_config (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_seq  INTEGER NOT NULL DEFAULT 0,
		last_sync_time INTEGER NOT NULL DEFAULT 0,
		is_syncing     INTEGER NOT NULL DEFAULT 0
	)`,
	// v7 — WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store is the per-logged-in-user durable database handle.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral storage (tests). log
// follows the rest of the tree's constructor-injection convention
// (SPEC_FULL.md §4.15) rather than reaching for a global logger.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// database/sql's pool would otherwise let concurrent writers hit
	// SQLITE_BUSY; SQLite is single-writer regardless, so cap to one
	// connection. Reads and writes all go through it, one at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Warn().Err(err).Msg("store: WAL mode pragma failed, continuing without it")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Warn().Err(err).Msg("store: busy_timeout pragma failed, continuing without it")
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		log.Warn().Err(err).Msg("store: foreign_keys pragma failed, continuing without it")
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint collapses the WAL journal into the main database file
// (spec.md §4.6 "A periodic checkpoint collapses the journal").
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.log.Info().Int("version", v).Msg("store: applied migration")
	}
	return nil
}
