package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"poweronbot/internal/config"
	logx "poweronbot/pkg/logx"
)

// sqliteBackend keeps one JSON record per chat row. Same document semantics
// as the file backend; SQLite's journal provides the atomic replace.
type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg config.StorageConfig, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busy, err := config.ParseDurationField("storage.busy_timeout", cfg.BusyTimeout); err == nil && busy > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS subscribers (
		chat_id INTEGER PRIMARY KEY,
		record  TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteBackend{db: db, log: log}, nil
}

func (b *sqliteBackend) Load() (map[int64]*Record, error) {
	rows, err := b.db.Query(`SELECT chat_id, record FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := map[int64]*Record{}
	for rows.Next() {
		var (
			chatID int64
			raw    string
		)
		if err := rows.Scan(&chatID, &raw); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			// One bad row should not cost the whole store.
			b.log.Warn("skipping unreadable subscriber row", logx.Int64("chat_id", chatID), logx.Err(err))
			continue
		}
		recs[chatID] = &r
	}
	return recs, rows.Err()
}

func (b *sqliteBackend) Save(recs map[int64]*Record) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM subscribers`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO subscribers(chat_id, record) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for chatID, r := range recs {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(chatID, string(raw)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
