// Package journal persists one row per file extraction so operators can
// audit what was processed, with which method, and how it went.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"docpipe/internal/config"
	"docpipe/internal/logger"
	"docpipe/internal/models"
)

const DefaultRetention = 30 * 24 * time.Hour

type Journal struct {
	db *sql.DB
}

// Entry is one extraction outcome.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id"`
	FileID    string    `json:"file_id"`
	FileName  string    `json:"file_name"`
	Method    string    `json:"method"`
	Kind      string    `json:"kind"`
	Pages     int       `json:"pages"`
	Duration  int64     `json:"duration_ms"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the extractions table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS extractions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				file_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				method TEXT NOT NULL,
				kind TEXT NOT NULL,
				pages INTEGER NOT NULL DEFAULT 0,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_extractions_session ON extractions(user_id, chat_id)`,
			`CREATE INDEX IF NOT EXISTS idx_extractions_created ON extractions(created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS extractions (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				user_id VARCHAR(255) NOT NULL,
				chat_id VARCHAR(255) NOT NULL,
				file_id VARCHAR(255) NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				method VARCHAR(50) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				pages INT NOT NULL DEFAULT 0,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				error TEXT,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_extractions_session (user_id, chat_id),
				INDEX idx_extractions_created (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record inserts one extraction outcome.
func (j *Journal) Record(ctx context.Context, key models.SessionKey, entry Entry) error {
	now := time.Now().UTC()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO extractions (user_id, chat_id, file_id, file_name, method, kind, pages, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.UserID, key.ChatID, entry.FileID, entry.FileName, entry.Method, entry.Kind,
		entry.Pages, entry.Duration, entry.Error, now,
	)
	if err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

// ListRecent returns the latest extraction rows for a session.
func (j *Journal) ListRecent(ctx context.Context, key models.SessionKey, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, file_id, file_name, method, kind, pages, duration_ms, COALESCE(error, ''), created_at
		 FROM extractions WHERE user_id = ? AND chat_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		key.UserID, key.ChatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list extractions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChatID, &e.FileID, &e.FileName,
			&e.Method, &e.Kind, &e.Pages, &e.Duration, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan extraction: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StartPruner deletes rows older than the retention window on a ticker.
func (j *Journal) StartPruner(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	go j.pruneLoop(ctx, interval, retention)
}

func (j *Journal) pruneLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.prune(retention); err != nil {
				logger.Error().Err(err).Msg("prune extraction journal failed")
			}
		}
	}
}

func (j *Journal) prune(retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention)
	_, err := j.db.Exec(`DELETE FROM extractions WHERE created_at <= ?`, cutoff)
	return err
}
