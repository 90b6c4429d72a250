package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultDBName = "jurisline.db"

type Config struct {
	// Dir holds the database file. Empty means the current directory.
	Dir         string
	BusyTimeout time.Duration
}

// Path returns the database file path for dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, defaultDBName)
}

// EnsureDir creates the database directory if missing.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DSN builds the connection string with WAL journaling and foreign keys on.
func DSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		path, busy.Milliseconds())
}

// Open opens the SQLite database, creating its directory when needed.
func Open(cfg Config) (*sql.DB, error) {
	dir, err := EnsureDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	conn, err := sql.Open("sqlite", DSN(Path(dir), cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database %s: %w", Path(dir), err)
	}
	return conn, nil
}

// Size returns the combined size of the database file and its WAL.
func Size(dir string) int64 {
	var total int64
	for _, p := range []string{Path(dir), Path(dir) + "-wal"} {
		if st, err := os.Stat(p); err == nil {
			total += st.Size()
		}
	}
	return total
}
