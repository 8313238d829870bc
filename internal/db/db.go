package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"meteo-ingest/internal/config"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverCgo  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

func Open(cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if cfg.LogSQL && cfg.Driver == DriverCgo {
		connector, err := NewLoggingConnector(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("db connector: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		db, err = sql.Open(cfg.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(cfg config.Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := cfg.Path
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." && !strings.Contains(dir, "?") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	var params []string
	switch cfg.Driver {
	case DriverPure:
		params = []string{
			"_pragma=foreign_keys(1)",
			"_pragma=busy_timeout(5000)",
			"_pragma=journal_mode(WAL)",
		}
	default:
		params = []string{
			"_foreign_keys=on",
			"_busy_timeout=5000",
			"_journal_mode=WAL",
		}
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// ErrClosed is returned by Handle.Pool when no pool is open, either after
// Close or after a Reset that failed to reconnect.
var ErrClosed = errors.New("db: no open connection pool")

// Handle owns the connection pool and can throw it away and start over.
//
// A *sql.DB returned by Pool is closed by the next Reset, so a caller holding
// it across a Reset sees "sql: database is closed". Work that may overlap a
// Reset goes through Use, which keeps the pool open until fn returns.
type Handle struct {
	cfg    config.Config
	logger *slog.Logger

	mu sync.RWMutex
	db *sql.DB
}

func OpenHandle(cfg config.Config, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Handle{cfg: cfg, logger: logger, db: db}, nil
}

func (h *Handle) Pool() (*sql.DB, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return nil, ErrClosed
	}
	return h.db, nil
}

// Use runs fn against the current pool. Reset and Close wait for fn to
// return. fn must not call Use, Reset or Close on the same Handle.
func (h *Handle) Use(fn func(pool *sql.DB) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return ErrClosed
	}
	return fn(h.db)
}

// Reset closes the current pool, including connections that may be in a
// broken state, and opens a fresh one.
func (h *Handle) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := Close(h.db); err != nil {
		h.logger.Warn("db close during reset", "error", err)
	}
	h.db = nil

	db, err := Open(h.cfg, h.logger)
	if err != nil {
		return fmt.Errorf("db reopen: %w", err)
	}
	h.db = db
	h.logger.Info("db connection pool recreated")
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := Close(h.db)
	h.db = nil
	return err
}
