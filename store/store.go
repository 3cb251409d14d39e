package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store configuration constants.
const (
	// dirPermissions is the permission mode for the store directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the store file.
	filePermissions = 0600

	// defaultBusyTimeout is the maximum time to wait for a database lock.
	defaultBusyTimeout = 5 * time.Second

	// connectionTimeout is the timeout for verifying connectivity.
	connectionTimeout = 5 * time.Second
)

// schema holds one row per in-flight packet, keyed the way paho keys its
// stores ("i.<msgid>" outbound, "o.<msgid>" inbound).
const schema = `
CREATE TABLE IF NOT EXISTS inflight_messages (
	key       TEXT PRIMARY KEY,
	packet    BLOB NOT NULL,
	stored_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Config contains message store configuration options.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// The directory will be created if it doesn't exist.
	Path string

	// BusyTimeout is the maximum time to wait for a database lock.
	// Zero means 5s.
	BusyTimeout time.Duration

	// Logger receives store failures. Nil discards them.
	Logger Logger
}

// Store is a SQLite-backed paho message store.
//
// Open and Close follow paho's semantics: they bracket one broker
// connection and only toggle availability. The database handle lives for
// the process; release it with Shutdown.
type Store struct {
	db   *sql.DB
	path string
	log  Logger

	mu     sync.RWMutex
	opened bool
}

// New opens (creating if needed) the store database and prepares the
// schema. The returned store is not yet opened in the paho sense; paho
// calls Open on connect.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = nopLogger{}
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("store: creating directory: %w", err)
	}

	// WAL keeps the paho keepalive goroutine's reads from blocking
	// acknowledgement writes.
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path,
		cfg.BusyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("store: verifying connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("store: preparing schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Intentional: first run creates file later

	return &Store{db: db, path: cfg.Path, log: log}, nil
}

// Open marks the store available. Part of the paho Store contract; called
// by paho on every connect.
func (s *Store) Open() {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
}

// Close marks the store unavailable without releasing the database, so a
// reconnect of the same client can resume. Part of the paho Store
// contract; called by paho on disconnect.
func (s *Store) Close() {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
}

// Put persists one packet under key, replacing any previous packet.
func (s *Store) Put(key string, message packets.ControlPacket) {
	if !s.available("put") {
		return
	}
	var buf bytes.Buffer
	if err := message.Write(&buf); err != nil {
		s.log.Error("message store: encoding packet", "key", key, "error", err)
		return
	}
	_, err := s.db.Exec(
		"INSERT INTO inflight_messages (key, packet) VALUES (?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET packet = excluded.packet, stored_at = CURRENT_TIMESTAMP",
		key, buf.Bytes(),
	)
	if err != nil {
		s.log.Error("message store: storing packet", "key", key, "error", err)
	}
}

// Get returns the packet stored under key, or nil when there is none.
func (s *Store) Get(key string) packets.ControlPacket {
	if !s.available("get") {
		return nil
	}
	var blob []byte
	err := s.db.QueryRow("SELECT packet FROM inflight_messages WHERE key = ?", key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Error("message store: loading packet", "key", key, "error", err)
		return nil
	}
	packet, err := packets.ReadPacket(bytes.NewReader(blob))
	if err != nil {
		s.log.Error("message store: decoding packet", "key", key, "error", err)
		return nil
	}
	return packet
}

// All returns every stored key.
func (s *Store) All() []string {
	if !s.available("all") {
		return nil
	}
	rows, err := s.db.Query("SELECT key FROM inflight_messages ORDER BY stored_at")
	if err != nil {
		s.log.Error("message store: listing keys", "error", err)
		return nil
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.log.Error("message store: scanning key", "error", err)
			return keys
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		s.log.Error("message store: iterating keys", "error", err)
	}
	return keys
}

// Del removes the packet stored under key, if any.
func (s *Store) Del(key string) {
	if !s.available("del") {
		return
	}
	if _, err := s.db.Exec("DELETE FROM inflight_messages WHERE key = ?", key); err != nil {
		s.log.Error("message store: deleting packet", "key", key, "error", err)
	}
}

// Reset removes every stored packet. Paho calls it when starting a clean
// session.
func (s *Store) Reset() {
	if !s.available("reset") {
		return
	}
	if _, err := s.db.Exec("DELETE FROM inflight_messages"); err != nil {
		s.log.Error("message store: resetting", "error", err)
	}
}

// Path returns the filesystem path of the store database.
func (s *Store) Path() string {
	return s.path
}

// Shutdown releases the database handle. The store must not be used
// afterwards.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}
	return nil
}

// available reports whether the store is open, logging the dropped
// operation when it is not.
func (s *Store) available(op string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.opened {
		s.log.Warn("message store: operation on closed store", "op", op)
		return false
	}
	return true
}
